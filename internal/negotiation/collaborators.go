package negotiation

import "encoding/json"

// Signaler sends requests to the signaling server. Handshake payloads carry
// the attempt number so the partner can drop those of a discarded attempt.
type Signaler interface {
	FindPartner() error
	NextPartner(current string) error
	CallUser(target string, offer json.RawMessage, attempt int) error
	AcceptCall(target string, answer json.RawMessage, attempt int) error
	SendCandidate(target string, candidate json.RawMessage, attempt int) error
	EndCall(target string) error
}

// Stream is the local media captured for a call.
type Stream interface {
	Close() error
}

// Media acquires local media and builds handshakes on top of it.
type Media interface {
	Acquire() (Stream, error)
	NewHandshake(stream Stream, events HandshakeEvents) (Handshake, error)
}

// RemoteKind names the remote payloads a Handshake accepts after creation.
type RemoteKind string

const (
	RemoteAnswer    RemoteKind = "answer"
	RemoteCandidate RemoteKind = "candidate"
)

// Handshake is one offer/answer attempt. Its payloads are opaque to the
// machine.
type Handshake interface {
	Offer() (json.RawMessage, error)
	Accept(offer json.RawMessage) (json.RawMessage, error)
	Remote(kind RemoteKind, payload json.RawMessage) error
	Close() error
}

// HandshakeEvents receives asynchronous reports from a Handshake. Calls may
// come from any goroutine.
type HandshakeEvents interface {
	Candidate(payload json.RawMessage)
	Established()
	Failed(err error)
}

// Observer is told about every state change and notice. It is called on the
// machine goroutine and must not block.
type Observer interface {
	StateChanged(s Snapshot)
	Notice(n Notice)
}

type nopObserver struct{}

func (nopObserver) StateChanged(Snapshot) {}
func (nopObserver) Notice(Notice)         {}

// attemptEvents tags collaborator callbacks with the attempt they belong to.
type attemptEvents struct {
	m   *Machine
	tag uint64
}

func (a attemptEvents) Candidate(payload json.RawMessage) {
	a.m.Post(Event{Kind: EventLocalCandidate, Tag: a.tag, Payload: payload})
}

func (a attemptEvents) Established() {
	a.m.Post(Event{Kind: EventEstablished, Tag: a.tag})
}

func (a attemptEvents) Failed(err error) {
	a.m.Post(Event{Kind: EventHandshakeFailed, Tag: a.tag, Err: err})
}
