package negotiation

import "encoding/json"

// EventKind enumerates everything the machine reacts to.
type EventKind int

const (
	// User actions
	EventStart EventKind = iota
	EventEnd
	EventSkip

	// Signaling server
	EventPartnerFound
	EventNoPartner
	EventOfferReceived
	EventAnswerReceived
	EventCandidateReceived
	EventRemoteEnded
	EventPartnerLeft
	EventPartnerBusy

	// Handshake collaborator and retry timer; these carry a Tag
	EventLocalCandidate
	EventEstablished
	EventHandshakeFailed
	EventTimeout
)

var eventNames = map[EventKind]string{
	EventStart:             "start",
	EventEnd:               "end",
	EventSkip:              "skip",
	EventPartnerFound:      "partner-found",
	EventNoPartner:         "no-partner",
	EventOfferReceived:     "offer-received",
	EventAnswerReceived:    "answer-received",
	EventCandidateReceived: "candidate-received",
	EventRemoteEnded:       "remote-ended",
	EventPartnerLeft:       "partner-left",
	EventPartnerBusy:       "partner-busy",
	EventLocalCandidate:    "local-candidate",
	EventEstablished:       "established",
	EventHandshakeFailed:   "handshake-failed",
	EventTimeout:           "timeout",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one input to the machine.
type Event struct {
	Kind EventKind

	// From is the sending handle of signaling events.
	From string

	// Payload is an opaque offer, answer or candidate.
	Payload json.RawMessage

	// Attempt is the sender's offer cycle for signaled handshake payloads.
	// Zero means unnumbered.
	Attempt int

	// Tag identifies the handshake attempt a collaborator or timer event
	// belongs to. Events whose tag is not the live attempt are dropped.
	Tag uint64

	Err error
}
