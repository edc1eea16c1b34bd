// Package negotiation drives one client through matchmaking and the
// offer/answer handshake with its partner.
//
// A Machine owns the call lifecycle. Signaling messages, user actions,
// handshake callbacks and the retry timer are all delivered to it as Events
// and processed one at a time on the goroutine running Run.
package negotiation

import "time"

// State is the client's position in the call lifecycle.
type State int

const (
	Idle State = iota
	Requesting
	Matched
	Initiating
	Retrying
	Answering
	Connected
	Ended
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Matched:
		return "matched"
	case Initiating:
		return "initiating"
	case Retrying:
		return "retrying"
	case Answering:
		return "answering"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// paired reports whether the client has a partner in this state.
func (s State) paired() bool {
	switch s {
	case Matched, Initiating, Retrying, Answering, Connected, Failed:
		return true
	}
	return false
}

// negotiating reports whether a handshake attempt may be in flight.
func (s State) negotiating() bool {
	switch s {
	case Initiating, Retrying, Answering:
		return true
	}
	return false
}

// Role decides which side of a match sends the offer.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleAnswerer:
		return "answerer"
	default:
		return "none"
	}
}

// RoleFor breaks the symmetry of a match: the lexicographically smaller
// handle initiates.
func RoleFor(self, partner string) Role {
	if self < partner {
		return RoleInitiator
	}
	return RoleAnswerer
}

// Snapshot is a consistent copy of the machine's observable fields.
type Snapshot struct {
	State   State
	Role    Role
	Partner string

	// Attempt counts handshakes within the current match, starting at 1.
	Attempt int

	// ConnectedAt is set while Connected and kept through Ended.
	ConnectedAt time.Time
}
