package presence

import "time"

// SessionState tracks how far a pairing has progressed on the server.
type SessionState int

const (
	// SessionReserved is a pairing made by matchmaking that has not yet seen
	// an offer.
	SessionReserved SessionState = iota
	// SessionActive is a pairing whose first offer has been relayed.
	SessionActive
)

func (s SessionState) String() string {
	switch s {
	case SessionReserved:
		return "reserved"
	case SessionActive:
		return "active"
	default:
		return "unknown"
	}
}

// Session is the explicit pairing of two connected users.
type Session struct {
	ID string

	A string
	B string

	// Requester is the handle whose request created the session.
	Requester string

	State     SessionState
	CreatedAt time.Time
}

// Other returns the participant that is not handle.
func (s *Session) Other(handle string) string {
	if s.A == handle {
		return s.B
	}
	return s.A
}

// Has reports whether handle participates in the session.
func (s *Session) Has(handle string) bool {
	return s.A == handle || s.B == handle
}
