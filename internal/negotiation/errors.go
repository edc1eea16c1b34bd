package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccess        = errors.New("media access denied")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrHandshake          = errors.New("handshake failed")
	ErrSignaling          = errors.New("signaling server error")
)

type NegotiationError struct {
	Op      string
	Err     error
	Details string
}

func (e *NegotiationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *NegotiationError {
	return &NegotiationError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *NegotiationError {
	return &NegotiationError{Op: op, Err: err, Details: details}
}

// NoticeKind classifies user-visible notices.
type NoticeKind int

const (
	NoticeNoPartner NoticeKind = iota
	NoticePartnerLeft
	NoticePartnerEnded
	NoticePartnerBusy
	NoticeMediaAccess
	NoticeNegotiationFailed
	NoticeConnectionLost
	NoticeSignaling
)

// Notice is a message for the user. Err is set for failures.
type Notice struct {
	Kind NoticeKind
	Text string
	Err  error
}

func (n Notice) String() string {
	if n.Err != nil {
		return fmt.Sprintf("%s: %v", n.Text, n.Err)
	}
	return n.Text
}
