package presence

import "errors"

// Registry errors.
var (
	ErrDuplicateHandle = errors.New("handle already registered")
	ErrUnknownHandle   = errors.New("handle not registered")
	ErrAlreadyPaired   = errors.New("user already paired")
	ErrSelfPairing     = errors.New("cannot pair a user with itself")
)
