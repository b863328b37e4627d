package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrSignerConflict is returned when a signer already holds another role on the record
	ErrSignerConflict = errors.New("signer already holds another role")

	// ErrUnknownRole is returned for a role outside the sign-off chain
	ErrUnknownRole = errors.New("unknown role")
)
