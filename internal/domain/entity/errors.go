package entity

import "errors"

// ErrInvalidRecord is returned when an approval record breaks the sign-off invariants
var ErrInvalidRecord = errors.New("invalid approval record")
