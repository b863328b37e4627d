package service

import (
	"errors"
	"fmt"

	"github.com/garyjia/kiuva-approval/internal/domain/entity"
)

var (
	// ErrNotFound is returned when the subject does not exist
	ErrNotFound = errors.New("subject not found")

	// ErrInvalidTransition is returned when a signature would break the stage order
	ErrInvalidTransition = errors.New("invalid approval transition")

	// ErrConflictingSigner is returned when the signer already holds another role
	ErrConflictingSigner = errors.New("conflicting signer")

	// ErrContention is returned when concurrent writers kept winning until the retry budget ran out
	ErrContention = errors.New("approval record contention")

	// ErrTimeout is returned when the caller's deadline passed inside the retry loop.
	// It also matches ErrContention.
	ErrTimeout = errors.New("approval deadline exceeded")

	// ErrStoreUnavailable is returned when the store cannot be reached or returns garbage
	ErrStoreUnavailable = errors.New("approval store unavailable")

	// ErrInvalidRequest is returned for malformed input
	ErrInvalidRequest = errors.New("invalid approval request")

	// ErrSubjectExists is returned when registering an id that is taken
	ErrSubjectExists = errors.New("subject already exists")
)

// ErrorKind classifies an ApprovalError
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindConflictingSigner ErrorKind = "conflicting_signer"
	KindContention        ErrorKind = "contention"
	KindTimeout           ErrorKind = "timeout"
	KindStoreUnavailable  ErrorKind = "store_unavailable"
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindSubjectExists     ErrorKind = "subject_exists"
)

var kindSentinels = map[ErrorKind]error{
	KindNotFound:          ErrNotFound,
	KindInvalidTransition: ErrInvalidTransition,
	KindConflictingSigner: ErrConflictingSigner,
	KindContention:        ErrContention,
	KindTimeout:           ErrTimeout,
	KindStoreUnavailable:  ErrStoreUnavailable,
	KindInvalidRequest:    ErrInvalidRequest,
	KindSubjectExists:     ErrSubjectExists,
}

// ApprovalError carries the context of a failed approval operation.
// Match it with errors.Is against the sentinels above.
type ApprovalError struct {
	Kind      ErrorKind
	SubjectID string
	Role      entity.Role

	// MissingRole is the earlier role that must be signed first (InvalidTransition)
	MissingRole entity.Role
	// HeldRole is the role the signer already holds (ConflictingSigner)
	HeldRole entity.Role
	// Attempts is the number of load/swap rounds made (Contention, Timeout)
	Attempts int

	Err error
}

func (e *ApprovalError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("subject %s not found", e.SubjectID)
	case KindContention:
		return fmt.Sprintf("subject %s: record kept changing, gave up after %d attempts", e.SubjectID, e.Attempts)
	case KindTimeout:
		return fmt.Sprintf("subject %s: deadline exceeded after %d attempts", e.SubjectID, e.Attempts)
	case KindSubjectExists:
		return fmt.Sprintf("subject %s already exists", e.SubjectID)
	case KindInvalidRequest:
		return fmt.Sprintf("invalid request: %v", e.Err)
	}

	if e.Err == nil {
		return fmt.Sprintf("subject %s: %v", e.SubjectID, kindSentinels[e.Kind])
	}
	if e.Kind == KindStoreUnavailable {
		return fmt.Sprintf("subject %s: approval store unavailable: %v", e.SubjectID, e.Err)
	}
	return fmt.Sprintf("subject %s: %v", e.SubjectID, e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind. A timeout is also a contention.
func (e *ApprovalError) Is(target error) bool {
	if sentinel, ok := kindSentinels[e.Kind]; ok && target == sentinel {
		return true
	}
	return e.Kind == KindTimeout && target == ErrContention
}

// KindOf returns the kind of an ApprovalError anywhere in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var ae *ApprovalError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

func invalidRequest(subjectID string, err error) *ApprovalError {
	return &ApprovalError{Kind: KindInvalidRequest, SubjectID: subjectID, Err: err}
}
