package port

import (
	"context"
	"errors"

	"github.com/garyjia/kiuva-approval/internal/domain/entity"
)

var (
	// ErrSubjectNotFound is returned when no subject exists under the given id
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrVersionMismatch is returned by CompareAndSwap when the stored version
	// is not the expected one
	ErrVersionMismatch = errors.New("record version mismatch")

	// ErrSubjectExists is returned when registering an id that is already taken
	ErrSubjectExists = errors.New("subject already exists")
)

// ApprovalStore persists one approval record per subject with a version token.
// Implementations must make CompareAndSwap atomic with respect to every other
// write on the same subject.
type ApprovalStore interface {
	// Load returns the current record and its version
	Load(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error)

	// CompareAndSwap writes rec only if the stored version equals expected and
	// returns the new version
	CompareAndSwap(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error)

	// Overwrite writes rec unconditionally and returns the new version
	Overwrite(ctx context.Context, subjectID string, rec *entity.ApprovalRecord) (int64, error)
}

// SubjectRegistry creates subjects with an empty approval record
type SubjectRegistry interface {
	CreateSubject(ctx context.Context, subject *entity.Subject) error
	GetSubject(ctx context.Context, subjectID string) (*entity.Subject, error)
}

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RecordStore is what a store driver provides to the container
type RecordStore interface {
	ApprovalStore
	SubjectRegistry
	HealthChecker
	Close() error
}
