// Package postgres stores approval records in PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
	"github.com/garyjia/kiuva-approval/migrations"
	"github.com/garyjia/kiuva-approval/pkg/database"
)

const uniqueViolation = pq.ErrorCode("23505")

// Store implements port.RecordStore on the approval_subjects table
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore wraps an already migrated connection pool
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// Open connects, applies migrations and returns the store
func Open(ctx context.Context, cfg database.PostgresConfig, logger *zap.Logger) (*Store, error) {
	db, err := database.OpenPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, database.DialectPostgres, logger)
	if err := migrator.RunMigrations(ctx, migrations.FS, migrations.PostgresDir); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewStore(db, logger), nil
}

// CreateSubject inserts a subject with an empty record at version 1
func (s *Store) CreateSubject(ctx context.Context, subject *entity.Subject) error {
	record, err := entity.EncodeApprovalRecord(entity.NewApprovalRecord())
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = now
	}

	query := `
		INSERT INTO approval_subjects (subject_id, title, approval_record, version, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, 1, $4, $5)
	`
	_, err = s.db.ExecContext(ctx, query, subject.ID, subject.Title, string(record), subject.CreatedAt, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return port.ErrSubjectExists
		}
		s.logger.Error("Failed to create subject", zap.String("subject_id", subject.ID), zap.Error(err))
		return fmt.Errorf("failed to create subject: %w", err)
	}
	return nil
}

// GetSubject returns the registered subject
func (s *Store) GetSubject(ctx context.Context, subjectID string) (*entity.Subject, error) {
	query := `SELECT subject_id, title, created_at FROM approval_subjects WHERE subject_id = $1`

	var subject entity.Subject
	err := s.db.QueryRowContext(ctx, query, subjectID).Scan(&subject.ID, &subject.Title, &subject.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return &subject, nil
}

// Load returns the current record and version
func (s *Store) Load(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
	query := `SELECT approval_record, version FROM approval_subjects WHERE subject_id = $1`

	var (
		data    []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, query, subjectID).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, port.ErrSubjectNotFound
	}
	if err != nil {
		s.logger.Error("Failed to load approval record", zap.String("subject_id", subjectID), zap.Error(err))
		return nil, 0, fmt.Errorf("failed to load approval record: %w", err)
	}

	record, err := entity.DecodeApprovalRecord(data)
	if err != nil {
		return nil, 0, err
	}
	return record, version, nil
}

// casQuery updates the row only at the expected version and reports in the
// same round trip whether the subject exists at all
const casQuery = `
	WITH current AS (
		SELECT version FROM approval_subjects WHERE subject_id = $3
	), updated AS (
		UPDATE approval_subjects
		SET approval_record = $1::jsonb, version = version + 1, updated_at = $2
		WHERE subject_id = $3 AND version = $4
		RETURNING version
	)
	SELECT (SELECT version FROM updated), EXISTS (SELECT 1 FROM current)
`

// CompareAndSwap updates the row only while its version still equals expected
func (s *Store) CompareAndSwap(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
	data, err := entity.EncodeApprovalRecord(rec)
	if err != nil {
		return 0, err
	}

	var (
		version sql.NullInt64
		exists  bool
	)
	err = s.db.QueryRowContext(ctx, casQuery, string(data), s.now().UTC(), subjectID, expected).Scan(&version, &exists)
	if err != nil {
		s.logger.Error("Failed to swap approval record", zap.String("subject_id", subjectID), zap.Error(err))
		return 0, fmt.Errorf("failed to swap approval record: %w", err)
	}

	switch {
	case version.Valid:
		return version.Int64, nil
	case !exists:
		return 0, port.ErrSubjectNotFound
	default:
		return 0, port.ErrVersionMismatch
	}
}

// Overwrite replaces the record and bumps the version unconditionally
func (s *Store) Overwrite(ctx context.Context, subjectID string, rec *entity.ApprovalRecord) (int64, error) {
	data, err := entity.EncodeApprovalRecord(rec)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE approval_subjects
		SET approval_record = $1::jsonb, version = version + 1, updated_at = $2
		WHERE subject_id = $3
		RETURNING version
	`
	var version int64
	err = s.db.QueryRowContext(ctx, query, string(data), s.now().UTC(), subjectID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, port.ErrSubjectNotFound
	}
	if err != nil {
		s.logger.Error("Failed to overwrite approval record", zap.String("subject_id", subjectID), zap.Error(err))
		return 0, fmt.Errorf("failed to overwrite approval record: %w", err)
	}
	return version, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	s.logger.Info("Closing database connection")
	return s.db.Close()
}

var _ port.RecordStore = (*Store)(nil)
