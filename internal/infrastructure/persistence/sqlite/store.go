// Package sqlite stores approval records in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
	"github.com/garyjia/kiuva-approval/migrations"
	"github.com/garyjia/kiuva-approval/pkg/database"
)

// Store implements port.RecordStore on the approval_subjects table
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore wraps an already migrated database
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// Open opens the database file, applies migrations and returns the store
func Open(ctx context.Context, cfg database.SQLiteConfig, logger *zap.Logger) (*Store, error) {
	db, err := database.OpenSQLite(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, database.DialectSQLite, logger)
	if err := migrator.RunMigrations(ctx, migrations.FS, migrations.SQLiteDir); err != nil {
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
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(subject_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, subject.ID, subject.Title, string(record), subject.CreatedAt, now)
	if err != nil {
		s.logger.Error("Failed to create subject", zap.String("subject_id", subject.ID), zap.Error(err))
		return fmt.Errorf("failed to create subject: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return port.ErrSubjectExists
	}
	return nil
}

// GetSubject returns the registered subject
func (s *Store) GetSubject(ctx context.Context, subjectID string) (*entity.Subject, error) {
	query := `SELECT subject_id, title, created_at FROM approval_subjects WHERE subject_id = ?`

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
	query := `SELECT approval_record, version FROM approval_subjects WHERE subject_id = ?`

	var (
		data    string
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

	record, err := entity.DecodeApprovalRecord([]byte(data))
	if err != nil {
		return nil, 0, err
	}
	return record, version, nil
}

// CompareAndSwap updates the row only while its version still equals expected
func (s *Store) CompareAndSwap(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
	data, err := entity.EncodeApprovalRecord(rec)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE approval_subjects
		SET approval_record = ?, version = version + 1, updated_at = ?
		WHERE subject_id = ? AND version = ?
		RETURNING version
	`
	var version int64
	err = s.db.QueryRowContext(ctx, query, string(data), s.now().UTC(), subjectID, expected).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, s.missOrMismatch(ctx, subjectID)
	}
	if err != nil {
		s.logger.Error("Failed to swap approval record", zap.String("subject_id", subjectID), zap.Error(err))
		return 0, fmt.Errorf("failed to swap approval record: %w", err)
	}
	return version, nil
}

// Overwrite replaces the record and bumps the version unconditionally
func (s *Store) Overwrite(ctx context.Context, subjectID string, rec *entity.ApprovalRecord) (int64, error) {
	data, err := entity.EncodeApprovalRecord(rec)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE approval_subjects
		SET approval_record = ?, version = version + 1, updated_at = ?
		WHERE subject_id = ?
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

// missOrMismatch tells a stale version apart from a missing subject.
// Subjects are never deleted, so an existing row means the version moved.
func (s *Store) missOrMismatch(ctx context.Context, subjectID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM approval_subjects WHERE subject_id = ?`, subjectID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrSubjectNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check subject: %w", err)
	}
	return port.ErrVersionMismatch
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	s.logger.Info("Closing database connection")
	return s.db.Close()
}

var _ port.RecordStore = (*Store)(nil)
