// Package memory provides an in-process approval store on go-memdb.
package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.uber.org/zap"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
)

const (
	subjectsTable = "subjects"
	idIndex       = "id"
)

// subjectRow is immutable once inserted; every write inserts a new row
type subjectRow struct {
	ID        string
	Title     string
	Record    []byte
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		subjectsTable: {
			Name: subjectsTable,
			Indexes: map[string]*memdb.IndexSchema{
				idIndex: {
					Name:    idIndex,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
	},
}

// Store keeps subjects in memory. Write transactions in memdb are
// serialised, which makes the version check and the insert atomic.
type Store struct {
	db     *memdb.MemDB
	logger *zap.Logger
	now    func() time.Time
	closed atomic.Bool
}

// NewStore creates an empty in-memory store
func NewStore(logger *zap.Logger) (*Store, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) lookup(txn *memdb.Txn, subjectID string) (*subjectRow, error) {
	raw, err := txn.First(subjectsTable, idIndex, subjectID)
	if err != nil {
		return nil, fmt.Errorf("memdb lookup failed: %w", err)
	}
	if raw == nil {
		return nil, port.ErrSubjectNotFound
	}
	return raw.(*subjectRow), nil
}

// CreateSubject registers a subject with an empty record at version 1
func (s *Store) CreateSubject(ctx context.Context, subject *entity.Subject) error {
	if err := s.usable(ctx); err != nil {
		return err
	}

	record, err := entity.EncodeApprovalRecord(entity.NewApprovalRecord())
	if err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := s.lookup(txn, subject.ID); err == nil {
		return port.ErrSubjectExists
	}

	now := s.now().UTC()
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = now
	}
	row := &subjectRow{
		ID:        subject.ID,
		Title:     subject.Title,
		Record:    record,
		Version:   1,
		CreatedAt: subject.CreatedAt,
		UpdatedAt: now,
	}
	if err := txn.Insert(subjectsTable, row); err != nil {
		return fmt.Errorf("memdb insert failed: %w", err)
	}
	txn.Commit()
	return nil
}

// GetSubject returns the registered subject
func (s *Store) GetSubject(ctx context.Context, subjectID string) (*entity.Subject, error) {
	if err := s.usable(ctx); err != nil {
		return nil, err
	}

	txn := s.db.Txn(false)
	row, err := s.lookup(txn, subjectID)
	if err != nil {
		return nil, err
	}
	return &entity.Subject{ID: row.ID, Title: row.Title, CreatedAt: row.CreatedAt}, nil
}

// Load returns the current record and version
func (s *Store) Load(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
	if err := s.usable(ctx); err != nil {
		return nil, 0, err
	}

	txn := s.db.Txn(false)
	row, err := s.lookup(txn, subjectID)
	if err != nil {
		return nil, 0, err
	}

	record, err := entity.DecodeApprovalRecord(row.Record)
	if err != nil {
		return nil, 0, err
	}
	return record, row.Version, nil
}

// CompareAndSwap replaces the record if the stored version equals expected
func (s *Store) CompareAndSwap(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
	return s.write(ctx, subjectID, rec, func(row *subjectRow) error {
		if row.Version != expected {
			return port.ErrVersionMismatch
		}
		return nil
	})
}

// Overwrite replaces the record regardless of its version
func (s *Store) Overwrite(ctx context.Context, subjectID string, rec *entity.ApprovalRecord) (int64, error) {
	return s.write(ctx, subjectID, rec, nil)
}

func (s *Store) write(ctx context.Context, subjectID string, rec *entity.ApprovalRecord, check func(*subjectRow) error) (int64, error) {
	if err := s.usable(ctx); err != nil {
		return 0, err
	}

	data, err := entity.EncodeApprovalRecord(rec)
	if err != nil {
		return 0, err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	current, err := s.lookup(txn, subjectID)
	if err != nil {
		return 0, err
	}
	if check != nil {
		if err := check(current); err != nil {
			return 0, err
		}
	}

	next := *current
	next.Record = data
	next.Version = current.Version + 1
	next.UpdatedAt = s.now().UTC()
	if err := txn.Insert(subjectsTable, &next); err != nil {
		return 0, fmt.Errorf("memdb insert failed: %w", err)
	}
	txn.Commit()

	return next.Version, nil
}

// Ping reports whether the store is still open
func (s *Store) Ping(ctx context.Context) error {
	return s.usable(ctx)
}

// Close marks the store closed; later calls fail
func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Info("In-memory approval store closed")
	}
	return nil
}

func (s *Store) usable(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("memory store is closed")
	}
	return ctx.Err()
}

var _ port.RecordStore = (*Store)(nil)
