// Package redisstore stores approval records in Redis hashes, using Lua scripts
// so that the version check and the write happen atomically on the server.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
)

// Script results below zero are errors
const (
	resultMissing  = -1
	resultMismatch = -2
)

// KEYS[1] = subject hash
// ARGV[1] = expected version, ARGV[2] = encoded record, ARGV[3] = updated_at
var compareAndSwapScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
if redis.call("HGET", KEYS[1], "version") ~= ARGV[1] then
    return -2
end
local version = redis.call("HINCRBY", KEYS[1], "version", 1)
redis.call("HSET", KEYS[1], "record", ARGV[2], "updated_at", ARGV[3])
return version
`)

// KEYS[1] = subject hash
// ARGV[1] = encoded record, ARGV[2] = updated_at
var overwriteScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
local version = redis.call("HINCRBY", KEYS[1], "version", 1)
redis.call("HSET", KEYS[1], "record", ARGV[1], "updated_at", ARGV[2])
return version
`)

// KEYS[1] = subject hash
// ARGV[1] = title, ARGV[2] = encoded empty record, ARGV[3] = created_at
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "title", ARGV[1], "record", ARGV[2], "version", 1,
    "created_at", ARGV[3], "updated_at", ARGV[3])
return 1
`)

// Config holds Redis connection settings
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements port.RecordStore on Redis hashes
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewStore wraps an existing client. Keys are "<prefix>subject:<id>".
func NewStore(client redis.UniversalClient, prefix string, logger *zap.Logger) *Store {
	return &Store{client: client, prefix: prefix, logger: logger, now: time.Now}
}

// Open creates a client and verifies the server answers
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return NewStore(client, cfg.KeyPrefix, logger), nil
}

func (s *Store) key(subjectID string) string {
	return s.prefix + "subject:" + subjectID
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// CreateSubject stores a subject with an empty record at version 1
func (s *Store) CreateSubject(ctx context.Context, subject *entity.Subject) error {
	record, err := entity.EncodeApprovalRecord(entity.NewApprovalRecord())
	if err != nil {
		return err
	}
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = s.now().UTC()
	}

	created, err := createScript.Run(ctx, s.client, []string{s.key(subject.ID)},
		subject.Title, string(record), subject.CreatedAt.Format(time.RFC3339Nano)).Int64()
	if err != nil {
		s.logger.Error("Failed to create subject", zap.String("subject_id", subject.ID), zap.Error(err))
		return fmt.Errorf("redis create subject: %w", err)
	}
	if created == 0 {
		return port.ErrSubjectExists
	}
	return nil
}

// GetSubject returns the registered subject
func (s *Store) GetSubject(ctx context.Context, subjectID string) (*entity.Subject, error) {
	values, err := s.client.HMGet(ctx, s.key(subjectID), "title", "created_at", "version").Result()
	if err != nil {
		return nil, fmt.Errorf("redis get subject: %w", err)
	}
	if values[2] == nil {
		return nil, port.ErrSubjectNotFound
	}

	subject := &entity.Subject{ID: subjectID}
	subject.Title, _ = values[0].(string)
	if raw, ok := values[1].(string); ok {
		if subject.CreatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("redis subject %s has a malformed created_at: %w", subjectID, err)
		}
	}
	return subject, nil
}

// Load returns the current record and version
func (s *Store) Load(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
	values, err := s.client.HMGet(ctx, s.key(subjectID), "record", "version").Result()
	if err != nil {
		s.logger.Error("Failed to load approval record", zap.String("subject_id", subjectID), zap.Error(err))
		return nil, 0, fmt.Errorf("redis load: %w", err)
	}

	rawRecord, _ := values[0].(string)
	rawVersion, ok := values[1].(string)
	if !ok {
		return nil, 0, port.ErrSubjectNotFound
	}

	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("redis subject %s has a malformed version: %w", subjectID, err)
	}
	record, err := entity.DecodeApprovalRecord([]byte(rawRecord))
	if err != nil {
		return nil, 0, err
	}
	return record, version, nil
}

// CompareAndSwap writes rec only while the stored version equals expected
func (s *Store) CompareAndSwap(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
	data, err := entity.EncodeApprovalRecord(rec)
	if err != nil {
		return 0, err
	}

	result, err := compareAndSwapScript.Run(ctx, s.client, []string{s.key(subjectID)},
		strconv.FormatInt(expected, 10), string(data), s.timestamp()).Int64()
	return s.versionResult(subjectID, "compare-and-swap", result, err)
}

// Overwrite writes rec unconditionally
func (s *Store) Overwrite(ctx context.Context, subjectID string, rec *entity.ApprovalRecord) (int64, error) {
	data, err := entity.EncodeApprovalRecord(rec)
	if err != nil {
		return 0, err
	}

	result, err := overwriteScript.Run(ctx, s.client, []string{s.key(subjectID)},
		string(data), s.timestamp()).Int64()
	return s.versionResult(subjectID, "overwrite", result, err)
}

func (s *Store) versionResult(subjectID, op string, result int64, err error) (int64, error) {
	if err != nil {
		s.logger.Error("Redis script failed", zap.String("op", op), zap.String("subject_id", subjectID), zap.Error(err))
		return 0, fmt.Errorf("redis %s: %w", op, err)
	}

	switch result {
	case resultMissing:
		return 0, port.ErrSubjectNotFound
	case resultMismatch:
		return 0, port.ErrVersionMismatch
	}
	if result <= 0 {
		return 0, errors.New("redis " + op + ": unexpected script result " + strconv.FormatInt(result, 10))
	}
	return result, nil
}

// Ping checks the server connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *Store) Close() error {
	s.logger.Info("Closing redis connection")
	return s.client.Close()
}

var _ port.RecordStore = (*Store)(nil)
