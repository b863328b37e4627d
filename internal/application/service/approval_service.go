package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
	"github.com/garyjia/kiuva-approval/internal/domain/workflow"
	"github.com/garyjia/kiuva-approval/pkg/utils"
)

const tracerName = "github.com/garyjia/kiuva-approval/internal/application/service"

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ApprovalService runs the three-stage sign-off for subjects
type ApprovalService interface {
	Sign(ctx context.Context, req SignRequest) (*SignResult, error)
	GetStatus(ctx context.Context, subjectID string) (*Status, error)
	IsComplete(ctx context.Context, subjectID string) (bool, error)
	Reset(ctx context.Context, subjectID string) (*ResetResult, error)
}

// SignRequest asks to record role for subject
type SignRequest struct {
	SubjectID string
	Role      entity.Role
	SignerID  string
	Notes     string
}

// SignResult is returned after a signature is stored
type SignResult struct {
	SubjectID  string                           `json:"subject_id"`
	Role       entity.Role                      `json:"role"`
	Status     workflow.State                   `json:"status"`
	Signatures map[entity.Role]entity.Signature `json:"signatures"`
	Version    int64                            `json:"version"`
	Attempts   int                              `json:"-"`
}

// Status describes a subject's approval record
type Status struct {
	SubjectID        string                           `json:"subject_id"`
	Status           workflow.State                   `json:"status"`
	Signatures       map[entity.Role]entity.Signature `json:"signatures"`
	IsComplete       bool                             `json:"is_complete"`
	NextRequiredRole entity.Role                      `json:"next_required_role"`
	Version          int64                            `json:"version"`
}

// MarshalJSON encodes next_required_role as null once the record is complete
func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	var next *entity.Role
	if s.NextRequiredRole.IsValid() {
		role := s.NextRequiredRole
		next = &role
	}
	return json.Marshal(struct {
		plain
		NextRequiredRole *entity.Role `json:"next_required_role"`
	}{plain: plain(s), NextRequiredRole: next})
}

// ResetResult is returned after the record was cleared
type ResetResult struct {
	SubjectID string `json:"subject_id"`
	Reset     bool   `json:"reset"`
	Version   int64  `json:"version"`
}

// RetryPolicy bounds the load/swap loop of Sign
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when no policy is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

type approvalServiceImpl struct {
	store       port.ApprovalStore
	logger      Logger
	retry       RetryPolicy
	signTimeout time.Duration
	now         func() time.Time
	tracer      trace.Tracer
}

// Option configures the approval service
type Option func(*approvalServiceImpl)

// WithRetryPolicy overrides the retry policy; non-positive fields keep defaults
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *approvalServiceImpl) {
		if p.MaxAttempts > 0 {
			s.retry.MaxAttempts = p.MaxAttempts
		}
		if p.InitialInterval > 0 {
			s.retry.InitialInterval = p.InitialInterval
		}
		if p.MaxInterval > 0 {
			s.retry.MaxInterval = p.MaxInterval
		}
	}
}

// WithSignTimeout bounds a whole Sign call, retries included
func WithSignTimeout(d time.Duration) Option {
	return func(s *approvalServiceImpl) {
		s.signTimeout = d
	}
}

// WithClock sets the source of signature timestamps
func WithClock(now func() time.Time) Option {
	return func(s *approvalServiceImpl) {
		s.now = now
	}
}

// WithTracer sets the tracer used for operation spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *approvalServiceImpl) {
		s.tracer = tracer
	}
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(store port.ApprovalStore, logger Logger, opts ...Option) ApprovalService {
	s := &approvalServiceImpl{
		store:  store,
		logger: logger,
		retry:  DefaultRetryPolicy(),
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign validates and stores one signature. The record is re-read and the
// checks re-run on every attempt, so a concurrent writer is never overwritten.
func (s *approvalServiceImpl) Sign(ctx context.Context, req SignRequest) (result *SignResult, err error) {
	ctx, span := s.tracer.Start(ctx, "approval.Sign", trace.WithAttributes(
		attribute.String("subject_id", req.SubjectID),
		attribute.String("role", req.Role.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := validateSignRequest(req); err != nil {
		return nil, err
	}
	notes := utils.SanitizeNotes(req.Notes)

	if s.signTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.signTimeout)
		defer cancel()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retry.InitialInterval
	bo.MaxInterval = s.retry.MaxInterval

	for attempt := 1; ; attempt++ {
		record, version, err := s.store.Load(ctx, req.SubjectID)
		if err != nil {
			return nil, s.storeError(ctx, req, attempt, err)
		}
		if err := record.Validate(); err != nil {
			s.logger.Error("Stored approval record is corrupt", "subject_id", req.SubjectID, "error", err)
			return nil, &ApprovalError{Kind: KindStoreUnavailable, SubjectID: req.SubjectID, Role: req.Role, Err: err}
		}

		sig := entity.Signature{SignerID: req.SignerID, Timestamp: s.now().UTC(), Notes: notes}
		next, state, err := workflow.ApplySignature(record, req.Role, sig)
		if err != nil {
			return nil, ruleError(req, err)
		}

		newVersion, err := s.store.CompareAndSwap(ctx, req.SubjectID, version, next)
		if err == nil {
			s.logger.Info("Approval signed",
				"subject_id", req.SubjectID,
				"role", req.Role.String(),
				"signer_id", req.SignerID,
				"status", state.String(),
				"version", newVersion,
				"attempt", attempt,
			)
			return &SignResult{
				SubjectID:  req.SubjectID,
				Role:       req.Role,
				Status:     state,
				Signatures: next.Signatures,
				Version:    newVersion,
				Attempts:   attempt,
			}, nil
		}
		if !errors.Is(err, port.ErrVersionMismatch) {
			return nil, s.storeError(ctx, req, attempt, err)
		}

		if attempt >= s.retry.MaxAttempts {
			s.logger.Error("Approval sign gave up under contention",
				"subject_id", req.SubjectID,
				"role", req.Role.String(),
				"attempt", attempt,
			)
			return nil, &ApprovalError{Kind: KindContention, SubjectID: req.SubjectID, Role: req.Role, Attempts: attempt, Err: err}
		}

		if err := sleep(ctx, bo.NextBackOff()); err != nil {
			return nil, &ApprovalError{Kind: KindTimeout, SubjectID: req.SubjectID, Role: req.Role, Attempts: attempt, Err: err}
		}
	}
}

// GetStatus reads the record without modifying it
func (s *approvalServiceImpl) GetStatus(ctx context.Context, subjectID string) (status *Status, err error) {
	ctx, span := s.tracer.Start(ctx, "approval.GetStatus", trace.WithAttributes(
		attribute.String("subject_id", subjectID),
	))
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateIdentifier("subject_id", subjectID); err != nil {
		return nil, invalidRequest(subjectID, err)
	}

	record, version, err := s.store.Load(ctx, subjectID)
	if err != nil {
		return nil, s.storeError(ctx, SignRequest{SubjectID: subjectID}, 1, err)
	}
	if err := record.Validate(); err != nil {
		s.logger.Error("Stored approval record is corrupt", "subject_id", subjectID, "error", err)
		return nil, &ApprovalError{Kind: KindStoreUnavailable, SubjectID: subjectID, Err: err}
	}

	return &Status{
		SubjectID:        subjectID,
		Status:           workflow.StateOf(record),
		Signatures:       record.Signatures,
		IsComplete:       record.IsComplete(),
		NextRequiredRole: record.NextRequiredRole(),
		Version:          version,
	}, nil
}

// IsComplete reports whether all three roles are signed
func (s *approvalServiceImpl) IsComplete(ctx context.Context, subjectID string) (bool, error) {
	status, err := s.GetStatus(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return status.IsComplete, nil
}

// Reset clears every signature in a single unconditional write. A signer
// racing the reset either lands before it and is wiped, or loses its swap and
// re-validates against the empty record.
func (s *approvalServiceImpl) Reset(ctx context.Context, subjectID string) (result *ResetResult, err error) {
	ctx, span := s.tracer.Start(ctx, "approval.Reset", trace.WithAttributes(
		attribute.String("subject_id", subjectID),
	))
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateIdentifier("subject_id", subjectID); err != nil {
		return nil, invalidRequest(subjectID, err)
	}

	version, err := s.store.Overwrite(ctx, subjectID, entity.NewApprovalRecord())
	if err != nil {
		return nil, s.storeError(ctx, SignRequest{SubjectID: subjectID}, 1, err)
	}

	s.logger.Info("Approval reset", "subject_id", subjectID, "version", version)
	return &ResetResult{SubjectID: subjectID, Reset: true, Version: version}, nil
}

func validateSignRequest(req SignRequest) error {
	if err := utils.ValidateIdentifier("subject_id", req.SubjectID); err != nil {
		return invalidRequest(req.SubjectID, err)
	}
	if !req.Role.IsValid() {
		return invalidRequest(req.SubjectID, fmt.Errorf("unknown role %d", uint8(req.Role)))
	}
	if err := utils.ValidateIdentifier("signer_id", req.SignerID); err != nil {
		return invalidRequest(req.SubjectID, err)
	}
	return nil
}

// ruleError converts a rejected transition into the service taxonomy
func ruleError(req SignRequest, err error) error {
	var transition *workflow.TransitionError
	if errors.As(err, &transition) {
		return &ApprovalError{
			Kind:        KindInvalidTransition,
			SubjectID:   req.SubjectID,
			Role:        req.Role,
			MissingRole: transition.Missing,
			Err:         err,
		}
	}

	var conflict *workflow.SignerConflictError
	if errors.As(err, &conflict) {
		return &ApprovalError{
			Kind:      KindConflictingSigner,
			SubjectID: req.SubjectID,
			Role:      req.Role,
			HeldRole:  conflict.HeldRole,
			Err:       err,
		}
	}

	return invalidRequest(req.SubjectID, err)
}

// storeError converts a store failure. A failure after the caller's deadline
// passed is reported as a timeout rather than an outage.
func (s *approvalServiceImpl) storeError(ctx context.Context, req SignRequest, attempt int, err error) error {
	if errors.Is(err, port.ErrSubjectNotFound) {
		return &ApprovalError{Kind: KindNotFound, SubjectID: req.SubjectID, Role: req.Role, Err: err}
	}
	if ctx.Err() != nil {
		return &ApprovalError{Kind: KindTimeout, SubjectID: req.SubjectID, Role: req.Role, Attempts: attempt, Err: err}
	}

	s.logger.Error("Approval store failure", "subject_id", req.SubjectID, "attempt", attempt, "error", err)
	return &ApprovalError{Kind: KindStoreUnavailable, SubjectID: req.SubjectID, Role: req.Role, Attempts: attempt, Err: err}
}

// sleep waits for d or until ctx is done, whichever comes first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 || d == backoff.Stop {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if kind, ok := KindOf(err); ok {
			span.SetAttributes(attribute.String("error.kind", string(kind)))
		}
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
