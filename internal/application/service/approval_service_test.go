package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
	"github.com/garyjia/kiuva-approval/internal/domain/workflow"
	"github.com/garyjia/kiuva-approval/internal/infrastructure/persistence/memory"
)

var fixedNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

// mockStore counts calls and delegates to func fields
type mockStore struct {
	mu            sync.Mutex
	loads         int
	swaps         int
	overwrites    int
	loadFunc      func(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error)
	casFunc       func(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error)
	overwriteFunc func(ctx context.Context, subjectID string, rec *entity.ApprovalRecord) (int64, error)
}

func (m *mockStore) Load(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
	m.mu.Lock()
	m.loads++
	m.mu.Unlock()
	if m.loadFunc != nil {
		return m.loadFunc(ctx, subjectID)
	}
	return entity.NewApprovalRecord(), 1, nil
}

func (m *mockStore) CompareAndSwap(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
	m.mu.Lock()
	m.swaps++
	m.mu.Unlock()
	if m.casFunc != nil {
		return m.casFunc(ctx, subjectID, expected, rec)
	}
	return expected + 1, nil
}

func (m *mockStore) Overwrite(ctx context.Context, subjectID string, rec *entity.ApprovalRecord) (int64, error) {
	m.mu.Lock()
	m.overwrites++
	m.mu.Unlock()
	if m.overwriteFunc != nil {
		return m.overwriteFunc(ctx, subjectID, rec)
	}
	return 2, nil
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

func fastRetry(attempts int) Option {
	return WithRetryPolicy(RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
}

func newTestService(store port.ApprovalStore, opts ...Option) ApprovalService {
	opts = append([]Option{fastRetry(5), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewApprovalService(store, &mockLogger{}, opts...)
}

func newMemoryStore(t *testing.T, subjects ...string) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(zap.NewNop())
	require.NoError(t, err)
	for _, id := range subjects {
		require.NoError(t, store.CreateSubject(context.Background(), &entity.Subject{ID: id}))
	}
	return store
}

func sign(subjectID string, role entity.Role, signer string) SignRequest {
	return SignRequest{SubjectID: subjectID, Role: role, SignerID: signer}
}

func requireKind(t *testing.T, err error, kind ErrorKind) *ApprovalError {
	t.Helper()
	require.Error(t, err)
	var ae *ApprovalError
	require.True(t, errors.As(err, &ae), "expected *ApprovalError, got %T: %v", err, err)
	require.Equal(t, kind, ae.Kind, "error: %v", err)
	return ae
}

func TestApprovalService_HappyPath(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryStore(t, "S"))

	steps := []struct {
		role   entity.Role
		signer string
		state  workflow.State
	}{
		{entity.RoleExecution, "alice", workflow.StateStage1Signed},
		{entity.RoleVerification, "bob", workflow.StateStage2Signed},
		{entity.RoleApproval, "carol", workflow.StateComplete},
	}
	for _, step := range steps {
		result, err := svc.Sign(ctx, SignRequest{SubjectID: "S", Role: step.role, SignerID: step.signer, Notes: "ok"})
		require.NoError(t, err)
		assert.Equal(t, step.state, result.Status)
		assert.Equal(t, step.role, result.Role)
		assert.Equal(t, 1, result.Attempts)
	}

	status, err := svc.GetStatus(ctx, "S")
	require.NoError(t, err)
	assert.True(t, status.IsComplete)
	assert.Equal(t, workflow.StateComplete, status.Status)
	assert.Equal(t, entity.RoleNone, status.NextRequiredRole)
	assert.Equal(t, entity.Signature{SignerID: "carol", Timestamp: fixedNow, Notes: "ok"}, status.Signatures[entity.RoleApproval])

	complete, err := svc.IsComplete(ctx, "S")
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestApprovalService_Sign_OutOfOrder(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t, "S")
	svc := newTestService(store)

	_, before, err := store.Load(ctx, "S")
	require.NoError(t, err)

	_, err = svc.Sign(ctx, sign("S", entity.RoleVerification, "bob"))
	ae := requireKind(t, err, KindInvalidTransition)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, entity.RoleExecution, ae.MissingRole)
	assert.Contains(t, err.Error(), "before stage 1 (execution)")

	rec, after, err := store.Load(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, before, after, "a rejected sign must not write")
	assert.Empty(t, rec.Signatures)
}

func TestApprovalService_Sign_ConflictingSigner(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryStore(t, "S"))

	_, err := svc.Sign(ctx, sign("S", entity.RoleExecution, "alice"))
	require.NoError(t, err)

	_, err = svc.Sign(ctx, sign("S", entity.RoleVerification, "alice"))
	ae := requireKind(t, err, KindConflictingSigner)
	assert.True(t, errors.Is(err, ErrConflictingSigner))
	assert.Equal(t, entity.RoleExecution, ae.HeldRole)

	status, err := svc.GetStatus(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateStage1Signed, status.Status)
}

func TestApprovalService_Sign_ConflictingSignerOnSignedRole(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryStore(t, "S"))

	_, err := svc.Sign(ctx, sign("S", entity.RoleExecution, "alice"))
	require.NoError(t, err)
	_, err = svc.Sign(ctx, sign("S", entity.RoleVerification, "bob"))
	require.NoError(t, err)

	_, err = svc.Sign(ctx, sign("S", entity.RoleExecution, "bob"))
	ae := requireKind(t, err, KindConflictingSigner)
	assert.Equal(t, entity.RoleVerification, ae.HeldRole)

	_, err = svc.Sign(ctx, sign("S", entity.RoleApproval, "carol"))
	require.NoError(t, err)

	_, err = svc.Sign(ctx, sign("S", entity.RoleExecution, "bob"))
	ae = requireKind(t, err, KindConflictingSigner)
	assert.Equal(t, entity.RoleVerification, ae.HeldRole)
}

func TestApprovalService_Sign_AlreadySignedRole(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryStore(t, "S"))

	_, err := svc.Sign(ctx, sign("S", entity.RoleExecution, "alice"))
	require.NoError(t, err)

	_, err = svc.Sign(ctx, sign("S", entity.RoleExecution, "erin"))
	requireKind(t, err, KindInvalidTransition)
	assert.Contains(t, err.Error(), "already signed by alice")
}

func TestApprovalService_Sign_CompleteRecord(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryStore(t, "S"))

	for i, signer := range []string{"alice", "bob", "carol"} {
		_, err := svc.Sign(ctx, sign("S", entity.Roles[i], signer))
		require.NoError(t, err)
	}

	_, err := svc.Sign(ctx, sign("S", entity.RoleApproval, "dave"))
	requireKind(t, err, KindInvalidTransition)
	assert.Contains(t, err.Error(), "reset to restart")
}

func TestApprovalService_GetStatus_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t, "S")
	svc := newTestService(store)

	_, err := svc.Sign(ctx, sign("S", entity.RoleExecution, "alice"))
	require.NoError(t, err)

	first, err := svc.GetStatus(ctx, "S")
	require.NoError(t, err)
	second, err := svc.GetStatus(ctx, "S")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, entity.RoleVerification, first.NextRequiredRole)
	assert.False(t, first.IsComplete)
}

func TestApprovalService_Reset(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryStore(t, "S"))

	for i, signer := range []string{"alice", "bob", "carol"} {
		_, err := svc.Sign(ctx, sign("S", entity.Roles[i], signer))
		require.NoError(t, err)
	}

	result, err := svc.Reset(ctx, "S")
	require.NoError(t, err)
	assert.True(t, result.Reset)

	status, err := svc.GetStatus(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateNotStarted, status.Status)
	assert.Empty(t, status.Signatures)

	// the former approver may now start the chain
	_, err = svc.Sign(ctx, sign("S", entity.RoleExecution, "carol"))
	assert.NoError(t, err)
}

func TestApprovalService_Reset_DoesNotLoad(t *testing.T) {
	store := &mockStore{
		loadFunc: func(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
			t.Fatal("Reset must not read the record")
			return nil, 0, nil
		},
	}
	svc := newTestService(store)

	_, err := svc.Reset(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, 1, store.overwrites)
}

func TestApprovalService_MissingSubject(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryStore(t))

	_, err := svc.Sign(ctx, sign("ghost", entity.RoleExecution, "alice"))
	assert.True(t, errors.Is(err, ErrNotFound), "sign: %v", err)

	_, err = svc.GetStatus(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrNotFound), "status: %v", err)

	_, err = svc.IsComplete(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrNotFound), "complete: %v", err)

	_, err = svc.Reset(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrNotFound), "reset: %v", err)
}

func TestApprovalService_ConcurrentSameRole(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t, "S")
	svc := newTestService(store, fastRetry(10))

	_, err := svc.Sign(ctx, sign("S", entity.RoleExecution, "alice"))
	require.NoError(t, err)

	signers := []string{"bob", "dave", "erin", "frank", "grace", "heidi"}
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		winners []string
	)
	for _, signer := range signers {
		wg.Add(1)
		go func(signer string) {
			defer wg.Done()
			<-start
			_, err := svc.Sign(ctx, sign("S", entity.RoleVerification, signer))
			if err == nil {
				mu.Lock()
				winners = append(winners, signer)
				mu.Unlock()
				return
			}
			assert.True(t,
				errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrContention),
				"loser %s: %v", signer, err)
		}(signer)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)

	status, err := svc.GetStatus(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, winners[0], status.Signatures[entity.RoleVerification].SignerID)
	assert.Equal(t, "alice", status.Signatures[entity.RoleExecution].SignerID)
}

func TestApprovalService_Sign_RetriesOnMismatch(t *testing.T) {
	store := &mockStore{}
	mismatches := 2
	store.casFunc = func(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
		if mismatches > 0 {
			mismatches--
			return 0, port.ErrVersionMismatch
		}
		return expected + 1, nil
	}
	svc := newTestService(store)

	result, err := svc.Sign(context.Background(), sign("S", entity.RoleExecution, "alice"))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, store.loads)
	assert.Equal(t, 3, store.swaps)
}

func TestApprovalService_Sign_RevalidatesAfterMismatch(t *testing.T) {
	loads := 0
	store := &mockStore{
		loadFunc: func(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
			loads++
			rec := entity.NewApprovalRecord()
			if loads > 1 {
				// a concurrent writer signed execution in the meantime
				rec.Signatures[entity.RoleExecution] = entity.Signature{SignerID: "bob", Timestamp: fixedNow}
				return rec, 2, nil
			}
			return rec, 1, nil
		},
		casFunc: func(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
			return 0, port.ErrVersionMismatch
		},
	}
	svc := newTestService(store)

	_, err := svc.Sign(context.Background(), sign("S", entity.RoleExecution, "alice"))
	requireKind(t, err, KindInvalidTransition)
	assert.Equal(t, 2, store.loads)
	assert.Equal(t, 1, store.swaps)
}

func TestApprovalService_Sign_BoundedContention(t *testing.T) {
	store := &mockStore{
		casFunc: func(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
			return 0, port.ErrVersionMismatch
		},
	}
	svc := newTestService(store, fastRetry(3))

	_, err := svc.Sign(context.Background(), sign("S", entity.RoleExecution, "alice"))
	ae := requireKind(t, err, KindContention)
	assert.True(t, errors.Is(err, ErrContention))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 3, ae.Attempts)
	assert.Equal(t, 3, store.loads)
}

func TestApprovalService_Sign_Timeout(t *testing.T) {
	store := &mockStore{
		casFunc: func(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
			return 0, port.ErrVersionMismatch
		},
	}
	svc := NewApprovalService(store, &mockLogger{},
		WithRetryPolicy(RetryPolicy{MaxAttempts: 1000, InitialInterval: 50 * time.Millisecond, MaxInterval: 50 * time.Millisecond}),
		WithSignTimeout(20*time.Millisecond),
	)

	start := time.Now()
	_, err := svc.Sign(context.Background(), sign("S", entity.RoleExecution, "alice"))
	requireKind(t, err, KindTimeout)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, ErrContention))
	assert.Less(t, time.Since(start), time.Second)
}

func TestApprovalService_Sign_CallerDeadline(t *testing.T) {
	store := &mockStore{
		loadFunc: func(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
			<-ctx.Done()
			return nil, 0, ctx.Err()
		},
	}
	svc := newTestService(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := svc.Sign(ctx, sign("S", entity.RoleExecution, "alice"))
	requireKind(t, err, KindTimeout)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestApprovalService_StoreUnavailable(t *testing.T) {
	errDown := errors.New("connection refused")

	tests := []struct {
		name  string
		store *mockStore
		call  func(svc ApprovalService) error
	}{
		{
			name: "load fails during sign",
			store: &mockStore{loadFunc: func(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
				return nil, 0, errDown
			}},
			call: func(svc ApprovalService) error {
				_, err := svc.Sign(context.Background(), sign("S", entity.RoleExecution, "alice"))
				return err
			},
		},
		{
			name: "swap fails during sign",
			store: &mockStore{casFunc: func(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
				return 0, errDown
			}},
			call: func(svc ApprovalService) error {
				_, err := svc.Sign(context.Background(), sign("S", entity.RoleExecution, "alice"))
				return err
			},
		},
		{
			name: "load fails during status",
			store: &mockStore{loadFunc: func(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
				return nil, 0, errDown
			}},
			call: func(svc ApprovalService) error {
				_, err := svc.GetStatus(context.Background(), "S")
				return err
			},
		},
		{
			name: "overwrite fails during reset",
			store: &mockStore{overwriteFunc: func(ctx context.Context, subjectID string, rec *entity.ApprovalRecord) (int64, error) {
				return 0, errDown
			}},
			call: func(svc ApprovalService) error {
				_, err := svc.Reset(context.Background(), "S")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(newTestService(tt.store))
			requireKind(t, err, KindStoreUnavailable)
			assert.True(t, errors.Is(err, ErrStoreUnavailable))
			assert.True(t, errors.Is(err, errDown))
			assert.LessOrEqual(t, tt.store.loads, 1, "store failures are not retried")
		})
	}
}

func TestApprovalService_CorruptRecord(t *testing.T) {
	store := &mockStore{
		loadFunc: func(ctx context.Context, subjectID string) (*entity.ApprovalRecord, int64, error) {
			rec := entity.NewApprovalRecord()
			rec.Signatures[entity.RoleApproval] = entity.Signature{SignerID: "carol"}
			return rec, 7, nil
		},
	}
	svc := newTestService(store)

	_, err := svc.Sign(context.Background(), sign("S", entity.RoleExecution, "alice"))
	requireKind(t, err, KindStoreUnavailable)
	assert.True(t, errors.Is(err, entity.ErrInvalidRecord))
	assert.Equal(t, 0, store.swaps)
}

func TestApprovalService_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  SignRequest
	}{
		{"empty subject", SignRequest{Role: entity.RoleExecution, SignerID: "alice"}},
		{"unknown role", SignRequest{SubjectID: "S", SignerID: "alice"}},
		{"empty signer", SignRequest{SubjectID: "S", Role: entity.RoleExecution}},
		{"blank signer", SignRequest{SubjectID: "S", Role: entity.RoleExecution, SignerID: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			_, err := newTestService(store).Sign(context.Background(), tt.req)
			requireKind(t, err, KindInvalidRequest)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
			assert.Equal(t, 0, store.loads)
		})
	}
}

func TestApprovalService_Sign_SanitizesNotes(t *testing.T) {
	store := &mockStore{}
	var stored *entity.ApprovalRecord
	store.casFunc = func(ctx context.Context, subjectID string, expected int64, rec *entity.ApprovalRecord) (int64, error) {
		stored = rec
		return expected + 1, nil
	}

	_, err := newTestService(store).Sign(context.Background(), SignRequest{
		SubjectID: "S", Role: entity.RoleExecution, SignerID: "alice", Notes: " checked\x00 ",
	})
	require.NoError(t, err)
	assert.Equal(t, "checked", stored.Signatures[entity.RoleExecution].Notes)
}

func TestApprovalError_Messages(t *testing.T) {
	tests := []struct {
		err  *ApprovalError
		want string
	}{
		{&ApprovalError{Kind: KindNotFound, SubjectID: "S"}, "subject S not found"},
		{&ApprovalError{Kind: KindContention, SubjectID: "S", Attempts: 5}, "subject S: record kept changing, gave up after 5 attempts"},
		{&ApprovalError{Kind: KindStoreUnavailable, SubjectID: "S", Err: fmt.Errorf("boom")}, "subject S: approval store unavailable: boom"},
		{&ApprovalError{Kind: KindInvalidRequest, Err: fmt.Errorf("signer_id must not be empty")}, "invalid request: signer_id must not be empty"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestStatus_MarshalJSON_NextRequiredRole(t *testing.T) {
	tests := []struct {
		name string
		next entity.Role
		want interface{}
	}{
		{"pending role", entity.RoleVerification, "verification"},
		{"complete record", entity.RoleNone, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(&Status{
				SubjectID:        "S",
				Status:           workflow.StateStage1Signed,
				Signatures:       map[entity.Role]entity.Signature{},
				NextRequiredRole: tt.next,
				Version:          2,
			})
			require.NoError(t, err)

			var decoded map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &decoded))
			value, present := decoded["next_required_role"]
			assert.True(t, present, "next_required_role is always emitted")
			assert.Equal(t, tt.want, value)
			assert.Equal(t, "S", decoded["subject_id"])
		})
	}
}
