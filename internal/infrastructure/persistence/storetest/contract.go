// Package storetest holds the behaviour every port.RecordStore must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
)

// Factory returns a fresh, empty store for one subtest
type Factory func(t *testing.T) port.RecordStore

// Run exercises a store driver against the port contract
func Run(t *testing.T, newStore Factory) {
	t.Run("create and load", func(t *testing.T) { testCreateAndLoad(t, newStore(t)) })
	t.Run("duplicate subject", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("missing subject", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("compare and swap", func(t *testing.T) { testCompareAndSwap(t, newStore(t)) })
	t.Run("overwrite", func(t *testing.T) { testOverwrite(t, newStore(t)) })
	t.Run("concurrent swaps", func(t *testing.T) { testConcurrentSwaps(t, newStore(t)) })
	t.Run("ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func signed(signers ...string) *entity.ApprovalRecord {
	rec := entity.NewApprovalRecord()
	for i, signer := range signers {
		rec.Signatures[entity.Roles[i]] = entity.Signature{
			SignerID:  signer,
			Timestamp: time.Date(2026, 10, 15, 9, i, 0, 0, time.UTC),
			Notes:     "note " + signer,
		}
	}
	return rec
}

func create(t *testing.T, s port.RecordStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateSubject(context.Background(), &entity.Subject{ID: id, Title: "Title " + id}))
}

func testCreateAndLoad(t *testing.T, s port.RecordStore) {
	ctx := context.Background()
	create(t, s, "subj-1")

	rec, version, err := s.Load(ctx, "subj-1")
	require.NoError(t, err)
	assert.Empty(t, rec.Signatures)
	assert.NotNil(t, rec.Signatures)
	assert.Positive(t, version)

	subject, err := s.GetSubject(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, "Title subj-1", subject.Title)
	assert.False(t, subject.CreatedAt.IsZero())
}

func testDuplicate(t *testing.T, s port.RecordStore) {
	create(t, s, "subj-1")
	err := s.CreateSubject(context.Background(), &entity.Subject{ID: "subj-1"})
	assert.True(t, errors.Is(err, port.ErrSubjectExists), "got %v", err)
}

func testMissing(t *testing.T, s port.RecordStore) {
	ctx := context.Background()

	_, _, err := s.Load(ctx, "ghost")
	assert.True(t, errors.Is(err, port.ErrSubjectNotFound), "load: %v", err)

	_, err = s.CompareAndSwap(ctx, "ghost", 1, signed("alice"))
	assert.True(t, errors.Is(err, port.ErrSubjectNotFound), "cas: %v", err)

	_, err = s.Overwrite(ctx, "ghost", entity.NewApprovalRecord())
	assert.True(t, errors.Is(err, port.ErrSubjectNotFound), "overwrite: %v", err)

	_, err = s.GetSubject(ctx, "ghost")
	assert.True(t, errors.Is(err, port.ErrSubjectNotFound), "get: %v", err)
}

func testCompareAndSwap(t *testing.T, s port.RecordStore) {
	ctx := context.Background()
	create(t, s, "subj-1")

	_, v0, err := s.Load(ctx, "subj-1")
	require.NoError(t, err)

	v1, err := s.CompareAndSwap(ctx, "subj-1", v0, signed("alice"))
	require.NoError(t, err)
	assert.NotEqual(t, v0, v1)

	_, err = s.CompareAndSwap(ctx, "subj-1", v0, signed("mallory"))
	assert.True(t, errors.Is(err, port.ErrVersionMismatch), "stale cas: %v", err)

	rec, v, err := s.Load(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, v1, v)
	assert.Equal(t, signed("alice"), rec)
}

func testOverwrite(t *testing.T, s port.RecordStore) {
	ctx := context.Background()
	create(t, s, "subj-1")

	_, v0, err := s.Load(ctx, "subj-1")
	require.NoError(t, err)
	_, err = s.CompareAndSwap(ctx, "subj-1", v0, signed("alice", "bob"))
	require.NoError(t, err)

	v2, err := s.Overwrite(ctx, "subj-1", entity.NewApprovalRecord())
	require.NoError(t, err)

	rec, v, err := s.Load(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, v2, v)
	assert.Empty(t, rec.Signatures)

	// a writer holding a pre-reset version must lose
	_, err = s.CompareAndSwap(ctx, "subj-1", v0, signed("alice"))
	assert.True(t, errors.Is(err, port.ErrVersionMismatch))
}

func testConcurrentSwaps(t *testing.T, s port.RecordStore) {
	ctx := context.Background()
	create(t, s, "subj-1")

	_, v0, err := s.Load(ctx, "subj-1")
	require.NoError(t, err)

	const writers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		wins  int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.CompareAndSwap(ctx, "subj-1", v0, signed("writer"))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, port.ErrVersionMismatch), "writer %d: %v", i, err)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
}
