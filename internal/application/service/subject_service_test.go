package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
)

type mockRegistry struct {
	createFunc func(ctx context.Context, subject *entity.Subject) error
	getFunc    func(ctx context.Context, subjectID string) (*entity.Subject, error)
}

func (m *mockRegistry) CreateSubject(ctx context.Context, subject *entity.Subject) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, subject)
	}
	return nil
}

func (m *mockRegistry) GetSubject(ctx context.Context, subjectID string) (*entity.Subject, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, subjectID)
	}
	return &entity.Subject{ID: subjectID}, nil
}

func TestSubjectService_Register(t *testing.T) {
	tests := []struct {
		name      string
		subjectID string
		title     string
		createErr error
		wantKind  ErrorKind
		wantTitle string
	}{
		{name: "registers", subjectID: "batch-7", title: "Batch 7\x00", wantTitle: "Batch 7"},
		{name: "truncates long titles", subjectID: "batch-8", title: strings.Repeat("t", 300), wantTitle: strings.Repeat("t", 200)},
		{name: "rejects bad id", subjectID: "bad id", wantKind: KindInvalidRequest},
		{name: "duplicate", subjectID: "batch-7", createErr: port.ErrSubjectExists, wantKind: KindSubjectExists},
		{name: "store down", subjectID: "batch-7", createErr: errors.New("disk full"), wantKind: KindStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &mockRegistry{createFunc: func(ctx context.Context, subject *entity.Subject) error {
				return tt.createErr
			}}
			svc := NewSubjectService(registry, &mockLogger{})

			subject, err := svc.Register(context.Background(), tt.subjectID, tt.title)
			if tt.wantKind != "" {
				requireKind(t, err, tt.wantKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subjectID, subject.ID)
			assert.Equal(t, tt.wantTitle, subject.Title)
		})
	}
}

func TestSubjectService_Get(t *testing.T) {
	registry := &mockRegistry{getFunc: func(ctx context.Context, subjectID string) (*entity.Subject, error) {
		if subjectID == "ghost" {
			return nil, port.ErrSubjectNotFound
		}
		return &entity.Subject{ID: subjectID, Title: "Batch"}, nil
	}}
	svc := NewSubjectService(registry, &mockLogger{})

	subject, err := svc.Get(context.Background(), "batch-7")
	require.NoError(t, err)
	assert.Equal(t, "Batch", subject.Title)

	_, err = svc.Get(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSubjectService_RegisterWithMemoryStore(t *testing.T) {
	store := newMemoryStore(t)
	subjects := NewSubjectService(store, &mockLogger{})
	approvals := newTestService(store)

	_, err := subjects.Register(context.Background(), "batch-9", "Batch 9")
	require.NoError(t, err)

	status, err := approvals.GetStatus(context.Background(), "batch-9")
	require.NoError(t, err)
	assert.Empty(t, status.Signatures)

	_, err = subjects.Register(context.Background(), "batch-9", "again")
	assert.True(t, errors.Is(err, ErrSubjectExists))
}
