package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/kiuva-approval/internal/domain/entity"
	"github.com/garyjia/kiuva-approval/internal/domain/event"
)

type mockMessageSender struct {
	sendTextFunc func(ctx context.Context, chatID string, text string) error
	sent         []string
}

func (m *mockMessageSender) SendText(ctx context.Context, chatID string, text string) error {
	m.sent = append(m.sent, chatID+"|"+text)
	if m.sendTextFunc != nil {
		return m.sendTextFunc(ctx, chatID, text)
	}
	return nil
}

func completedEvent() *event.Event {
	evt := event.NewEvent(event.TypeApprovalCompleted, "batch-7", map[string]interface{}{
		event.KeySignerID: "carol",
	})
	evt.Timestamp = time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC)
	return evt
}

func TestNotificationService_HandleEvent(t *testing.T) {
	tests := []struct {
		name      string
		evt       *event.Event
		registry  *mockRegistry
		wantSent  int
		wantParts []string
	}{
		{
			name: "completion with title",
			evt:  completedEvent(),
			registry: &mockRegistry{getFunc: func(ctx context.Context, id string) (*entity.Subject, error) {
				return &entity.Subject{ID: id, Title: "Batch 7"}, nil
			}},
			wantSent:  1,
			wantParts: []string{"oc_chat|Approval complete: Batch 7 (batch-7)", "Final approval by carol", "2026-10-15 10:30:00 UTC"},
		},
		{
			name:      "reset without registered title",
			evt:       event.NewEvent(event.TypeApprovalReset, "batch-7", nil),
			registry:  &mockRegistry{getFunc: func(ctx context.Context, id string) (*entity.Subject, error) { return nil, errors.New("gone") }},
			wantSent:  1,
			wantParts: []string{"Approval reset: batch-7"},
		},
		{
			name:     "ignores signed events",
			evt:      event.NewEvent(event.TypeApprovalSigned, "batch-7", nil),
			registry: &mockRegistry{},
			wantSent: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockMessageSender{}
			svc := NewNotificationService(tt.registry, sender, "oc_chat", &mockLogger{})

			require.NoError(t, svc.HandleEvent(context.Background(), tt.evt))
			require.Len(t, sender.sent, tt.wantSent)
			for _, part := range tt.wantParts {
				assert.Contains(t, sender.sent[0], part)
			}
		})
	}
}

func TestNotificationService_SendFailure(t *testing.T) {
	sender := &mockMessageSender{sendTextFunc: func(ctx context.Context, chatID, text string) error {
		return errors.New("lark 99991663")
	}}
	svc := NewNotificationService(&mockRegistry{}, sender, "oc_chat", &mockLogger{})

	err := svc.HandleEvent(context.Background(), completedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send message")
}
