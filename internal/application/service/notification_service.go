package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/event"
)

// NotificationService posts approval milestones to a Lark chat
type NotificationService interface {
	// HandleEvent is subscribed to the dispatcher for completion and reset events
	HandleEvent(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	subjects      port.SubjectRegistry
	messageSender port.LarkMessageSender
	chatID        string
	logger        Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	subjects port.SubjectRegistry,
	messageSender port.LarkMessageSender,
	chatID string,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		subjects:      subjects,
		messageSender: messageSender,
		chatID:        chatID,
		logger:        logger,
	}
}

func (s *notificationServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	var headline string
	switch evt.Type {
	case event.TypeApprovalCompleted:
		headline = "Approval complete"
	case event.TypeApprovalReset:
		headline = "Approval reset"
	default:
		return nil
	}

	title := evt.SubjectID
	if subject, err := s.subjects.GetSubject(ctx, evt.SubjectID); err == nil && subject.Title != "" {
		title = fmt.Sprintf("%s (%s)", subject.Title, evt.SubjectID)
	}

	message := s.buildMessage(headline, title, evt)
	if err := s.messageSender.SendText(ctx, s.chatID, message); err != nil {
		s.logger.Error("Failed to send approval notification",
			"subject_id", evt.SubjectID,
			"event_type", evt.Type.String(),
			"error", err,
		)
		return fmt.Errorf("send message: %w", err)
	}

	s.logger.Info("Approval notification sent",
		"subject_id", evt.SubjectID,
		"event_type", evt.Type.String(),
		"chat_id", s.chatID,
	)
	return nil
}

func (s *notificationServiceImpl) buildMessage(headline, title string, evt *event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", headline, title)

	if evt.Type == event.TypeApprovalCompleted {
		if signer := evt.GetPayloadString(event.KeySignerID); signer != "" {
			fmt.Fprintf(&b, "Final approval by %s\n", signer)
		}
	}

	fmt.Fprintf(&b, "At: %s", evt.Timestamp.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
