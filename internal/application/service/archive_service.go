package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
	"github.com/garyjia/kiuva-approval/internal/domain/event"
)

// SheetRenderer renders the sign-off sheet of a subject
type SheetRenderer interface {
	Render(subject *entity.Subject, status *Status) ([]byte, error)
}

// ArchiveService files a sign-off sheet each time a subject completes
type ArchiveService interface {
	// HandleEvent is subscribed to the dispatcher for completion events
	HandleEvent(ctx context.Context, evt *event.Event) error
}

type archiveServiceImpl struct {
	approvals ApprovalService
	subjects  port.SubjectRegistry
	renderer  SheetRenderer
	storage   port.FileStorage
	logger    Logger
}

// NewArchiveService creates a new ArchiveService
func NewArchiveService(
	approvals ApprovalService,
	subjects port.SubjectRegistry,
	renderer SheetRenderer,
	storage port.FileStorage,
	logger Logger,
) ArchiveService {
	return &archiveServiceImpl{
		approvals: approvals,
		subjects:  subjects,
		renderer:  renderer,
		storage:   storage,
		logger:    logger,
	}
}

// ArchivePath is where the sheet for a completed record version is stored
func ArchivePath(subjectID string, version int64) string {
	return fmt.Sprintf("%s/signoff-v%d.xlsx", subjectID, version)
}

func (s *archiveServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	if evt.Type != event.TypeApprovalCompleted {
		return nil
	}

	// The record is re-read: a reset may have landed since the event fired
	status, err := s.approvals.GetStatus(ctx, evt.SubjectID)
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}
	if !status.IsComplete {
		s.logger.Info("Skipping archive, record no longer complete", "subject_id", evt.SubjectID)
		return nil
	}

	path := ArchivePath(evt.SubjectID, status.Version)
	if s.storage.Exists(ctx, path) {
		return nil
	}

	subject, err := s.subjects.GetSubject(ctx, evt.SubjectID)
	if errors.Is(err, port.ErrSubjectNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subject: %w", err)
	}

	data, err := s.renderer.Render(subject, status)
	if err != nil {
		return fmt.Errorf("render sheet: %w", err)
	}
	if err := s.storage.Save(ctx, path, data); err != nil {
		s.logger.Error("Failed to archive sign-off sheet", "subject_id", evt.SubjectID, "path", path, "error", err)
		return fmt.Errorf("save sheet: %w", err)
	}

	s.logger.Info("Sign-off sheet archived", "subject_id", evt.SubjectID, "path", path, "version", status.Version)
	return nil
}
