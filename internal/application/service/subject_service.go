package service

import (
	"context"
	"errors"

	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
	"github.com/garyjia/kiuva-approval/pkg/utils"
)

const maxTitleLen = 200

// SubjectService registers the subjects approval records attach to
type SubjectService interface {
	Register(ctx context.Context, subjectID, title string) (*entity.Subject, error)
	Get(ctx context.Context, subjectID string) (*entity.Subject, error)
}

type subjectServiceImpl struct {
	registry port.SubjectRegistry
	logger   Logger
}

// NewSubjectService creates a new SubjectService
func NewSubjectService(registry port.SubjectRegistry, logger Logger) SubjectService {
	return &subjectServiceImpl{registry: registry, logger: logger}
}

// Register creates a subject with an empty approval record
func (s *subjectServiceImpl) Register(ctx context.Context, subjectID, title string) (*entity.Subject, error) {
	if err := utils.ValidateIdentifier("subject_id", subjectID); err != nil {
		return nil, invalidRequest(subjectID, err)
	}
	title = utils.SanitizeString(title)
	if len([]rune(title)) > maxTitleLen {
		title = string([]rune(title)[:maxTitleLen])
	}

	subject := &entity.Subject{ID: subjectID, Title: title}
	if err := s.registry.CreateSubject(ctx, subject); err != nil {
		if errors.Is(err, port.ErrSubjectExists) {
			return nil, &ApprovalError{Kind: KindSubjectExists, SubjectID: subjectID, Err: err}
		}
		s.logger.Error("Failed to register subject", "subject_id", subjectID, "error", err)
		return nil, &ApprovalError{Kind: KindStoreUnavailable, SubjectID: subjectID, Err: err}
	}

	s.logger.Info("Subject registered", "subject_id", subjectID)
	return subject, nil
}

// Get returns a registered subject
func (s *subjectServiceImpl) Get(ctx context.Context, subjectID string) (*entity.Subject, error) {
	if err := utils.ValidateIdentifier("subject_id", subjectID); err != nil {
		return nil, invalidRequest(subjectID, err)
	}

	subject, err := s.registry.GetSubject(ctx, subjectID)
	if errors.Is(err, port.ErrSubjectNotFound) {
		return nil, &ApprovalError{Kind: KindNotFound, SubjectID: subjectID, Err: err}
	}
	if err != nil {
		return nil, &ApprovalError{Kind: KindStoreUnavailable, SubjectID: subjectID, Err: err}
	}
	return subject, nil
}
