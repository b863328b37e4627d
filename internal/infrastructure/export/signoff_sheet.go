package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/kiuva-approval/internal/application/service"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
)

// SheetName is the name of the single worksheet in a sign-off sheet
const SheetName = "Sign-off"

// ContentType is the MIME type of the rendered workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const timestampLayout = "2006-01-02 15:04:05 MST"

// SignOffSheet renders the chain of custody of a subject as an xlsx workbook.
//
// Layout:
//
//	A1  title            A2 subject id        A3 status
//	A5  header row (Stage, Role, Signer, Signed At, Notes)
//	A6..A8 one row per role in stage order
type SignOffSheet struct {
	location *time.Location
	logger   *zap.Logger
}

// NewSignOffSheet creates a renderer that prints timestamps in loc (UTC if nil)
func NewSignOffSheet(loc *time.Location, logger *zap.Logger) *SignOffSheet {
	if loc == nil {
		loc = time.UTC
	}
	return &SignOffSheet{location: loc, logger: logger}
}

// Render builds the workbook for subject and its current status
func (s *SignOffSheet) Render(subject *entity.Subject, status *service.Status) ([]byte, error) {
	if subject == nil || status == nil {
		return nil, fmt.Errorf("subject and status are required")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	title := subject.Title
	if title == "" {
		title = subject.ID
	}
	s.setCell(f, "A1", title)
	s.setCell(f, "A2", "Subject")
	s.setCell(f, "B2", subject.ID)
	s.setCell(f, "A3", "Status")
	s.setCell(f, "B3", status.Status.String())

	headers := []string{"Stage", "Role", "Signer", "Signed At", "Notes"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 5)
		s.setCell(f, cell, h)
	}

	for i, role := range entity.Roles {
		row := 6 + i
		s.setCell(f, fmt.Sprintf("A%d", row), role.Stage())
		s.setCell(f, fmt.Sprintf("B%d", row), role.String())

		sig, ok := status.Signatures[role]
		if !ok {
			s.setCell(f, fmt.Sprintf("C%d", row), "pending")
			continue
		}
		s.setCell(f, fmt.Sprintf("C%d", row), sig.SignerID)
		s.setCell(f, fmt.Sprintf("D%d", row), sig.Timestamp.In(s.location).Format(timestampLayout))
		s.setCell(f, fmt.Sprintf("E%d", row), sig.Notes)
	}

	if err := s.applyStyles(f); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	s.logger.Info("Sign-off sheet rendered",
		zap.String("subject_id", subject.ID),
		zap.String("status", status.Status.String()),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (s *SignOffSheet) applyStyles(f *excelize.File) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", "A1", bold); err != nil {
		return fmt.Errorf("failed to style title: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A5", "E5", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	if err := f.SetColWidth(SheetName, "C", "E", 24); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	return nil
}

func (s *SignOffSheet) setCell(f *excelize.File, cell string, value interface{}) {
	if err := f.SetCellValue(SheetName, cell, value); err != nil {
		s.logger.Warn("Failed to set cell", zap.String("cell", cell), zap.Error(err))
	}
}
