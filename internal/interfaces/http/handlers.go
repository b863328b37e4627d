package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/kiuva-approval/internal/application/service"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
	"github.com/garyjia/kiuva-approval/internal/domain/event"
	"github.com/garyjia/kiuva-approval/internal/domain/workflow"
	exportsheet "github.com/garyjia/kiuva-approval/internal/infrastructure/export"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps       Dependencies
	retryAfter time.Duration
	logger     Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, retryAfter time.Duration, logger Logger) *Handlers {
	return &Handlers{deps: deps, retryAfter: retryAfter, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Store     string `json:"store"`
}

// RegisterSubjectRequest is the body of POST /api/subjects
type RegisterSubjectRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	Title     string `json:"title"`
}

// SignRequest is the body of POST /api/subjects/:id/approval/sign
type SignRequest struct {
	Role     string `json:"role" binding:"required"`
	SignerID string `json:"signer_id" binding:"required"`
	Notes    string `json:"notes"`
}

// CompleteResponse is returned by GET /api/subjects/:id/approval/complete
type CompleteResponse struct {
	SubjectID  string `json:"subject_id"`
	IsComplete bool   `json:"is_complete"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Store:     "ok",
	}

	if h.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Health.Ping(ctx); err != nil {
			h.logger.Error("Store health check failed", "error", err)
			response.Status = "unhealthy"
			response.Store = "unreachable"
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: response, Error: "store unreachable"})
			return
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: response})
}

// RegisterSubject handles POST /api/subjects
func (h *Handlers) RegisterSubject(c *gin.Context) {
	var req RegisterSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "subject_id is required")
		return
	}

	subject, err := h.deps.Subjects.Register(c.Request.Context(), req.SubjectID, req.Title)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.publish(c, event.TypeSubjectCreated, subject.ID, map[string]interface{}{
		event.KeyTitle: subject.Title,
	})
	c.JSON(http.StatusCreated, Response{Success: true, Data: subject})
}

// Sign handles POST /api/subjects/:id/approval/sign
func (h *Handlers) Sign(c *gin.Context) {
	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "role and signer_id are required")
		return
	}

	role, err := entity.ParseRole(req.Role)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	subjectID := c.Param("id")
	result, err := h.deps.Approvals.Sign(c.Request.Context(), service.SignRequest{
		SubjectID: subjectID,
		Role:      role,
		SignerID:  req.SignerID,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.publish(c, event.TypeApprovalSigned, subjectID, map[string]interface{}{
		event.KeyRole:     role.String(),
		event.KeySignerID: req.SignerID,
		event.KeyState:    result.Status.String(),
		event.KeyVersion:  result.Version,
	})
	if result.Status == workflow.StateComplete {
		h.publish(c, event.TypeApprovalCompleted, subjectID, map[string]interface{}{
			event.KeySignerID: req.SignerID,
			event.KeyVersion:  result.Version,
		})
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// GetStatus handles GET /api/subjects/:id/approval
func (h *Handlers) GetStatus(c *gin.Context) {
	status, err := h.deps.Approvals.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: status})
}

// IsComplete handles GET /api/subjects/:id/approval/complete
func (h *Handlers) IsComplete(c *gin.Context) {
	subjectID := c.Param("id")
	complete, err := h.deps.Approvals.IsComplete(c.Request.Context(), subjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: CompleteResponse{SubjectID: subjectID, IsComplete: complete}})
}

// Reset handles POST /api/subjects/:id/approval/reset
func (h *Handlers) Reset(c *gin.Context) {
	subjectID := c.Param("id")
	result, err := h.deps.Approvals.Reset(c.Request.Context(), subjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.publish(c, event.TypeApprovalReset, subjectID, map[string]interface{}{
		event.KeyVersion: result.Version,
	})
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// DownloadSheet handles GET /api/subjects/:id/approval/sheet
func (h *Handlers) DownloadSheet(c *gin.Context) {
	if h.deps.Sheets == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "sheet export disabled", Code: "not_found"})
		return
	}

	subjectID := c.Param("id")
	subject, err := h.deps.Subjects.Get(c.Request.Context(), subjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	status, err := h.deps.Approvals.GetStatus(c.Request.Context(), subjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	data, err := h.deps.Sheets.Render(subject, status)
	if err != nil {
		h.logger.Error("Failed to render sign-off sheet", "subject_id", subjectID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to render sheet", Code: "internal"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-signoff.xlsx"`, subjectID))
	c.Data(http.StatusOK, exportsheet.ContentType, data)
}

// publish dispatches an event after the operation succeeded. Delivery is
// detached from the request so a client disconnect does not cancel it.
func (h *Handlers) publish(c *gin.Context, eventType event.Type, subjectID string, payload map[string]interface{}) {
	if h.deps.Dispatcher == nil {
		return
	}
	evt := event.NewEventWithCorrelation(eventType, subjectID, payload, requestID(c))
	h.deps.Dispatcher.PublishAsync(context.WithoutCancel(c.Request.Context()), evt)
}
