package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/kiuva-approval/internal/application/service"
)

var statusByKind = map[service.ErrorKind]int{
	service.KindNotFound:          http.StatusNotFound,
	service.KindInvalidTransition: http.StatusConflict,
	service.KindConflictingSigner: http.StatusConflict,
	service.KindSubjectExists:     http.StatusConflict,
	service.KindContention:        http.StatusServiceUnavailable,
	service.KindTimeout:           http.StatusGatewayTimeout,
	service.KindStoreUnavailable:  http.StatusBadGateway,
	service.KindInvalidRequest:    http.StatusBadRequest,
}

// writeError maps a service error onto the response envelope
func (h *Handlers) writeError(c *gin.Context, err error) {
	kind, ok := service.KindOf(err)
	if !ok {
		h.logger.Error("Unclassified handler error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error", Code: "internal"})
		return
	}

	status := statusByKind[kind]
	if kind == service.KindContention {
		c.Header("Retry-After", strconv.Itoa(h.retryAfterSeconds()))
	}

	message := err.Error()
	if kind == service.KindStoreUnavailable {
		// driver errors stay in the logs
		message = "approval store unavailable"
	}

	c.JSON(status, Response{Success: false, Error: message, Code: string(kind)})
}

func (h *Handlers) retryAfterSeconds() int {
	secs := int((h.retryAfter + 999_999_999) / 1_000_000_000)
	if secs < 1 {
		return 1
	}
	return secs
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   message,
		Code:    string(service.KindInvalidRequest),
	})
}
