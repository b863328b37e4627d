// Package http exposes the approval services over a gin router.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/kiuva-approval/internal/application/dispatcher"
	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/application/service"
	"github.com/garyjia/kiuva-approval/internal/domain/entity"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SheetRenderer renders the sign-off sheet of a subject
type SheetRenderer interface {
	Render(subject *entity.Subject, status *service.Status) ([]byte, error)
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RateLimit is the sustained requests per second allowed per client IP; 0 disables limiting
	RateLimit float64
	RateBurst int

	// RetryAfter is advertised to callers that hit contention
	RetryAfter time.Duration

	// TrustedProxies lists the proxy IPs or CIDRs whose forwarding headers
	// are honored for the client IP. Empty means the socket peer is used.
	TrustedProxies []string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		RateLimit:    20,
		RateBurst:    40,
		RetryAfter:   time.Second,
	}
}

// Dependencies are the collaborators the handlers call
type Dependencies struct {
	Approvals  service.ApprovalService
	Subjects   service.SubjectService
	Dispatcher dispatcher.Dispatcher
	Sheets     SheetRenderer
	Health     port.HealthChecker
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}

	if err := server.router.SetTrustedProxies(config.TrustedProxies); err != nil {
		logger.Error("Invalid trusted proxies, using socket peer address", "error", err)
		_ = server.router.SetTrustedProxies(nil)
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(loggingMiddleware(s.logger))
}

func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.deps, s.config.RetryAfter, s.logger)

	s.router.GET("/health", handlers.HealthCheck)

	api := s.router.Group("/api")
	if s.config.RateLimit > 0 {
		api.Use(newClientLimiter(s.config.RateLimit, s.config.RateBurst).middleware())
	}
	{
		api.POST("/subjects", handlers.RegisterSubject)

		approval := api.Group("/subjects/:id/approval")
		approval.GET("", handlers.GetStatus)
		approval.GET("/complete", handlers.IsComplete)
		approval.GET("/sheet", handlers.DownloadSheet)
		approval.POST("/sign", handlers.Sign)
		approval.POST("/reset", handlers.Reset)
	}
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
