package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/kiuva-approval/internal/application/dispatcher"
	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/config"
	"github.com/garyjia/kiuva-approval/internal/infrastructure/export"
	httpapi "github.com/garyjia/kiuva-approval/internal/interfaces/http"
)

const dispatcherDrainTimeout = 5 * time.Second

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	store      port.RecordStore
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle
	server     *httpapi.Server

	provideStore func(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (port.RecordStore, error)

	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{config: cfg, logger: logger, provideStore: ProvideStore}, nil
}

// Start initializes all components:
// 1. Record store
// 2. Application services
// 3. Event dispatcher and subscribers
// 4. HTTP server (not yet listening)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization", zap.String("store_driver", c.config.Store.Driver))

	store, err := c.provideStore(ctx, c.config.Store, c.logger.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	c.store = store
	c.logger.Info("Store initialized")

	c.services = ProvideServices(store, c.config.Approval, c.logger)

	d, err := ProvideDispatcher(c.logger)
	if err != nil {
		return c.abortStart(fmt.Errorf("failed to initialize dispatcher: %w", err))
	}
	c.dispatcher = d

	notifier, err := ProvideNotifier(c.config.Lark, store, d, c.logger.Named("lark"))
	if err != nil {
		return c.abortStart(fmt.Errorf("failed to initialize notifier: %w", err))
	}
	c.services.Notification = notifier

	sheets := export.NewSignOffSheet(time.UTC, c.logger.Named("export"))
	archiver, err := ProvideArchiver(c.config.Archive, c.services, store, sheets, d, c.logger.Named("archive"))
	if err != nil {
		return c.abortStart(fmt.Errorf("failed to initialize archive: %w", err))
	}
	c.services.Archive = archiver

	c.server = httpapi.NewServer(c.serverConfig(), httpapi.Dependencies{
		Approvals:  c.services.Approval,
		Subjects:   c.services.Subject,
		Dispatcher: d,
		Sheets:     sheets,
		Health:     store,
	}, &zapLoggerAdapter{logger: c.logger.Named("http")})

	c.ready.Store(true)
	c.logger.Info("Container started")
	return nil
}

// abortStart releases what a failed Start already opened. Caller holds mu.
func (c *Container) abortStart(cause error) error {
	errs := []error{cause}
	if c.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTimeout)
		if err := c.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		cancel()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	c.store, c.dispatcher, c.services = nil, nil, nil
	c.logger.Error("Container start aborted", zap.Error(cause))
	return errors.Join(errs...)
}

func (c *Container) serverConfig() httpapi.ServerConfig {
	sc := httpapi.DefaultServerConfig()
	s := c.config.Server
	sc.Host = s.Host
	sc.Port = s.Port
	if s.ReadTimeout > 0 {
		sc.ReadTimeout = s.ReadTimeout
	}
	if s.WriteTimeout > 0 {
		sc.WriteTimeout = s.WriteTimeout
	}
	sc.RateLimit = s.RateLimit.RPS
	sc.RateBurst = s.RateLimit.Burst
	sc.TrustedProxies = s.TrustedProxies
	if c.config.Approval.MaxInterval > 0 {
		sc.RetryAfter = c.config.Approval.MaxInterval
	}
	return sc
}

// Close releases all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	var errs []error

	// Step 1: let in-flight notifications finish
	if c.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTimeout)
		err := c.dispatcher.Close(ctx)
		cancel()
		if err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	// Step 2: close the store
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Error("Failed to close store", zap.Error(err))
			errs = append(errs, fmt.Errorf("close store: %w", err))
		} else {
			c.logger.Info("Store closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	switch {
	case c.store == nil:
		status.Components["store"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	default:
		if err := c.store.Ping(ctx); err != nil {
			status.Components["store"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
			status.Overall = false
		} else {
			status.Components["store"] = ComponentHealth{Healthy: true, Message: c.config.Store.Driver}
		}
	}

	if c.dispatcher != nil {
		status.Components["dispatcher"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["dispatcher"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	notifier := ComponentHealth{Healthy: true, Message: "disabled"}
	if c.services != nil && c.services.Notification != nil {
		notifier.Message = "lark"
	}
	status.Components["notifier"] = notifier

	archive := ComponentHealth{Healthy: true, Message: "disabled"}
	if c.services != nil && c.services.Archive != nil {
		archive.Message = c.config.Archive.Dir
	}
	status.Components["archive"] = archive

	return status
}

// Server returns the HTTP server.
func (c *Container) Server() *httpapi.Server {
	return c.server
}

// Services returns the application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Store returns the record store.
func (c *Container) Store() port.RecordStore {
	return c.store
}

// zapLoggerAdapter adapts zap.Logger to the minimal Logger interfaces of the
// service, dispatcher and http packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
