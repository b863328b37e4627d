package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/kiuva-approval/internal/application/dispatcher"
	"github.com/garyjia/kiuva-approval/internal/application/port"
	"github.com/garyjia/kiuva-approval/internal/application/service"
	"github.com/garyjia/kiuva-approval/internal/config"
	"github.com/garyjia/kiuva-approval/internal/domain/event"
	"github.com/garyjia/kiuva-approval/internal/infrastructure/export"
	"github.com/garyjia/kiuva-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/kiuva-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/kiuva-approval/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/kiuva-approval/internal/infrastructure/persistence/redisstore"
	"github.com/garyjia/kiuva-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/kiuva-approval/internal/infrastructure/storage"
	"github.com/garyjia/kiuva-approval/pkg/database"
)

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Approval     service.ApprovalService
	Subject      service.SubjectService
	Notification service.NotificationService // nil when Lark is not configured
	Archive      service.ArchiveService      // nil when archive.dir is empty
}

// ProvideStore opens the record store selected by cfg.Driver.
func ProvideStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (port.RecordStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewStore(logger)
	case config.DriverSQLite:
		return sqlite.Open(ctx, database.SQLiteConfig{
			Config: database.Config{
				MaxOpenConns:    cfg.SQLite.MaxOpenConns,
				MaxIdleConns:    cfg.SQLite.MaxIdleConns,
				ConnMaxLifetime: cfg.SQLite.ConnMaxLifetime,
			},
			Path: cfg.SQLite.Path,
		}, logger)
	case config.DriverPostgres:
		return postgres.Open(ctx, database.PostgresConfig{
			Config: database.Config{
				MaxOpenConns:    cfg.Postgres.MaxOpenConns,
				MaxIdleConns:    cfg.Postgres.MaxIdleConns,
				ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			},
			DSN: cfg.Postgres.DSN,
		}, logger)
	case config.DriverRedis:
		return redisstore.Open(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// ProvideServices creates the approval and subject services.
func ProvideServices(store port.RecordStore, cfg config.ApprovalConfig, logger *zap.Logger) *ServiceBundle {
	serviceLogger := &zapLoggerAdapter{logger: logger.Named("service")}

	return &ServiceBundle{
		Approval: service.NewApprovalService(store, serviceLogger,
			service.WithRetryPolicy(service.RetryPolicy{
				MaxAttempts:     cfg.MaxAttempts,
				InitialInterval: cfg.InitialInterval,
				MaxInterval:     cfg.MaxInterval,
			}),
			service.WithSignTimeout(cfg.SignTimeout),
		),
		Subject: service.NewSubjectService(store, serviceLogger),
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
	), nil
}

// ProvideNotifier wires the Lark chat notifier to completion and reset events.
// It returns nil when Lark is not configured.
func ProvideNotifier(
	cfg config.LarkConfig,
	subjects port.SubjectRegistry,
	d dispatcher.Dispatcher,
	logger *zap.Logger,
) (service.NotificationService, error) {
	if !cfg.Enabled() {
		logger.Info("Lark notifications disabled")
		return nil, nil
	}

	client, err := lark.NewSDKClient(lark.Config{AppID: cfg.AppID, AppSecret: cfg.AppSecret}, logger)
	if err != nil {
		return nil, fmt.Errorf("create lark client: %w", err)
	}

	notifier := service.NewNotificationService(
		subjects,
		lark.NewMessenger(client, logger),
		cfg.NotifyChatID,
		&zapLoggerAdapter{logger: logger.Named("notification")},
	)

	d.Subscribe(event.TypeApprovalCompleted, "lark-notifier", notifier.HandleEvent)
	d.Subscribe(event.TypeApprovalReset, "lark-notifier", notifier.HandleEvent)
	return notifier, nil
}

// ProvideArchiver files a sign-off sheet under cfg.Dir whenever a subject
// completes. It returns nil when archiving is disabled.
func ProvideArchiver(
	cfg config.ArchiveConfig,
	services *ServiceBundle,
	subjects port.SubjectRegistry,
	sheets *export.SignOffSheet,
	d dispatcher.Dispatcher,
	logger *zap.Logger,
) (service.ArchiveService, error) {
	if cfg.Dir == "" {
		return nil, nil
	}

	files, err := storage.NewLocalFileStorage(cfg.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("create archive storage: %w", err)
	}

	archiver := service.NewArchiveService(
		services.Approval,
		subjects,
		sheets,
		files,
		&zapLoggerAdapter{logger: logger},
	)
	d.Subscribe(event.TypeApprovalCompleted, "sheet-archiver", archiver.HandleEvent)
	logger.Info("Sign-off archive enabled", zap.String("dir", cfg.Dir))
	return archiver, nil
}
