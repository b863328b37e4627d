package database

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresConfig configures a PostgreSQL connection
type PostgresConfig struct {
	Config
	DSN string
}

// OpenPostgres opens a PostgreSQL connection pool through lib/pq
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := open(ctx, "postgres", cfg.DSN, cfg.Config)
	if err != nil {
		return nil, err
	}

	logger.Info("Database connection established", zap.String("driver", "postgres"))
	return db, nil
}
