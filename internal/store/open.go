package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rfidattend/internal/attendance"
)

// Options selects and locates the primary store.
type Options struct {
	Backend     string // postgres or sqlite
	DatabaseURL string
	SQLitePath  string
	// ConnectTimeout bounds the initial Postgres ping.
	ConnectTimeout time.Duration
}

// Handle is an opened, migrated primary store.
type Handle struct {
	Repo    attendance.Repository
	Backend string
	// SQL is the Postgres pool; nil for SQLite.
	SQL   *sql.DB
	close func() error
}

// Close releases the store.
func (h *Handle) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	return h.close()
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Backend {
	case "sqlite":
		db, err := OpenSQLite(opts.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite store ready", zap.String("path", opts.SQLitePath))
		return &Handle{Repo: db, Backend: opts.Backend, close: db.Close}, nil
	case "postgres", "":
		timeout := opts.ConnectTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		db, err := NewDB(ctx, opts.DatabaseURL, timeout)
		if err != nil {
			return nil, err
		}
		if err := MigratePostgres(db.Client, logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("postgres store ready")
		return &Handle{Repo: NewPostgres(db.Client), Backend: "postgres", SQL: db.Client, close: db.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
