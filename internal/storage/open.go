package storage

import (
	"context"
	"errors"
	"strings"

	logx "postpulse/pkg/logx"
)

// Store is the persistence API for scheduled post records.
//
// List returns posts ordered by ScheduledAt ascending. Create fills
// defaults (id, status, timestamps) and returns the stored record.
// Update applies a partial Patch and always refreshes UpdatedAt.
//
// Paused/SetPaused hold the process-wide scheduler pause flag; it has to
// survive restarts, so it lives next to the records.
type Store interface {
	List(ctx context.Context) ([]ScheduledPost, error)
	Get(ctx context.Context, id string) (ScheduledPost, error)
	Create(ctx context.Context, post ScheduledPost) (ScheduledPost, error)
	Update(ctx context.Context, id string, patch Patch) (ScheduledPost, error)
	Delete(ctx context.Context, id string) error

	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, v bool) error

	Close() error
}

// Open initializes the configured store. An empty driver means sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
