package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "teamsrelay/pkg/logx"
)

// Store is the persistence API used by the audit sink.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// PruneAudit deletes entries older than before and reports how many went.
	PruneAudit(ctx context.Context, before time.Time) (int, error)
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
