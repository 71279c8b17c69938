package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "nftwatch/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Store is the ledger persistence API.
//
// One persisted sequence exists per (collection, category). SaveIDs replaces
// the whole persisted sequence atomically: a reader never observes a partial
// write. LoadIDs returns an empty sequence for state that was never saved.
type Store interface {
	LoadIDs(ctx context.Context, collection, category string) ([]string, error)
	SaveIDs(ctx context.Context, collection, category string, ids []string) error
	Close() error
}

// Config configures ledger persistence.
//
// Driver values:
//   - "file" (default): one line-list file per collection+category
//   - "sqlite": single database file (build with -tags sqlite)
type Config struct {
	Driver      string
	Dir         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
