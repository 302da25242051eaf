// Package storage selects and opens one of the three store.Store
// backends (postgres, mysql, rocksdb) by driver name, so cmd/warpcore
// doesn't need to know which backend a deployment was configured with.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zecsync/warpcore/internal/store"
	"github.com/zecsync/warpcore/internal/store/postgres"
	"github.com/zecsync/warpcore/internal/store/rocksdb"
)

type Config struct {
	Driver string

	DSN    string
	Schema string
	Path   string
}

func Open(ctx context.Context, cfg Config) (store.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "postgres":
		return postgres.Open(ctx, cfg.DSN, cfg.Schema)
	case "rocksdb":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage: db path is required for rocksdb")
		}
		return rocksdb.Open(cfg.Path)
	case "mysql":
		return openMySQL(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
