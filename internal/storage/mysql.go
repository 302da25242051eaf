//go:build mysql

package storage

import (
	"context"

	"github.com/zecsync/warpcore/internal/store"
	"github.com/zecsync/warpcore/internal/store/mysql"
)

func openMySQL(ctx context.Context, dsn string) (store.Store, error) {
	return mysql.Open(ctx, dsn)
}
