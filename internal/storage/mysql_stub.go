//go:build !mysql

package storage

import (
	"context"
	"errors"

	"github.com/zecsync/warpcore/internal/store"
)

func openMySQL(context.Context, string) (store.Store, error) {
	return nil, errors.New("storage: mysql adapter is not built; rebuild with -tags=mysql")
}
