// Package blocksource defines the streaming block-source contract the
// Downloader pulls from, and a lightwalletd-backed implementation of
// it (spec.md §6, "External Interfaces").
package blocksource

import (
	"context"

	"github.com/zecsync/warpcore/internal/compact"
)

// Header is the minimal per-height identity needed for reorg
// detection: height, hash, and previous hash.
type Header struct {
	Height   uint64
	Hash     [32]byte
	PrevHash [32]byte
}

// Source is the block-source protocol: a streaming range fetch, a tip
// query, and a single-header point query for reorg walk-back.
type Source interface {
	// GetBlockRange streams compact blocks in [start, end] in
	// ascending height order, invoking yield for each. Returning a
	// non-nil error from yield stops the stream and is propagated.
	GetBlockRange(ctx context.Context, start, end uint64, yield func(compact.Block) error) error

	// GetLatestBlock returns the current chain tip known to the
	// source.
	GetLatestBlock(ctx context.Context) (Header, error)

	// GetHeader fetches a single block's header by height, used by
	// the Reorg Handler to walk back and find the common ancestor.
	GetHeader(ctx context.Context, height uint64) (Header, error)
}
