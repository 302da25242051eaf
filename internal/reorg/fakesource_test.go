package reorg_test

import (
	"context"
	"fmt"

	"github.com/zecsync/warpcore/internal/blocksource"
	"github.com/zecsync/warpcore/internal/compact"
)

// fakeSource is a minimal blocksource.Source backed by an in-memory
// height -> hash table, for exercising the Reorg Handler without a
// real lightwalletd connection.
type fakeSource struct {
	hashes map[uint64][32]byte
	tip    uint64
}

func (s *fakeSource) GetBlockRange(ctx context.Context, start, end uint64, yield func(compact.Block) error) error {
	return nil
}

func (s *fakeSource) GetLatestBlock(ctx context.Context) (blocksource.Header, error) {
	return blocksource.Header{Height: s.tip, Hash: s.hashes[s.tip]}, nil
}

func (s *fakeSource) GetHeader(ctx context.Context, height uint64) (blocksource.Header, error) {
	hash, ok := s.hashes[height]
	if !ok {
		return blocksource.Header{}, fmt.Errorf("fakesource: no header at height %d", height)
	}
	return blocksource.Header{Height: height, Hash: hash}, nil
}
