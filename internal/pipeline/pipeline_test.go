package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zecsync/warpcore/internal/blocksource"
	"github.com/zecsync/warpcore/internal/compact"
	"github.com/zecsync/warpcore/internal/keys"
	"github.com/zecsync/warpcore/internal/protocol"
)

func TestNewRejectsNilDependencies(t *testing.T) {
	ctx := context.Background()
	reg := keys.NewRegistry(nil)

	_, err := New(ctx, nil, &fakeStore{}, reg, DefaultConfig(), zerolog.Nop())
	require.Error(t, err)

	_, err = New(ctx, &fakeSource{}, nil, reg, DefaultConfig(), zerolog.Nop())
	require.Error(t, err)

	_, err = New(ctx, &fakeSource{}, &fakeStore{}, nil, DefaultConfig(), zerolog.Nop())
	require.Error(t, err)
}

func TestRunOnceDownloadsDecryptsAndCommitsOneChunk(t *testing.T) {
	ctx := context.Background()
	ivk := protocol.IncomingViewingKey{0xA1}
	fvk := protocol.FullViewingKey{0xAA}

	out, err := encryptNote(ivk, [32]byte{0x01}, protocol.Plaintext{Value: 777})
	require.NoError(t, err)

	block := compact.Block{
		Height: 0,
		Hash:   [32]byte{0x10},
		Txs: []compact.Tx{{
			Index: 0,
			Hash:  [32]byte{0x20},
			Outputs: []compact.Output{
				{Pool: protocol.Sapling, Index: 0, Output: out},
			},
		}},
	}

	src := &fakeSource{
		blocks: []compact.Block{block},
		tip:    blocksource.Header{Height: 0, Hash: block.Hash},
	}
	st := &fakeStore{}
	reg := keys.NewRegistry([]keys.KeySet{
		{Account: 1, Pool: protocol.Sapling, IVK: ivk, FVK: fvk},
	})

	p, err := New(ctx, src, st, reg, DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, p.runOnce(ctx))

	require.Len(t, st.blocks, 1)
	require.Equal(t, int64(0), st.blocks[0].Height)
	require.NotEmpty(t, st.blocks[0].SaplingFrontier)

	require.Len(t, st.notes, 1)
	require.Equal(t, int64(1), st.notes[0].Account)
	require.Equal(t, uint64(777), st.notes[0].Value)

	require.NotEmpty(t, st.witnesses)
}

func TestRunOnceIsNoOpWithNoBlocksAvailable(t *testing.T) {
	ctx := context.Background()

	src := &fakeSource{tip: blocksource.Header{Height: 0}}
	reg := keys.NewRegistry(nil)

	p, err := New(ctx, src, &fakeStore{}, reg, DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, p.runOnce(ctx))
	require.Empty(t, p.st.(*fakeStore).blocks)
}
