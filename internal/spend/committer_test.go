package spend_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zecsync/warpcore/internal/compact"
	"github.com/zecsync/warpcore/internal/decrypter"
	"github.com/zecsync/warpcore/internal/keys"
	"github.com/zecsync/warpcore/internal/protocol"
	"github.com/zecsync/warpcore/internal/spend"
	"github.com/zecsync/warpcore/internal/store"
	"github.com/zecsync/warpcore/internal/tree"
	"github.com/zecsync/warpcore/internal/treebuilder"
)

func commitment(b byte) protocol.Node {
	var n protocol.Node
	n[0] = b
	return n
}

func TestCommitWritesBlockNoteTransactionAndWitness(t *testing.T) {
	ctx := context.Background()
	txHash := [32]byte{0xaa}

	chunk := compact.Chunk{
		StartHeight: 100,
		EndHeight:   100,
		Blocks: []compact.Block{{
			Height: 100,
			Hash:   [32]byte{0xbb},
			Time:   1700000000,
			Txs: []compact.Tx{{
				Index: 0,
				Hash:  txHash,
				Outputs: []compact.Output{
					{Pool: protocol.Sapling, Index: 0, Output: protocol.CompactOutput{Commitment: commitment(0x01)}},
				},
			}},
		}},
	}

	matches := map[protocol.Pool][]decrypter.Match{
		protocol.Sapling: {{
			Account:     1,
			Pool:        protocol.Sapling,
			ChunkIndex:  0,
			Height:      100,
			TxHash:      txHash,
			TxIndex:     0,
			OutputIndex: 0,
			Note:        protocol.Plaintext{Value: 500},
		}},
	}

	tb := treebuilder.New(map[protocol.Pool]*tree.Frontier{}, zerolog.Nop())
	res, err := tb.Build(chunk, matches)
	require.NoError(t, err)
	require.Len(t, res.Notes[protocol.Sapling], 1)

	reg := keys.NewRegistry([]keys.KeySet{
		{Account: 1, Pool: protocol.Sapling, IVK: protocol.IncomingViewingKey{0x01}, FVK: protocol.FullViewingKey{0xaa}},
	})
	idx := spend.NewIndex()
	fs := &fakeStore{}
	committer := spend.New(fs, reg, idx, tb, zerolog.Nop())

	require.NoError(t, committer.Commit(ctx, chunk, res))

	require.Len(t, fs.blocks, 1)
	require.Equal(t, int64(100), fs.blocks[0].Height)
	require.NotEmpty(t, fs.blocks[0].SaplingFrontier)

	require.Len(t, fs.notes, 1)
	require.Equal(t, int64(1), fs.notes[0].Account)
	require.Equal(t, uint64(500), fs.notes[0].Value)
	require.Nil(t, fs.notes[0].SpentHeight)

	require.Len(t, fs.transactions, 1)
	require.Equal(t, int64(500), fs.transactions[0].Value)
	require.Equal(t, txHash, fs.transactions[0].TxID)

	require.NotEmpty(t, fs.witnesses)
	require.Equal(t, fs.notes[0].ID, fs.witnesses[0].NoteID)
}

func TestCommitMarksPreviouslyUnspentNoteAsSpent(t *testing.T) {
	ctx := context.Background()
	nullifier := [32]byte{0x42}
	spendTxHash := [32]byte{0xcc}

	fs := &fakeStore{
		notes: []store.Note{{ID: 1, Account: 9, Nullifier: nullifier}},
	}

	idx := spend.NewIndex()
	idx.LoadUnspent(protocol.Sapling, fs.notes)

	tb := treebuilder.New(map[protocol.Pool]*tree.Frontier{}, zerolog.Nop())
	reg := keys.NewRegistry(nil)
	committer := spend.New(fs, reg, idx, tb, zerolog.Nop())

	chunk := compact.Chunk{
		StartHeight: 50,
		EndHeight:   50,
		Blocks: []compact.Block{{
			Height: 50,
			Hash:   [32]byte{0xdd},
			Txs: []compact.Tx{{
				Index:  0,
				Hash:   spendTxHash,
				Spends: []compact.Spend{{Pool: protocol.Sapling, Nullifier: nullifier}},
			}},
		}},
	}

	require.NoError(t, committer.Commit(ctx, chunk, treebuilder.Result{}))

	require.NotNil(t, fs.notes[0].SpentHeight)
	require.Equal(t, int64(50), *fs.notes[0].SpentHeight)

	require.Len(t, fs.transactions, 1)
	require.Equal(t, int64(9), fs.transactions[0].Account)
	require.Equal(t, spendTxHash, fs.transactions[0].TxID)

	// Once a commit has recorded a note as spent, the index must stop
	// resolving its position at all — otherwise a later commit's
	// writeWitnesses pass would keep re-inserting a witness row for a
	// note nobody can spend again.
	_, stillTracked := idx.NullifierAtPosition(protocol.Sapling, 0)
	require.False(t, stillTracked)
	require.Empty(t, idx.Detect(chunk))
}

// TestCommitDoesNotReWriteWitnessForNoteSpentInEarlierCommit exercises
// two successive commits: the first both spends a note and observes
// the frontier still tracking a witness for it, the second commits an
// unrelated empty chunk. No witness row may be written for the spent
// note in either commit once Commit has processed it.
func TestCommitDoesNotReWriteWitnessForNoteSpentInEarlierCommit(t *testing.T) {
	ctx := context.Background()
	nullifier := [32]byte{0x55}

	fs := &fakeStore{
		notes: []store.Note{{ID: 1, Account: 3, Nullifier: nullifier, Position: 0}},
	}

	idx := spend.NewIndex()
	idx.LoadUnspent(protocol.Sapling, fs.notes)

	frontier := tree.NewFrontier(mustCapability(t, protocol.Sapling))
	frontier.AddWitness(tree.Witness{Path: tree.Path{Pos: 0, Value: commitment(0x01)}})
	tb := treebuilder.New(map[protocol.Pool]*tree.Frontier{protocol.Sapling: frontier}, zerolog.Nop())
	reg := keys.NewRegistry(nil)
	committer := spend.New(fs, reg, idx, tb, zerolog.Nop())

	chunk1 := compact.Chunk{
		StartHeight: 50,
		EndHeight:   50,
		Blocks: []compact.Block{{
			Height: 50,
			Hash:   [32]byte{0xee},
			Txs: []compact.Tx{{
				Index:  0,
				Hash:   [32]byte{0x01},
				Spends: []compact.Spend{{Pool: protocol.Sapling, Nullifier: nullifier}},
			}},
		}},
	}
	require.NoError(t, committer.Commit(ctx, chunk1, treebuilder.Result{}))
	require.Empty(t, fs.witnesses, "no witness row for a note spent in this same chunk")
	require.Empty(t, frontier.Witnesses, "the frontier must drop the witness once its note is spent")

	chunk2 := compact.Chunk{
		StartHeight: 51,
		EndHeight:   51,
		Blocks: []compact.Block{{
			Height: 51,
			Hash:   [32]byte{0xff},
		}},
	}
	require.NoError(t, committer.Commit(ctx, chunk2, treebuilder.Result{}))
	require.Empty(t, fs.witnesses, "a note spent in an earlier commit must never get a witness row again")
}

func mustCapability(t *testing.T, pool protocol.Pool) protocol.Capability {
	t.Helper()
	pc, err := protocol.For(pool)
	require.NoError(t, err)
	return pc
}

func TestCommitRollsBackIndexOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	txHash := [32]byte{0x01}

	chunk := compact.Chunk{
		Blocks: []compact.Block{{
			Height: 1,
			Txs: []compact.Tx{{
				Index:   0,
				Hash:    txHash,
				Outputs: []compact.Output{{Pool: protocol.Sapling, Index: 0, Output: protocol.CompactOutput{Commitment: commitment(0x01)}}},
			}},
		}},
	}
	matches := map[protocol.Pool][]decrypter.Match{
		protocol.Sapling: {{Account: 1, Pool: protocol.Sapling, ChunkIndex: 0, Height: 1, TxHash: txHash, Note: protocol.Plaintext{Value: 10}}},
	}

	tb := treebuilder.New(map[protocol.Pool]*tree.Frontier{}, zerolog.Nop())
	res, err := tb.Build(chunk, matches)
	require.NoError(t, err)

	reg := keys.NewRegistry([]keys.KeySet{
		{Account: 1, Pool: protocol.Sapling, IVK: protocol.IncomingViewingKey{0x01}, FVK: protocol.FullViewingKey{0xaa}},
	})
	idx := spend.NewIndex()
	fs := &fakeStore{failCommit: true}
	committer := spend.New(fs, reg, idx, tb, zerolog.Nop())

	require.Error(t, committer.Commit(ctx, chunk, res))

	_, tracked := idx.NullifierAtPosition(protocol.Sapling, 0)
	require.False(t, tracked, "a note that failed to persist must not remain tracked as unspent")
	require.Empty(t, fs.notes)
}
