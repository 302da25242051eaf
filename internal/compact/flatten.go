package compact

import "github.com/zecsync/warpcore/internal/protocol"

// FlatOutput is one pool's compact output lifted out of a chunk's
// block/transaction nesting, tagged with its position within that
// pool's flattened sequence — the chunk-relative index the Tree
// Builder needs to assign absolute positions (spec.md §4.3:
// "previous_total_leaves + index_within_chunk").
type FlatOutput struct {
	Pool        protocol.Pool
	ChunkIndex  int
	Height      uint64
	TxHash      [32]byte
	TxIndex     uint64
	OutputIndex int
	Output      protocol.CompactOutput
}

// Flatten returns every output of pool across chunk, in strict
// (block, tx, output) order — the same order the Tree Builder appends
// commitments in, so ChunkIndex can be used directly as the
// within-chunk position.
func Flatten(chunk Chunk, pool protocol.Pool) []FlatOutput {
	var out []FlatOutput
	for _, b := range chunk.Blocks {
		for _, tx := range b.Txs {
			for _, o := range tx.Outputs {
				if o.Pool != pool {
					continue
				}
				out = append(out, FlatOutput{
					Pool:        pool,
					ChunkIndex:  len(out),
					Height:      b.Height,
					TxHash:      tx.Hash,
					TxIndex:     tx.Index,
					OutputIndex: o.Index,
					Output:      o.Output,
				})
			}
		}
	}
	return out
}
