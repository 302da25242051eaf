// Package compact holds the pipeline-internal mirror of the
// lightwalletd compact-block wire format, decoupled from the
// walletrpc protobuf types so downstream stages never import gRPC
// generated code directly.
package compact

import "github.com/zecsync/warpcore/internal/protocol"

// Block is one compact block: enough of the chain to drive trial
// decryption and tree extension without transaction bodies.
type Block struct {
	Height   uint64
	Hash     [32]byte
	PrevHash [32]byte
	Time     uint32
	Txs      []Tx
}

// Tx is one transaction's shielded surface: spends (nullifiers) and
// outputs (compact ciphertexts), tagged by pool.
type Tx struct {
	Index   uint64
	Hash    [32]byte
	Spends  []Spend
	Outputs []Output
}

// Spend is a nullifier revealed on-chain, pool-tagged so the Spend
// Detector can check it against the right pool's received-note set.
type Spend struct {
	Pool      protocol.Pool
	Nullifier [32]byte
}

// Output is a trial-decryption candidate: the triple protocol.Capability
// needs, plus the pool tag and its position within the transaction
// (needed to recover the absolute tree position once appended).
type Output struct {
	Pool   protocol.Pool
	Index  int
	Output protocol.CompactOutput
}

// Chunk is a contiguous, bounded run of blocks handed from the
// Downloader to the Decrypter as one unit of pipeline work.
type Chunk struct {
	StartHeight uint64
	EndHeight   uint64
	Blocks      []Block

	// OutputCount is the number of outputs across Blocks before any
	// spam filtering, cached at chunking time so stages don't have to
	// recount (spec.md §4.1, chunk sizing is output-count driven).
	OutputCount int
}

// TotalOutputs reports the number of outputs present in the chunk's
// blocks. The spam filter zeroes ciphertexts but never drops an output
// (its commitment still extends the tree), so for a chunk built by the
// downloader this equals OutputCount.
func (c Chunk) TotalOutputs() int {
	n := 0
	for _, b := range c.Blocks {
		for _, tx := range b.Txs {
			n += len(tx.Outputs)
		}
	}
	return n
}
