// Package treebuilder implements the sync pipeline's third stage:
// extending each pool's note-commitment tree with every compact output
// of a chunk, in order, and recovering the absolute tree position and
// authentication-path witness for every note the Decrypter matched
// (spec.md §4.3).
package treebuilder

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/zecsync/warpcore/internal/compact"
	"github.com/zecsync/warpcore/internal/decrypter"
	"github.com/zecsync/warpcore/internal/protocol"
	"github.com/zecsync/warpcore/internal/tree"
)

// PositionedNote pairs a Decrypter match with the absolute tree
// position and witness the tree gained it once every commitment ahead
// of it in the chunk was folded in.
type PositionedNote struct {
	decrypter.Match
	Position uint64
	Witness  tree.Witness
}

// Result is one chunk's effect on every pool's tree: the compact
// Bridge (for cross-chunk merge and reorg replay) and the positioned
// notes recovered for that pool.
type Result struct {
	Bridges map[protocol.Pool]tree.Bridge
	Notes   map[protocol.Pool][]PositionedNote
}

// Builder extends a set of per-pool frontiers, one chunk at a time.
// It is not safe for concurrent use; the pipeline runs it as the
// third of four strictly sequential stages.
type Builder struct {
	frontiers map[protocol.Pool]*tree.Frontier
	log       zerolog.Logger
}

// New starts a Builder from a set of frontiers already restored (or
// freshly initialized) for each pool the pipeline tracks.
func New(frontiers map[protocol.Pool]*tree.Frontier, log zerolog.Logger) *Builder {
	return &Builder{frontiers: frontiers, log: log.With().Str("stage", "treebuilder").Logger()}
}

// Frontier exposes the builder's current retained state for a pool,
// for checkpointing (committer.go serializes it into the block row)
// and for the Reorg Handler to replace wholesale after a rollback.
func (b *Builder) Frontier(pool protocol.Pool) *tree.Frontier {
	return b.frontiers[pool]
}

// SetFrontier replaces the retained frontier for a pool — used by the
// Reorg Handler when resuming from a checkpointed height.
func (b *Builder) SetFrontier(pool protocol.Pool, f *tree.Frontier) {
	b.frontiers[pool] = f
}

// Build extends every pool's tree with chunk's outputs, in chunk
// order, marking a new witness for every output the Decrypter matched.
// A pool with no outputs in the chunk is left untouched — no empty
// Bridge is produced for it, matching AddNodes' refusal to run on zero
// leaves.
func (b *Builder) Build(chunk compact.Chunk, matches map[protocol.Pool][]decrypter.Match) (Result, error) {
	res := Result{
		Bridges: make(map[protocol.Pool]tree.Bridge, 2),
		Notes:   make(map[protocol.Pool][]PositionedNote, 2),
	}

	for _, pool := range []protocol.Pool{protocol.Sapling, protocol.Orchard} {
		outputs := compact.Flatten(chunk, pool)
		if len(outputs) == 0 {
			continue
		}

		pc, err := protocol.For(pool)
		if err != nil {
			return Result{}, err
		}

		f := b.frontiers[pool]
		if f == nil {
			f = tree.NewFrontier(pc)
			b.frontiers[pool] = f
		}

		byIndex := make(map[int]decrypter.Match, len(matches[pool]))
		for _, m := range matches[pool] {
			byIndex[m.ChunkIndex] = m
		}

		leaves := make([]tree.Leaf, len(outputs))
		for i, o := range outputs {
			_, matched := byIndex[i]
			leaves[i] = tree.Leaf{Value: o.Output.Commitment, NewWitness: matched}
		}

		startWitnesses := len(f.Witnesses)
		bridge := f.AddNodes(pc, len(chunk.Blocks), leaves)
		newWitnesses := f.Witnesses[startWitnesses:]

		matchedIndexes := make([]int, 0, len(byIndex))
		for idx := range byIndex {
			matchedIndexes = append(matchedIndexes, idx)
		}
		sort.Ints(matchedIndexes)

		if len(matchedIndexes) != len(newWitnesses) {
			return Result{}, errMismatch(pool, len(matchedIndexes), len(newWitnesses))
		}

		notes := make([]PositionedNote, len(matchedIndexes))
		for j, idx := range matchedIndexes {
			notes[j] = PositionedNote{
				Match:    byIndex[idx],
				Position: uint64(bridge.Pos + idx),
				Witness:  newWitnesses[j],
			}
		}

		res.Bridges[pool] = bridge
		if len(notes) > 0 {
			res.Notes[pool] = notes
		}

		b.log.Debug().
			Stringer("pool", pool).
			Int("leaves", len(leaves)).
			Int("matched", len(notes)).
			Int("tree_size", f.Pos).
			Msg("extended tree")
	}

	return res, nil
}
