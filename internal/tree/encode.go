package tree

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/zecsync/warpcore/internal/protocol"
)

// frontierWire is the gob-encodable shape of Frontier. Frontier itself
// stays gob-friendly (fixed array, slice of Witness, which is itself
// plain structs of Node/[]Node), so this is mostly a documentation
// seam: one place future field changes to Frontier must be reconciled
// with the stored blob's shape.
type frontierWire struct {
	Pos       int
	Prev      [protocol.Depth + 1]protocol.Node
	Witnesses []Witness
}

// Marshal serializes a frontier for storage in blocks.sapling_frontier
// / blocks.orchard_frontier (spec.md §6). Encoding is Go-to-Go only —
// the blob is never read by anything but this package — so gob is
// used rather than a schema'd wire format; see DESIGN.md for why this
// is the one place the tree package reaches for the standard library
// instead of a pack dependency.
func (f *Frontier) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	w := frontierWire{Pos: f.Pos, Prev: f.Prev, Witnesses: f.Witnesses}
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, fmt.Errorf("tree: marshal frontier: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalFrontier reconstructs a frontier from a blob written by
// Marshal.
func UnmarshalFrontier(data []byte) (*Frontier, error) {
	var w frontierWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("tree: unmarshal frontier: %w", err)
	}
	return &Frontier{Pos: w.Pos, Prev: w.Prev, Witnesses: w.Witnesses}, nil
}

// MarshalWitness serializes a single witness for storage in
// witnesses.witness (spec.md §6) — one row per currently unspent
// note at a checkpointed height.
func MarshalWitness(w Witness) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, fmt.Errorf("tree: marshal witness: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalWitness reconstructs a witness from a blob written by
// MarshalWitness.
func UnmarshalWitness(data []byte) (Witness, error) {
	var w Witness
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return Witness{}, fmt.Errorf("tree: unmarshal witness: %w", err)
	}
	return w, nil
}
