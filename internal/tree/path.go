// Package tree implements the note-commitment tree: frontier
// maintenance, bridge construction, and witness extension, per
// spec.md §4.3. The algorithm is ported from
// original_source/src/sync/warp/{tree,witness,bridge}.rs, keeping its
// index-parity fill rule exactly — witnesses are never updated via a
// pointer back-reference to the tree, only by testing each witness's
// own leaf index against the newly built layer's positions.
package tree

import "github.com/zecsync/warpcore/internal/protocol"

// Path is a note's position and accumulated left-sibling hashes on its
// authentication path.
type Path struct {
	Pos      int
	Value    protocol.Node
	Siblings []protocol.Node
}

// Witness is a note's authentication path under construction: Path
// carries the left siblings gathered so far (filled as the witness's
// own subtree closes on the left), Fills carries the right siblings
// (filled as the subtree to its right closes).
type Witness struct {
	Path  Path
	Fills []protocol.Node
}

// Root reconstructs the note-commitment tree root for the witness,
// consuming Fills and Path.Siblings in authentication-path order and
// falling back to edge (the frontier's current right-spine, for the
// first as-yet-unfilled level) and finally to the pool's empty-root
// table once both are exhausted — mirroring witness.rs's root().
func (w Witness) Root(cap protocol.Capability, emptyRoots [protocol.Depth]protocol.Node, edge [protocol.Depth]protocol.Node) (protocol.Node, [protocol.Depth]protocol.Node) {
	p := w.Path.Pos
	h := w.Path.Value
	j, k := 0, 0
	edgeUsed := false
	var path [protocol.Depth]protocol.Node

	for i := 0; i < protocol.Depth; i++ {
		if p&1 == 0 {
			var r protocol.Node
			switch {
			case k < len(w.Fills):
				r = w.Fills[k]
				k++
			case !edgeUsed:
				edgeUsed = true
				r = edge[i-1]
			default:
				r = emptyRoots[i]
			}
			path[i] = r
			h = cap.Combine(i, h, r)
		} else {
			l := w.Path.Siblings[j]
			path[i] = l
			h = cap.Combine(i, l, h)
			j++
		}
		p /= 2
	}
	return h, path
}
