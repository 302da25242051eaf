package tree

import "github.com/zecsync/warpcore/internal/protocol"

// Leaf is one new commitment being added to the tree, tagged with
// whether the pipeline wants a witness tracked for it (true for every
// newly received note's own commitment).
type Leaf struct {
	Value      protocol.Node
	NewWitness bool
}

// Frontier is the tree's retained state between chunks: the
// rightmost-path node at each depth (Prev) plus filled-subtree roots
// to their left, and the live set of witnesses for every currently
// tracked note. Ported from tree.rs's MerkleTree.
type Frontier struct {
	Pos       int
	Prev      [protocol.Depth + 1]protocol.Node
	Witnesses []Witness
}

// NewFrontier returns an empty frontier for cap's pool.
func NewFrontier(cap protocol.Capability) *Frontier {
	f := &Frontier{}
	for d := 0; d <= protocol.Depth; d++ {
		f.Prev[d] = cap.EmptyNode(0)
	}
	return f
}

// EmptyRoots materializes cap's per-level empty-subtree root table as
// a plain array, for callers of Edge and Witness.Root.
func EmptyRoots(cap protocol.Capability) [protocol.Depth]protocol.Node {
	var roots [protocol.Depth]protocol.Node
	for d := 0; d < protocol.Depth; d++ {
		roots[d] = cap.EmptyNode(d)
	}
	return roots
}

// AddNodes extends the frontier by leaves, in chunk order, and
// returns the compact Bridge describing the chunk's effect. New
// witnesses are registered for every leaf with NewWitness set, and
// every currently tracked witness (new or pre-existing) is extended
// with exactly the left- and right-sibling hashes this subtree
// produces — determined purely by comparing the witness's own leaf
// index against the layer being built, never via a back-reference
// into the tree (tree.rs's add_nodes).
func (f *Frontier) AddNodes(cap protocol.Capability, blockLen int, leaves []Leaf) Bridge {
	if len(leaves) == 0 {
		panic("tree: AddNodes called with no leaves")
	}
	absent := cap.EmptyNode(0)

	var compactLayers [protocol.Depth]CompactLayer
	var newWitnesses []int
	for i, n := range leaves {
		if n.NewWitness {
			f.Witnesses = append(f.Witnesses, Witness{
				Path: Path{Pos: f.Pos + i, Value: n.Value},
			})
			newWitnesses = append(newWitnesses, len(f.Witnesses)-1)
		}
	}

	var layer []protocol.Node
	fill := absent
	if f.Prev[0] != absent {
		layer = append(layer, f.Prev[0])
		fill = leaves[0].Value
	}
	for _, n := range leaves {
		layer = append(layer, n.Value)
	}

	for depth := 0; depth < protocol.Depth; depth++ {
		newFill := absent
		length := len(layer)
		start := (f.Pos >> depth) &^ 1

		for _, wi := range newWitnesses {
			w := &f.Witnesses[wi]
			i := (w.Path.Pos >> depth) - start
			if i&1 == 1 {
				w.Path.Siblings = append(w.Path.Siblings, layer[i-1])
			}
		}
		for wi := range f.Witnesses {
			w := &f.Witnesses[wi]
			if (w.Path.Pos >> depth) < start {
				continue
			}
			i := (w.Path.Pos >> depth) - start
			if i&1 == 0 && i < length-1 && layer[i+1] != absent {
				w.Fills = append(w.Fills, layer[i+1])
			}
		}

		pairs := (length + 1) / 2
		var newLayer []protocol.Node
		if f.Prev[depth+1] != absent {
			newLayer = append(newLayer, f.Prev[depth+1])
		}
		f.Prev[depth] = absent
		for i := 0; i < pairs; i++ {
			l := layer[2*i]
			if 2*i+1 < length {
				if layer[2*i+1] != absent {
					hn := cap.Combine(depth, l, layer[2*i+1])
					if (i == 0 && f.Prev[depth+1] != absent) || (i == 1 && f.Prev[depth+1] == absent) {
						newFill = hn
					}
					newLayer = append(newLayer, hn)
				} else {
					newLayer = append(newLayer, absent)
					f.Prev[depth] = l
				}
			} else {
				if l != absent {
					f.Prev[depth] = l
				}
				newLayer = append(newLayer, absent)
			}
		}

		compactLayers[depth] = CompactLayer{Prev: f.Prev[depth], Fill: fill}

		layer = newLayer
		fill = newFill
	}

	pos := f.Pos
	f.Pos += len(leaves)
	return Bridge{Pos: pos, BlockLen: blockLen, Len: len(leaves), Layers: compactLayers}
}

// AddBridge replays a previously computed Bridge onto the frontier —
// used when a bridge was built speculatively (e.g. across a reorg
// boundary) or merged from adjacent chunks — distributing its fills to
// matching witnesses by the same index-parity test as AddNodes, never
// by pointer (tree.rs's add_bridge).
func (f *Frontier) AddBridge(cap protocol.Capability, b Bridge) {
	absent := cap.EmptyNode(0)
	for h := 0; h < protocol.Depth; h++ {
		if b.Layers[h].Fill != absent {
			s := f.Pos >> (h + 1)
			for wi := range f.Witnesses {
				w := &f.Witnesses[wi]
				p := w.Path.Pos >> h
				if p&1 == 0 && p>>1 == s {
					w.Fills = append(w.Fills, b.Layers[h].Fill)
				}
			}
		}
		f.Prev[h] = b.Layers[h].Prev
	}
	f.Pos += b.Len
}

// Edge computes the frontier's current right-spine: the authentication
// path an as-yet-unwitnessed position at the tree's current edge would
// need, folding in the pool's empty-root table wherever Prev is absent
// (tree.rs's edge()).
func (f *Frontier) Edge(cap protocol.Capability, emptyRoots [protocol.Depth]protocol.Node) [protocol.Depth]protocol.Node {
	absent := cap.EmptyNode(0)
	var path [protocol.Depth]protocol.Node
	h := absent
	for depth := 0; depth < protocol.Depth; depth++ {
		n := f.Prev[depth]
		if n != absent {
			h = cap.Combine(depth, n, h)
		} else {
			h = cap.Combine(depth, h, emptyRoots[depth])
		}
		path[depth] = h
	}
	return path
}

// AddWitness registers an externally constructed witness. The Reorg
// Handler does not call it: a frontier reloaded from a checkpoint
// already carries its witnesses in its serialized form.
func (f *Frontier) AddWitness(w Witness) {
	f.Witnesses = append(f.Witnesses, w)
}

// RemoveWitness drops the witness tracked at pos, once the note it
// authenticates is known spent, so AddNodes stops extending it and a
// future commit stops re-inserting its witness row. Reports whether a
// witness at pos was found.
func (f *Frontier) RemoveWitness(pos int) bool {
	for i, w := range f.Witnesses {
		if w.Path.Pos == pos {
			f.Witnesses = append(f.Witnesses[:i], f.Witnesses[i+1:]...)
			return true
		}
	}
	return false
}
