package tree

import "github.com/zecsync/warpcore/internal/protocol"

// CompactLayer is one depth's worth of a Bridge: the frontier's prev
// node at that depth after the chunk's subtree was merged in, and the
// fill (if any) newly produced for witnesses whose subtree closed at
// this depth.
type CompactLayer struct {
	Fill protocol.Node
	Prev protocol.Node
}

// Bridge is the compact, mergeable representation of one chunk's
// effect on the frontier: enough to replay onto a frontier (AddBridge)
// without re-hashing the chunk's commitments.
type Bridge struct {
	BlockLen int
	Pos      int
	Len      int
	Layers   [protocol.Depth]CompactLayer
}

// Merge folds other (a later, adjacent chunk's bridge) into b,
// preferring b's own fill at each depth unless it never happened, in
// which case other's becomes visible — mirrors bridge.rs's merge(),
// which lets bridges accumulate across chunk boundaries without
// replaying the underlying leaves.
func (b *Bridge) Merge(cap protocol.Capability, other Bridge) {
	absent := cap.EmptyNode(0)
	for i := 0; i < protocol.Depth; i++ {
		if b.Layers[i].Fill == absent && other.Layers[i].Fill != absent {
			b.Layers[i].Fill = other.Layers[i].Fill
		}
		b.Layers[i].Prev = other.Layers[i].Prev
	}
	b.Len += other.Len
}
