package tree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zecsync/warpcore/internal/protocol"
)

func TestWitnessRootMatchesNaiveTwoLeafTree(t *testing.T) {
	cap := protocol.NewSapling()
	emptyRoots := EmptyRoots(cap)

	a := protocol.Node{0xAA}
	b := protocol.Node{0xBB}

	f := NewFrontier(cap)
	f.AddNodes(cap, 1, []Leaf{
		{Value: a, NewWitness: true},
		{Value: b, NewWitness: false},
	})

	require.Len(t, f.Witnesses, 1)
	w := f.Witnesses[0]

	edge := f.Edge(cap, emptyRoots)
	got, _ := w.Root(cap, emptyRoots, edge)

	// Independently fold the same two leaves: level 0 combines the
	// pair directly, every level above combines against the pool's
	// empty-subtree root since nothing else exists in the tree yet.
	want := cap.Combine(0, a, b)
	for d := 1; d < protocol.Depth; d++ {
		want = cap.Combine(d, want, emptyRoots[d])
	}

	require.Equal(t, want, got)
}

func TestFrontierEdgeMatchesNaiveTwoLeafTree(t *testing.T) {
	cap := protocol.NewSapling()
	emptyRoots := EmptyRoots(cap)

	a := protocol.Node{0x01, 0x02}
	b := protocol.Node{0x03, 0x04}

	f := NewFrontier(cap)
	f.AddNodes(cap, 1, []Leaf{
		{Value: a, NewWitness: false},
		{Value: b, NewWitness: false},
	})

	edge := f.Edge(cap, emptyRoots)

	want := cap.Combine(0, a, b)
	for d := 1; d < protocol.Depth; d++ {
		want = cap.Combine(d, want, emptyRoots[d])
	}

	require.Equal(t, want, edge[protocol.Depth-1])
}

func TestAddBridgeAdvancesPositionAndFrontier(t *testing.T) {
	cap := protocol.NewSapling()

	f1 := NewFrontier(cap)
	bridge := f1.AddNodes(cap, 1, []Leaf{{Value: protocol.Node{1}}, {Value: protocol.Node{2}}})

	f2 := NewFrontier(cap)
	f2.AddBridge(cap, bridge)

	require.Equal(t, f1.Pos, f2.Pos)
	require.Equal(t, f1.Prev, f2.Prev)
}

func TestBridgeMergePrefersOwnFillUnlessAbsent(t *testing.T) {
	cap := protocol.NewSapling()
	absent := cap.EmptyNode(0)

	var b1, b2 Bridge
	b1.Layers[3] = CompactLayer{Fill: absent, Prev: protocol.Node{9}}
	b2.Layers[3] = CompactLayer{Fill: protocol.Node{7}, Prev: protocol.Node{10}}
	b2.Len = 5

	b1.Merge(cap, b2)
	require.Equal(t, protocol.Node{7}, b1.Layers[3].Fill)
	require.Equal(t, protocol.Node{10}, b1.Layers[3].Prev)
	require.Equal(t, 5, b1.Len)
}
