package protocol

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/blake2b"
)

// rawDigest is the shared BLAKE2b compression behind both pools'
// Capability.Combine. Real Sapling uses a windowed Pedersen hash over
// Jubjub and real Orchard uses Sinsemilla over Pallas, both of which
// produce a curve point that must be converted to affine coordinates
// via a field inversion before it can be serialized as a node — this
// exercise stands that up with a personalized, depth-keyed BLAKE2b
// digest playing the role of the point's numerator coordinate (see
// DESIGN.md), which keeps the tree/witness/frontier code bit-for-bit
// deterministic and independently testable without a full
// elliptic-curve hash-to-curve implementation.
//
// personalization must be <= 15 bytes: rawDigest writes tag into the
// 16th personalization byte to keep the numerator and denominator
// digests distinct.
func rawDigest(personalization string, tag byte, depth int, l, r Node) Node {
	var pers [16]byte
	copy(pers[:], personalization)
	pers[15] = tag

	h, err := blake2b.New256(&blake2b.Config{Person: pers[:]})
	if err != nil {
		panic("protocol: blake2b config: " + err.Error())
	}

	var depthBuf [2]byte
	binary.LittleEndian.PutUint16(depthBuf[:], uint16(depth))

	h.Write(depthBuf[:])
	h.Write(l[:])
	h.Write(r[:])

	var out Node
	copy(out[:], h.Sum(nil))
	return out
}

const (
	tagNumerator   byte = 'X'
	tagDenominator byte = 'Z'
)

// levelHash combines l and r into their parent at depth, via a single
// shared field inversion: numerator/denominator digests stand in for
// a curve point's (X, Z) extended coordinates, and the node is their
// affine quotient (see batch.go, CombineParallel).
func levelHash(personalization string, depth int, l, r Node) Node {
	x := fieldFromDigest(rawDigest(personalization, tagNumerator, depth, l, r)[:])
	z := fieldFromDigest(rawDigest(personalization, tagDenominator, depth, l, r)[:])

	var zInv fr.Element
	zInv.Inverse(&z)
	x.Mul(&x, &zInv)

	return Node(x.Bytes())
}

// levelHashParallel combines n independent pairs at the same depth,
// sharing ONE field inversion across all of them (Montgomery's trick,
// batch.go) instead of one per pair — the batched affine-coordinate
// recovery spec.md §9 calls out as an observable throughput contract.
// Results are gathered in the same order the pairs were given in,
// identical to calling levelHash pair-by-pair; parallel hashing
// discipline per spec.md §9: parallelism is along the width of a
// level, never across levels.
func levelHashParallel(personalization string, depth int, pairs [][2]Node) []Node {
	out := make([]Node, len(pairs))
	if len(pairs) == 0 {
		return out
	}

	numerators := make([]fr.Element, len(pairs))
	denominators := make([]fr.Element, len(pairs))

	type job struct{ idx int }
	jobs := make(chan job, len(pairs))
	done := make(chan int, len(pairs))

	workers := len(pairs)
	if workers > 16 {
		workers = 16
	}
	for w := 0; w < workers; w++ {
		go func() {
			for j := range jobs {
				p := pairs[j.idx]
				numerators[j.idx] = fieldFromDigest(rawDigest(personalization, tagNumerator, depth, p[0], p[1])[:])
				denominators[j.idx] = fieldFromDigest(rawDigest(personalization, tagDenominator, depth, p[0], p[1])[:])
				done <- j.idx
			}
		}()
	}
	for i := range pairs {
		jobs <- job{i}
	}
	close(jobs)
	for range pairs {
		<-done
	}

	zInvs := batchInvert(denominators)
	for i := range pairs {
		x := numerators[i]
		x.Mul(&x, &zInvs[i])
		out[i] = Node(x.Bytes())
	}
	return out
}

// buildEmptyRoots precomputes the per-level empty-subtree sentinel,
// starting from a pool-specific empty leaf value, by repeatedly
// combining a node with itself up to Depth levels (spec.md §3, NCT:
// "empty positions filled by a known sentinel at each depth").
func buildEmptyRoots(personalization string, emptyLeaf Node) [Depth + 1]Node {
	var roots [Depth + 1]Node
	roots[0] = emptyLeaf
	for d := 0; d < Depth; d++ {
		roots[d+1] = levelHash(personalization, d, roots[d], roots[d])
	}
	return roots
}
