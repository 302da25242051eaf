package protocol

import "github.com/consensys/gnark-crypto/ecc/bn254/fr"

// batchInvert inverts every element of xs using Montgomery's trick:
// one shared field inversion instead of len(xs), by accumulating
// prefix products and walking them back. xs must contain no zero
// elements. This is the primitive behind CombineParallel's batched
// affine-coordinate recovery (spec.md §9, grounded in
// original_source/src/sync/warp/hasher.rs's parallel_combine +
// Point::batch_normalize).
func batchInvert(xs []fr.Element) []fr.Element {
	n := len(xs)
	out := make([]fr.Element, n)
	if n == 0 {
		return out
	}

	prefix := make([]fr.Element, n)
	acc := fr.Element{}
	acc.SetOne()
	for i, x := range xs {
		prefix[i] = acc
		acc.Mul(&acc, &x)
	}

	accInv := fr.Element{}
	accInv.Inverse(&acc)

	for i := n - 1; i >= 0; i-- {
		out[i].Mul(&accInv, &prefix[i])
		accInv.Mul(&accInv, &xs[i])
	}
	return out
}

// fieldFromDigest reduces an arbitrary digest into a field element,
// used to carry BLAKE2b output through the batched-inversion step
// this package uses as its Pedersen/Sinsemilla stand-in.
func fieldFromDigest(digest []byte) fr.Element {
	var e fr.Element
	e.SetBytes(digest)
	return e
}
