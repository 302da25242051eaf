// Package protocol defines the capability surface that lets the sync
// pipeline stay generic over shielded pools. Sapling and Orchard differ
// in curve, hash and nullifier derivation but share the pipeline shape;
// each pool is a Pool value selected per-note.
package protocol

import "fmt"

// Pool identifies a shielded pool. The pipeline never special-cases a
// pool by name; it only ever asks a Pool for its Capability.
type Pool uint8

const (
	Sapling Pool = iota
	Orchard
)

func (p Pool) String() string {
	switch p {
	case Sapling:
		return "sapling"
	case Orchard:
		return "orchard"
	default:
		return fmt.Sprintf("pool(%d)", uint8(p))
	}
}

// Depth is the fixed note-commitment tree depth. Both pools currently
// share it; the capability surface does not assume they always will.
const Depth = 32

// Node is an opaque tree node / commitment value: 32 bytes, pool
// hash-function specific encoding.
type Node [32]byte

// IsZero reports whether n is the zero value, used only for
// diagnostics; empty-ness of a tree slot is determined by comparing
// against Capability.EmptyNode(depth), not against the zero node.
func (n Node) IsZero() bool {
	return n == Node{}
}

// Capability is the set of pool-specific operations the pipeline needs.
// Implementations must be stateless and safe for concurrent use.
type Capability interface {
	Pool() Pool

	// EmptyNode returns the precomputed empty-subtree sentinel for the
	// given depth (0 = leaf layer).
	EmptyNode(depth int) Node

	// Combine hashes two child nodes at the given depth into their
	// parent. depth is the depth of l and r (0 = leaves); the result is
	// at depth+1.
	Combine(depth int, l, r Node) Node

	// CombineParallel hashes pairs of nodes at the given depth in one
	// deterministically-ordered batch; parallelism is internal and does
	// not change the result versus calling Combine pair-by-pair.
	CombineParallel(depth int, pairs [][2]Node) []Node

	// TrialDecrypt attempts to decrypt a single compact output against
	// ivk. ok is false (not an error) when decryption or the
	// commitment check fails.
	TrialDecrypt(ivk IncomingViewingKey, out CompactOutput) (note Plaintext, ok bool)

	// TrialDecryptBatch runs TrialDecrypt's contract for every input,
	// sharing one finite-field inversion across the whole batch's ECDH
	// step instead of paying one per input (spec.md §4.2, §9). Results
	// are returned in the same order as inputs.
	TrialDecryptBatch(inputs []TrialDecryptInput) []TrialDecryptResult

	// Nullifier derives the nullifier of a received note given its
	// absolute tree position.
	Nullifier(fvk FullViewingKey, position uint64, note Plaintext) [32]byte
}

// IncomingViewingKey, FullViewingKey are opaque per-pool key material.
// The pipeline treats them as byte strings; only a Capability knows how
// to use them.
type IncomingViewingKey []byte
type FullViewingKey []byte

// CompactOutput is the minimal triple needed to trial-decrypt and to
// advance the note-commitment tree (spec.md GLOSSARY).
type CompactOutput struct {
	EphemeralKey [32]byte
	CipherText   [52]byte
	Commitment   Node
}

// Plaintext is a successfully decrypted note body, pool-agnostic at
// this layer: amount, diversifier and randomness are carried as raw
// bytes so decrypter/tree code never branches on pool.
type Plaintext struct {
	Diversifier [11]byte
	Value       uint64
	Rseed       [32]byte
}
