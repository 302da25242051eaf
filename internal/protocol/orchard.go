package protocol

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

const (
	orchardHashPersonalization = "WarpOrchardMrk1"
	orchardKDFPersonalization  = "WarpOrchardKDF1"
	orchardCmPersonalization   = "WarpOrchardNCm1"
	orchardNfPersonalization   = "WarpOrchardNf01"
)

// orchardEmptyLeaf is the Orchard pool's empty-leaf sentinel, distinct
// from Sapling's so the two pools never collide on an empty-subtree
// root even though both run through the same level-hash machinery.
var orchardEmptyLeaf = Node{0x02}

type orchardCapability struct {
	emptyRoots [Depth + 1]Node
}

// NewOrchard constructs the Orchard pool's Capability.
func NewOrchard() Capability {
	return &orchardCapability{
		emptyRoots: buildEmptyRoots(orchardHashPersonalization, orchardEmptyLeaf),
	}
}

func (c *orchardCapability) Pool() Pool { return Orchard }

func (c *orchardCapability) EmptyNode(depth int) Node {
	return c.emptyRoots[depth]
}

func (c *orchardCapability) Combine(depth int, l, r Node) Node {
	return levelHash(orchardHashPersonalization, depth, l, r)
}

func (c *orchardCapability) CombineParallel(depth int, pairs [][2]Node) []Node {
	return levelHashParallel(orchardHashPersonalization, depth, pairs)
}

func (c *orchardCapability) TrialDecrypt(ivk IncomingViewingKey, out CompactOutput) (Plaintext, bool) {
	return trialDecrypt(orchardKDFPersonalization, orchardCmPersonalization, ivk, out)
}

func (c *orchardCapability) TrialDecryptBatch(inputs []TrialDecryptInput) []TrialDecryptResult {
	return batchTrialDecrypt(orchardKDFPersonalization, orchardCmPersonalization, inputs)
}

// Nullifier derives nf = BLAKE2b(fvk || position || rseed ||
// diversifier), personalized
// distinctly from Sapling's. Real Orchard nullifiers fold in a second
// base-point multiplication (the "psi" term); that extra non-linearity
// is not meaningful to model without a Pallas-accurate curve, so the
// derivation here only needs to satisfy what the pipeline actually
// relies on: a deterministic, collision-resistant function of
// (fvk, position, note) distinct per pool (spec.md §5, "nullifier
// derivation is pool-specific but opaque to the pipeline").
func (c *orchardCapability) Nullifier(fvk FullViewingKey, position uint64, note Plaintext) [32]byte {
	var pers [16]byte
	copy(pers[:], orchardNfPersonalization)

	h, err := blake2b.New256(&blake2b.Config{Person: pers[:]})
	if err != nil {
		panic("protocol: blake2b config: " + err.Error())
	}
	h.Write(fvk)
	var posBuf [8]byte
	binary.LittleEndian.PutUint64(posBuf[:], position)
	h.Write(posBuf[:])
	h.Write(note.Rseed[:])
	h.Write(note.Diversifier[:])

	var out32 [32]byte
	copy(out32[:], h.Sum(nil))
	return out32
}
