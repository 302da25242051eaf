package protocol

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

const (
	saplingHashPersonalization = "WarpSaplingMrk1"
	saplingKDFPersonalization  = "WarpSaplingKDF1"
	saplingCmPersonalization   = "WarpSaplingNCm1"
	saplingNfPersonalization   = "WarpSaplingNf01"
)

// saplingEmptyLeaf is the Sapling pool's empty-leaf sentinel — the
// uncommitted leaf value every empty tree slot starts from before the
// per-level empty roots are derived (spec.md §3).
var saplingEmptyLeaf = Node{0x01}

type saplingCapability struct {
	emptyRoots [Depth + 1]Node
}

// NewSapling constructs the Sapling pool's Capability.
func NewSapling() Capability {
	return &saplingCapability{
		emptyRoots: buildEmptyRoots(saplingHashPersonalization, saplingEmptyLeaf),
	}
}

func (c *saplingCapability) Pool() Pool { return Sapling }

func (c *saplingCapability) EmptyNode(depth int) Node {
	return c.emptyRoots[depth]
}

func (c *saplingCapability) Combine(depth int, l, r Node) Node {
	return levelHash(saplingHashPersonalization, depth, l, r)
}

func (c *saplingCapability) CombineParallel(depth int, pairs [][2]Node) []Node {
	return levelHashParallel(saplingHashPersonalization, depth, pairs)
}

func (c *saplingCapability) TrialDecrypt(ivk IncomingViewingKey, out CompactOutput) (Plaintext, bool) {
	return trialDecrypt(saplingKDFPersonalization, saplingCmPersonalization, ivk, out)
}

func (c *saplingCapability) TrialDecryptBatch(inputs []TrialDecryptInput) []TrialDecryptResult {
	return batchTrialDecrypt(saplingKDFPersonalization, saplingCmPersonalization, inputs)
}

func (c *saplingCapability) Nullifier(fvk FullViewingKey, position uint64, note Plaintext) [32]byte {
	var pers [16]byte
	copy(pers[:], saplingNfPersonalization)

	h, err := blake2b.New256(&blake2b.Config{Person: pers[:]})
	if err != nil {
		panic("protocol: blake2b config: " + err.Error())
	}
	h.Write(fvk)
	var posBuf [8]byte
	binary.LittleEndian.PutUint64(posBuf[:], position)
	h.Write(posBuf[:])
	h.Write(note.Rseed[:])

	var out32 [32]byte
	copy(out32[:], h.Sum(nil))
	return out32
}
