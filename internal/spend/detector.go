// Package spend implements the sync pipeline's fourth stage: spend
// detection (matching revealed nullifiers against currently unspent
// notes) and the atomic checkpoint commit that follows it (spec.md
// §4.4).
package spend

import (
	"github.com/zecsync/warpcore/internal/compact"
	"github.com/zecsync/warpcore/internal/protocol"
	"github.com/zecsync/warpcore/internal/store"
)

// Detected is one nullifier observed on-chain that matched a note the
// Index was tracking as unspent.
type Detected struct {
	Pool      protocol.Pool
	Nullifier [32]byte
	Account   int64
	Position  int64
	Height    uint64
	TxHash    [32]byte
	TxIndex   uint64
}

// unspentEntry is what the Index tracks per unspent nullifier: the
// account it credits and the tree position it sits at, so a spend
// hit can be turned straight into a witness removal without a second
// lookup.
type unspentEntry struct {
	account  int64
	position int64
}

// Index is the nullifier -> unspent-note lookup the Spend Detector
// scans every chunk's spends against. It is built once from the store
// at pipeline startup and kept current as the pipeline commits new
// notes and marks others spent, so no chunk ever needs to round-trip
// to the store mid-scan (spec.md §4.4: "build a map nf -> note_id over
// all currently unspent notes"). byPosition is the reverse direction,
// keyed by absolute tree position, letting the Committer translate a
// tree.Witness (which only knows its own position) back to the
// nullifier it needs to ask the store for that note's row id. Both
// maps only ever hold currently unspent notes: Remove deletes from
// both the moment a note is marked spent, so neither grows without
// bound and NullifierAtPosition never resolves a spent note.
type Index struct {
	nullifiers map[protocol.Pool]map[[32]byte]unspentEntry
	byPosition map[protocol.Pool]map[int64][32]byte
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		nullifiers: make(map[protocol.Pool]map[[32]byte]unspentEntry, 2),
		byPosition: make(map[protocol.Pool]map[int64][32]byte, 2),
	}
}

// LoadUnspent replaces the index's entries for pool with every
// currently unspent note's nullifier, as loaded from the store at
// startup or after a reorg rollback; anything tracked for pool before
// the call is dropped. notes is expected to already be spent-filtered
// (store.Store.ListUnspentNotes), but entries with a SpentHeight are
// skipped defensively rather than trusted blindly.
func (idx *Index) LoadUnspent(pool protocol.Pool, notes []store.Note) {
	set := make(map[[32]byte]unspentEntry, len(notes))
	idx.nullifiers[pool] = set
	pos := make(map[int64][32]byte, len(notes))
	idx.byPosition[pool] = pos
	for _, n := range notes {
		if n.SpentHeight != nil {
			continue
		}
		set[n.Nullifier] = unspentEntry{account: n.Account, position: n.Position}
		pos[n.Position] = n.Nullifier
	}
}

// Add registers one newly received note's nullifier as unspent — used
// when the Committer commits a chunk's new notes, so a note spent in
// a later chunk (or, in principle, the same one) is still caught.
func (idx *Index) Add(pool protocol.Pool, nullifier [32]byte, account int64, position int64) {
	set := idx.nullifiers[pool]
	if set == nil {
		set = make(map[[32]byte]unspentEntry)
		idx.nullifiers[pool] = set
	}
	set[nullifier] = unspentEntry{account: account, position: position}

	pos := idx.byPosition[pool]
	if pos == nil {
		pos = make(map[int64][32]byte)
		idx.byPosition[pool] = pos
	}
	pos[position] = nullifier
}

// Discard fully unregisters a nullifier the Committer had
// provisionally added (both the unspent-lookup and the
// position-lookup), used only when a checkpoint commit fails and the
// note was never actually persisted.
func (idx *Index) Discard(pool protocol.Pool, nullifier [32]byte, position int64) {
	delete(idx.nullifiers[pool], nullifier)
	delete(idx.byPosition[pool], position)
}

// NullifierAtPosition returns the nullifier of the note tracked at an
// absolute tree position, if any — used to resolve a tree.Witness
// (which carries only its position) back to a note row. Returns false
// once the note at position has been marked spent via Remove.
func (idx *Index) NullifierAtPosition(pool protocol.Pool, position int64) ([32]byte, bool) {
	nf, ok := idx.byPosition[pool][position]
	return nf, ok
}

// Remove drops a nullifier from both the unspent-lookup and the
// position-lookup, returning the position it was tracked at — used
// once a commit has recorded it as spent (the Committer then also
// drops its witness from the frontier). The Reorg Handler does not
// call it; it reloads each pool wholesale through LoadUnspent.
func (idx *Index) Remove(pool protocol.Pool, nullifier [32]byte) (position int64, ok bool) {
	set := idx.nullifiers[pool]
	entry, hit := set[nullifier]
	if !hit {
		return 0, false
	}
	delete(set, nullifier)
	delete(idx.byPosition[pool], entry.position)
	return entry.position, true
}

// Detect scans every shielded spend in chunk and returns every one
// whose nullifier is currently tracked as unspent, in chunk order.
// Detect does not itself mutate the index; the Committer calls Remove
// for each Detected result once its commit succeeds, keeping the
// index's view consistent with what was actually persisted.
func (idx *Index) Detect(chunk compact.Chunk) []Detected {
	var out []Detected
	for _, b := range chunk.Blocks {
		for _, tx := range b.Txs {
			for _, sp := range tx.Spends {
				set := idx.nullifiers[sp.Pool]
				if set == nil {
					continue
				}
				if entry, hit := set[sp.Nullifier]; hit {
					out = append(out, Detected{
						Pool:      sp.Pool,
						Nullifier: sp.Nullifier,
						Account:   entry.account,
						Position:  entry.position,
						Height:    b.Height,
						TxHash:    tx.Hash,
						TxIndex:   tx.Index,
					})
				}
			}
		}
	}
	return out
}

// Nullifier derives the nullifier a newly positioned note will reveal
// once spent, using the pool's Capability (spec.md §4.4: "for every
// received note... compute its nullifier nf = F_nf(fvk, position,
// rho)").
func Nullifier(pool protocol.Pool, fvk protocol.FullViewingKey, position uint64, note protocol.Plaintext) ([32]byte, error) {
	pc, err := protocol.For(pool)
	if err != nil {
		return [32]byte{}, err
	}
	return pc.Nullifier(fvk, position, note), nil
}
