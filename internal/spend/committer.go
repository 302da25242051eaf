package spend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zecsync/warpcore/internal/compact"
	"github.com/zecsync/warpcore/internal/keys"
	"github.com/zecsync/warpcore/internal/protocol"
	"github.com/zecsync/warpcore/internal/store"
	"github.com/zecsync/warpcore/internal/tree"
	"github.com/zecsync/warpcore/internal/treebuilder"
)

// checkpointEvent is the outbox payload for a "checkpoint" event
// (internal/broker, internal/publisher) — enough for a subscriber to
// know a new height is durable without re-reading received_notes.
type checkpointEvent struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	NewNotes   int    `json:"new_notes"`
	SpentNotes int    `json:"spent_notes"`
}

// Committer writes one chunk's Tree Builder and Spend Detector output
// to the store as a single atomic checkpoint (spec.md §4.4): the
// terminal block row with its serialized frontiers, every newly
// received note, every newly observed spend, a fresh witness row per
// currently unspent note, and a transaction envelope row per
// contributing transaction.
type Committer struct {
	st  store.Store
	reg *keys.Registry
	idx *Index
	tb  *treebuilder.Builder
	log zerolog.Logger
}

func New(st store.Store, reg *keys.Registry, idx *Index, tb *treebuilder.Builder, log zerolog.Logger) *Committer {
	return &Committer{st: st, reg: reg, idx: idx, tb: tb, log: log.With().Str("stage", "committer").Logger()}
}

// pendingNote is one note about to be persisted, with its nullifier
// already derived so it can be both written to received_notes and
// folded into the spend index before Detect runs.
type pendingNote struct {
	pool      protocol.Pool
	note      treebuilder.PositionedNote
	nullifier [32]byte
}

// txKey identifies one (transaction, account) pair a checkpoint's
// Transaction envelope row is keyed on (spec.md §4.4: "one Transaction
// row for each transaction that contributed at least one received or
// spent note").
type txKey struct {
	hash    [32]byte
	account int64
}

// Commit runs the full checkpoint for chunk. res must be the
// treebuilder.Result produced by the same Builder this Committer was
// constructed with, for the same chunk.
func (c *Committer) Commit(ctx context.Context, chunk compact.Chunk, res treebuilder.Result) error {
	if len(chunk.Blocks) == 0 {
		return nil
	}
	terminal := chunk.Blocks[len(chunk.Blocks)-1]

	pending, err := c.derivePending(res)
	if err != nil {
		return err
	}

	// Newly received notes are registered as unspent before detection
	// so a note created and spent within the same chunk is still
	// caught (spec.md §4.4: "for every received note, old or newly
	// added"). If the commit below fails, these are rolled back.
	for _, p := range pending {
		c.idx.Add(p.pool, p.nullifier, int64(p.note.Account), int64(p.note.Position))
	}
	detected := c.idx.Detect(chunk)

	err = c.st.WithTx(ctx, func(tx store.Tx) error {
		saplingBlob, orchardBlob, err := c.serializeFrontiers()
		if err != nil {
			return err
		}

		if err := tx.InsertBlock(ctx, store.Block{
			Height:          int64(terminal.Height),
			Hash:            terminal.Hash,
			Timestamp:       time.Unix(int64(terminal.Time), 0).UTC(),
			SaplingFrontier: saplingBlob,
			OrchardFrontier: orchardBlob,
		}); err != nil {
			return fmt.Errorf("spend: insert block: %w", err)
		}

		txValues := make(map[txKey]*store.Transaction)
		touch := func(hash [32]byte, account int64, height uint64, index uint64) *store.Transaction {
			k := txKey{hash: hash, account: account}
			if t, ok := txValues[k]; ok {
				return t
			}
			t := &store.Transaction{
				Account: account,
				TxID:    hash,
				Height:  int64(height),
				Time:    time.Unix(int64(terminal.Time), 0).UTC(),
				Index:   int(index),
			}
			txValues[k] = t
			return t
		}

		for _, p := range pending {
			n := store.Note{
				Account:     int64(p.note.Account),
				Pool:        uint8(p.pool),
				Position:    int64(p.note.Position),
				TxID:        p.note.TxHash,
				Height:      int64(p.note.Height),
				OutputIndex: p.note.OutputIndex,
				Diversifier: p.note.Note.Diversifier,
				Value:       p.note.Note.Value,
				Rcm:         p.note.Note.Rseed,
				Nullifier:   p.nullifier,
			}
			if err := tx.InsertNote(ctx, n); err != nil {
				return fmt.Errorf("spend: insert note: %w", err)
			}

			t := touch(p.note.TxHash, int64(p.note.Account), p.note.Height, p.note.TxIndex)
			t.Value += int64(p.note.Note.Value)
		}

		for _, d := range detected {
			if err := tx.MarkSpent(ctx, d.Nullifier, int64(d.Height)); err != nil {
				return fmt.Errorf("spend: mark spent: %w", err)
			}
			touch(d.TxHash, d.Account, d.Height, d.TxIndex)
		}

		for _, t := range txValues {
			if err := tx.InsertTransaction(ctx, *t); err != nil {
				return fmt.Errorf("spend: insert transaction: %w", err)
			}
		}

		if err := c.writeWitnesses(ctx, tx, terminal.Height, detected); err != nil {
			return err
		}

		payload, err := json.Marshal(checkpointEvent{
			Height:     terminal.Height,
			Hash:       hex.EncodeToString(terminal.Hash[:]),
			NewNotes:   len(pending),
			SpentNotes: len(detected),
		})
		if err != nil {
			return fmt.Errorf("spend: marshal checkpoint event: %w", err)
		}
		return tx.InsertEvent(ctx, store.Event{Kind: "checkpoint", Height: int64(terminal.Height), Payload: payload})
	})
	if err != nil {
		for _, p := range pending {
			c.idx.Discard(p.pool, p.nullifier, int64(p.note.Position))
		}
		return err
	}

	for _, d := range detected {
		if pos, ok := c.idx.Remove(d.Pool, d.Nullifier); ok {
			if f := c.tb.Frontier(d.Pool); f != nil {
				f.RemoveWitness(int(pos))
			}
		}
	}

	c.log.Debug().
		Uint64("height", terminal.Height).
		Int("new_notes", len(pending)).
		Int("spends", len(detected)).
		Msg("committed checkpoint")
	return nil
}

// derivePending computes the nullifier for every note the Tree
// Builder positioned in this chunk.
func (c *Committer) derivePending(res treebuilder.Result) ([]pendingNote, error) {
	var out []pendingNote
	for _, pool := range []protocol.Pool{protocol.Sapling, protocol.Orchard} {
		for _, n := range res.Notes[pool] {
			fvk, ok := c.reg.FVK(n.Account, pool)
			if !ok {
				return nil, fmt.Errorf("spend: no full viewing key registered for account %d pool %v", n.Account, pool)
			}
			nf, err := Nullifier(pool, fvk, n.Position, n.Note)
			if err != nil {
				return nil, err
			}
			out = append(out, pendingNote{pool: pool, note: n, nullifier: nf})
		}
	}
	return out, nil
}

func (c *Committer) serializeFrontiers() (sapling, orchard []byte, err error) {
	if f := c.tb.Frontier(protocol.Sapling); f != nil {
		if sapling, err = f.Marshal(); err != nil {
			return nil, nil, fmt.Errorf("spend: marshal sapling frontier: %w", err)
		}
	}
	if f := c.tb.Frontier(protocol.Orchard); f != nil {
		if orchard, err = f.Marshal(); err != nil {
			return nil, nil, fmt.Errorf("spend: marshal orchard frontier: %w", err)
		}
	}
	return sapling, orchard, nil
}

// writeWitnesses inserts one witness row at height for every witness
// tracked for a note still unspent as of height (spec.md §4.4: "insert
// one witness row at the terminal height for every currently unspent
// note"). detected is this same commit's spends: a note spent earlier
// in this chunk is excluded even though its witness hasn't been
// pruned from the frontier yet (that happens after the transaction
// commits, once Index.Remove reports it safe to do so). Notes spent
// in an earlier commit never reach this loop at all — their witness
// was already dropped from the frontier the moment that commit
// finished.
func (c *Committer) writeWitnesses(ctx context.Context, tx store.Tx, height uint64, detected []Detected) error {
	spentThisChunk := make(map[protocol.Pool]map[int64]bool, 2)
	for _, d := range detected {
		m := spentThisChunk[d.Pool]
		if m == nil {
			m = make(map[int64]bool)
			spentThisChunk[d.Pool] = m
		}
		m[d.Position] = true
	}

	for _, pool := range []protocol.Pool{protocol.Sapling, protocol.Orchard} {
		f := c.tb.Frontier(pool)
		if f == nil {
			continue
		}
		for _, w := range f.Witnesses {
			if spentThisChunk[pool][int64(w.Path.Pos)] {
				continue
			}
			nullifier, ok := c.idx.NullifierAtPosition(pool, int64(w.Path.Pos))
			if !ok {
				continue
			}

			data, err := tree.MarshalWitness(w)
			if err != nil {
				return fmt.Errorf("spend: marshal witness: %w", err)
			}

			id, ok, err := tx.NoteIDByNullifier(ctx, nullifier)
			if err != nil {
				return fmt.Errorf("spend: resolve note id: %w", err)
			}
			if !ok {
				continue
			}

			if err := tx.InsertWitness(ctx, store.Witness{NoteID: id, Height: int64(height), Data: data}); err != nil {
				return fmt.Errorf("spend: insert witness: %w", err)
			}
		}
	}
	return nil
}
