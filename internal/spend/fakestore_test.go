package spend_test

import (
	"context"
	"errors"

	"github.com/zecsync/warpcore/internal/store"
)

// fakeStore is a minimal in-memory store.Store for exercising the
// Committer without a database, in the same spirit as the teacher's
// preference for exercising real interfaces over a mock framework.
type fakeStore struct {
	blocks       []store.Block
	notes        []store.Note
	transactions []store.Transaction
	witnesses    []store.Witness
	events       []store.Event
	nextNoteID   int64

	failCommit bool
}

func (s *fakeStore) Close() error                          { return nil }
func (s *fakeStore) Migrate(ctx context.Context) error      { return nil }
func (s *fakeStore) Tip(ctx context.Context) (store.BlockTip, bool, error) {
	if len(s.blocks) == 0 {
		return store.BlockTip{}, false, nil
	}
	b := s.blocks[len(s.blocks)-1]
	return store.BlockTip{Height: b.Height, Hash: b.Hash}, true, nil
}
func (s *fakeStore) HashAtHeight(ctx context.Context, height int64) ([32]byte, bool, error) {
	for _, b := range s.blocks {
		if b.Height == height {
			return b.Hash, true, nil
		}
	}
	return [32]byte{}, false, nil
}
func (s *fakeStore) FrontierAtHeight(ctx context.Context, height int64) ([]byte, []byte, bool, error) {
	for _, b := range s.blocks {
		if b.Height == height {
			return b.SaplingFrontier, b.OrchardFrontier, true, nil
		}
	}
	return nil, nil, false, nil
}
func (s *fakeStore) RollbackToHeight(ctx context.Context, height int64) error { return nil }
func (s *fakeStore) ListUnspentNotes(ctx context.Context, account int64) ([]store.Note, error) {
	var out []store.Note
	for _, n := range s.notes {
		if n.Account == account && n.SpentHeight == nil {
			out = append(out, n)
		}
	}
	return out, nil
}
func (s *fakeStore) ListWitnessesAtHeight(ctx context.Context, height int64) ([]store.Witness, error) {
	var out []store.Witness
	for _, w := range s.witnesses {
		if w.Height == height {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertEvent(ctx context.Context, e store.Event) error {
	e.ID = int64(len(s.events)) + 1
	s.events = append(s.events, e)
	return nil
}
func (s *fakeStore) ListEventsAfter(ctx context.Context, cursor int64, limit int) ([]store.Event, error) {
	var out []store.Event
	for _, e := range s.events {
		if e.ID > cursor {
			out = append(out, e)
		}
	}
	return out, nil
}
func (s *fakeStore) EventPublishCursor(ctx context.Context) (int64, error) { return 0, nil }
func (s *fakeStore) SetEventPublishCursor(ctx context.Context, cursor int64) error { return nil }

func (s *fakeStore) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	if s.failCommit {
		return errors.New("fakestore: injected commit failure")
	}

	tx := &fakeTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	s.blocks = append(s.blocks, tx.blocks...)
	s.notes = append(s.notes, tx.notes...)
	s.transactions = append(s.transactions, tx.transactions...)
	s.witnesses = append(s.witnesses, tx.witnesses...)
	for _, e := range tx.events {
		e.ID = int64(len(s.events)) + 1
		s.events = append(s.events, e)
	}
	s.nextNoteID = tx.nextNoteID
	return nil
}

// fakeTx buffers writes and is only folded into fakeStore once the
// WithTx callback returns successfully, mirroring a real transaction's
// atomicity.
type fakeTx struct {
	s *fakeStore

	blocks       []store.Block
	notes        []store.Note
	transactions []store.Transaction
	witnesses    []store.Witness
	events       []store.Event
	nextNoteID   int64
}

func (t *fakeTx) InsertBlock(ctx context.Context, b store.Block) error {
	t.blocks = append(t.blocks, b)
	return nil
}

func (t *fakeTx) InsertTransaction(ctx context.Context, tr store.Transaction) error {
	t.transactions = append(t.transactions, tr)
	return nil
}

func (t *fakeTx) InsertNote(ctx context.Context, n store.Note) error {
	if t.nextNoteID == 0 {
		t.nextNoteID = t.s.nextNoteID
	}
	t.nextNoteID++
	n.ID = t.nextNoteID
	t.notes = append(t.notes, n)
	return nil
}

func (t *fakeTx) MarkSpent(ctx context.Context, nullifier [32]byte, spentHeight int64) error {
	for i, n := range t.s.notes {
		if n.Nullifier == nullifier && n.SpentHeight == nil {
			h := spentHeight
			t.s.notes[i].SpentHeight = &h
			return nil
		}
	}
	for i, n := range t.notes {
		if n.Nullifier == nullifier && n.SpentHeight == nil {
			h := spentHeight
			t.notes[i].SpentHeight = &h
			return nil
		}
	}
	return nil
}

func (t *fakeTx) InsertWitness(ctx context.Context, w store.Witness) error {
	t.witnesses = append(t.witnesses, w)
	return nil
}

func (t *fakeTx) InsertEvent(ctx context.Context, e store.Event) error {
	t.events = append(t.events, e)
	return nil
}

func (t *fakeTx) NoteIDByNullifier(ctx context.Context, nullifier [32]byte) (int64, bool, error) {
	for _, n := range t.notes {
		if n.Nullifier == nullifier {
			return n.ID, true, nil
		}
	}
	for _, n := range t.s.notes {
		if n.Nullifier == nullifier {
			return n.ID, true, nil
		}
	}
	return 0, false, nil
}
