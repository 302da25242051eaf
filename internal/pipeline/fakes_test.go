package pipeline

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/zecsync/warpcore/internal/blocksource"
	"github.com/zecsync/warpcore/internal/compact"
	"github.com/zecsync/warpcore/internal/protocol"
	"github.com/zecsync/warpcore/internal/store"
)

// encryptNote builds a CompactOutput that TrialDecrypt(ivk, ...) will
// accept, the same way internal/decrypter's own tests do.
func encryptNote(ivk protocol.IncomingViewingKey, epk [32]byte, note protocol.Plaintext) (protocol.CompactOutput, error) {
	shared, ok := protocol.SharedSecretForTest(ivk, epk)
	if !ok {
		return protocol.CompactOutput{}, errors.New("fakes_test: shared secret derivation failed")
	}
	ksym := protocol.SymmetricKeyForTest(protocol.SaplingKDFPersonalizationForTest, shared, epk)

	var plain [52]byte
	plain[0] = protocol.ZIP212SentinelForTest
	copy(plain[1:12], note.Diversifier[:])
	binary.LittleEndian.PutUint64(plain[12:20], note.Value)
	copy(plain[20:52], note.Rseed[:])

	ciphertext, err := protocol.StreamXORForTest(ksym, plain)
	if err != nil {
		return protocol.CompactOutput{}, err
	}

	cmu := protocol.NoteCommitmentForTest(protocol.SaplingCmPersonalizationForTest, ivk, note)
	return protocol.CompactOutput{EphemeralKey: epk, CipherText: ciphertext, Commitment: cmu}, nil
}

// fakeSource is a minimal blocksource.Source serving a fixed set of
// blocks out of memory, for exercising Pipeline without a real
// lightwalletd connection.
type fakeSource struct {
	blocks []compact.Block
	tip    blocksource.Header
}

func (s *fakeSource) GetBlockRange(ctx context.Context, start, end uint64, yield func(compact.Block) error) error {
	for _, b := range s.blocks {
		if b.Height < start || b.Height > end {
			continue
		}
		if err := yield(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSource) GetLatestBlock(ctx context.Context) (blocksource.Header, error) {
	return s.tip, nil
}

func (s *fakeSource) GetHeader(ctx context.Context, height uint64) (blocksource.Header, error) {
	for _, b := range s.blocks {
		if b.Height == height {
			return blocksource.Header{Height: height, Hash: b.Hash, PrevHash: b.PrevHash}, nil
		}
	}
	return blocksource.Header{}, errors.New("fakes_test: no such header")
}

// fakeStore is a minimal in-memory store.Store, mirroring the one in
// internal/spend's and internal/reorg's own test packages.
type fakeStore struct {
	blocks       []store.Block
	notes        []store.Note
	transactions []store.Transaction
	witnesses    []store.Witness
	events       []store.Event
	nextNoteID   int64
}

func (s *fakeStore) Close() error                     { return nil }
func (s *fakeStore) Migrate(ctx context.Context) error { return nil }

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

func (s *fakeStore) RollbackToHeight(ctx context.Context, height int64) error {
	kept := s.blocks[:0]
	for _, b := range s.blocks {
		if b.Height <= height {
			kept = append(kept, b)
		}
	}
	s.blocks = kept
	return nil
}

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
	return nil, nil
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
	return nil
}

type fakeTx struct {
	s *fakeStore

	blocks       []store.Block
	notes        []store.Note
	transactions []store.Transaction
	witnesses    []store.Witness
	events       []store.Event
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
	t.s.nextNoteID++
	n.ID = t.s.nextNoteID
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
