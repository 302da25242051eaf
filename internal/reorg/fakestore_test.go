package reorg_test

import (
	"context"

	"github.com/zecsync/warpcore/internal/store"
)

// fakeStore is a minimal in-memory store.Store for exercising the
// Reorg Handler without a database, mirroring internal/spend's
// fakestore_test.go.
type fakeStore struct {
	blocks map[int64]store.Block
	notes  []store.Note
	events []store.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{blocks: make(map[int64]store.Block)}
}

func (s *fakeStore) Close() error                     { return nil }
func (s *fakeStore) Migrate(ctx context.Context) error { return nil }

func (s *fakeStore) Tip(ctx context.Context) (store.BlockTip, bool, error) {
	var top int64 = -1
	for h := range s.blocks {
		if h > top {
			top = h
		}
	}
	if top < 0 {
		return store.BlockTip{}, false, nil
	}
	b := s.blocks[top]
	return store.BlockTip{Height: b.Height, Hash: b.Hash}, true, nil
}

func (s *fakeStore) HashAtHeight(ctx context.Context, height int64) ([32]byte, bool, error) {
	b, ok := s.blocks[height]
	if !ok {
		return [32]byte{}, false, nil
	}
	return b.Hash, true, nil
}

func (s *fakeStore) FrontierAtHeight(ctx context.Context, height int64) ([]byte, []byte, bool, error) {
	b, ok := s.blocks[height]
	if !ok {
		return nil, nil, false, nil
	}
	return b.SaplingFrontier, b.OrchardFrontier, true, nil
}

func (s *fakeStore) RollbackToHeight(ctx context.Context, height int64) error {
	for h := range s.blocks {
		if h > height {
			delete(s.blocks, h)
		}
	}
	kept := s.notes[:0]
	for _, n := range s.notes {
		if n.Height > height {
			continue
		}
		if n.SpentHeight != nil && *n.SpentHeight > height {
			n.SpentHeight = nil
		}
		kept = append(kept, n)
	}
	s.notes = kept
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
	return fn(nil)
}
