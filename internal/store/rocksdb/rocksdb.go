package rocksdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/zecsync/warpcore/internal/store"
)

type Store struct {
	mu sync.Mutex
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("rocksdb: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rocksdb: mkdir: %w", err)
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("rocksdb: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate is a no-op: the key-value schema below needs no DDL, unlike
// the SQL backends' migrate.Apply.
func (s *Store) Migrate(ctx context.Context) error {
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	tx := &rocksTx{db: s.db, batch: batch}
	if err := fn(tx); err != nil {
		return err
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: commit: %w", err)
	}
	return nil
}

func (s *Store) Tip(ctx context.Context) (store.BlockTip, bool, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: blockPrefix,
		UpperBound: prefixUpperBound(blockPrefix),
	})
	if err != nil {
		return store.BlockTip{}, false, fmt.Errorf("rocksdb: tip: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return store.BlockTip{}, false, nil
	}
	var rec blockRecord
	if err := json.Unmarshal(iter.Value(), &rec); err != nil {
		return store.BlockTip{}, false, fmt.Errorf("rocksdb: decode tip: %w", err)
	}
	return store.BlockTip{Height: rec.Height, Hash: rec.Hash}, true, nil
}

func (s *Store) HashAtHeight(ctx context.Context, height int64) ([32]byte, bool, error) {
	rec, ok, err := getBlock(s.db, height)
	if err != nil || !ok {
		return [32]byte{}, ok, err
	}
	return rec.Hash, true, nil
}

func (s *Store) FrontierAtHeight(ctx context.Context, height int64) ([]byte, []byte, bool, error) {
	rec, ok, err := getBlock(s.db, height)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	return rec.SaplingFrontier, rec.OrchardFrontier, true, nil
}

func (s *Store) RollbackToHeight(ctx context.Context, height int64) error {
	return s.WithTx(ctx, func(tx store.Tx) error {
		rtx := tx.(*rocksTx)
		batch := rtx.batch

		if err := deleteAbove(batch, s.db, blockHeightPrefix(height+1), blockPrefix); err != nil {
			return err
		}

		txIter, err := s.db.NewIter(&pebble.IterOptions{
			LowerBound: txHeightPrefix(height + 1),
			UpperBound: prefixUpperBound(txHeightIndexPrefix),
		})
		if err != nil {
			return fmt.Errorf("rocksdb: rollback transactions: %w", err)
		}
		defer txIter.Close()
		for txIter.First(); txIter.Valid(); txIter.Next() {
			id := decodeFixed20(txIter.Value())
			if err := batch.Delete(keyTx(id), pebble.NoSync); err != nil {
				return err
			}
			if err := batch.Delete(append([]byte{}, txIter.Key()...), pebble.NoSync); err != nil {
				return err
			}
		}

		noteIter, err := s.db.NewIter(&pebble.IterOptions{
			LowerBound: noteHeightPrefix(height + 1),
			UpperBound: prefixUpperBound(noteHeightIndexPrefix),
		})
		if err != nil {
			return fmt.Errorf("rocksdb: rollback notes: %w", err)
		}
		defer noteIter.Close()
		for noteIter.First(); noteIter.Valid(); noteIter.Next() {
			id := decodeFixed20(noteIter.Value())
			rec, ok, err := getNote(s.db, id)
			if err != nil {
				return err
			}
			if ok {
				if err := batch.Delete(keyNullifier(rec.Nullifier), pebble.NoSync); err != nil {
					return err
				}
				if err := batch.Delete(keyNoteAccountIndex(rec.Account, rec.Height, id), pebble.NoSync); err != nil {
					return err
				}
			}
			if err := batch.Delete(keyNote(id), pebble.NoSync); err != nil {
				return err
			}
			if err := batch.Delete(append([]byte{}, noteIter.Key()...), pebble.NoSync); err != nil {
				return err
			}
		}

		witIter, err := s.db.NewIter(&pebble.IterOptions{
			LowerBound: witnessHeightPrefix(height + 1),
			UpperBound: prefixUpperBound(witnessHeightIndexPrefix),
		})
		if err != nil {
			return fmt.Errorf("rocksdb: rollback witnesses: %w", err)
		}
		defer witIter.Close()
		for witIter.First(); witIter.Valid(); witIter.Next() {
			noteID := decodeFixed20(witIter.Value())
			rest := witIter.Key()[len(witnessHeightIndexPrefix):]
			witHeight := decodeFixed20(rest[:20])
			if err := batch.Delete(keyWitness(noteID, witHeight), pebble.NoSync); err != nil {
				return err
			}
			if err := batch.Delete(append([]byte{}, witIter.Key()...), pebble.NoSync); err != nil {
				return err
			}
		}

		return unspendNotesAboveHeight(batch, s.db, height)
	})
}

func (s *Store) ListUnspentNotes(ctx context.Context, account int64) ([]store.Note, error) {
	prefix := noteAccountPrefix(account)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("rocksdb: list unspent notes: %w", err)
	}
	defer iter.Close()

	var out []store.Note
	for iter.First(); iter.Valid(); iter.Next() {
		id := decodeFixed20(iter.Value())
		rec, ok, err := getNote(s.db, id)
		if err != nil {
			return nil, err
		}
		if ok && rec.SpentHeight == nil {
			out = append(out, rec.toStore(id))
		}
	}
	return out, nil
}

func (s *Store) ListWitnessesAtHeight(ctx context.Context, height int64) ([]store.Witness, error) {
	prefix := witnessHeightPrefix(height)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("rocksdb: list witnesses: %w", err)
	}
	defer iter.Close()

	var out []store.Witness
	for iter.First(); iter.Valid(); iter.Next() {
		noteID := decodeFixed20(iter.Value())
		data, closer, err := s.db.Get(keyWitness(noteID, height))
		if err != nil {
			return nil, fmt.Errorf("rocksdb: list witnesses: %w", err)
		}
		w := store.Witness{NoteID: noteID, Height: height, Data: append([]byte{}, data...)}
		_ = closer.Close()
		out = append(out, w)
	}
	return out, nil
}

func (s *Store) InsertEvent(ctx context.Context, e store.Event) error {
	return s.WithTx(ctx, func(tx store.Tx) error {
		return tx.(*rocksTx).InsertEvent(ctx, e)
	})
}

func (s *Store) ListEventsAfter(ctx context.Context, cursor int64, limit int) ([]store.Event, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(cursor + 1),
		UpperBound: prefixUpperBound(eventPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("rocksdb: list events: %w", err)
	}
	defer iter.Close()

	var out []store.Event
	for iter.First(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Next() {
		var rec eventRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("rocksdb: decode event: %w", err)
		}
		out = append(out, store.Event{ID: rec.ID, Kind: rec.Kind, Height: rec.Height, Payload: rec.Payload})
	}
	return out, nil
}

func (s *Store) EventPublishCursor(ctx context.Context) (int64, error) {
	buf, closer, err := s.db.Get(keyMeta("event_publish_cursor"))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("rocksdb: event publish cursor: %w", err)
	}
	defer closer.Close()
	return decodeFixed20(buf), nil
}

func (s *Store) SetEventPublishCursor(ctx context.Context, cursor int64) error {
	if err := s.db.Set(keyMeta("event_publish_cursor"), encodeFixed20(uint64(cursor)), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set event publish cursor: %w", err)
	}
	return nil
}

type rocksTx struct {
	db    *pebble.DB
	batch *pebble.Batch
}

func (t *rocksTx) InsertBlock(ctx context.Context, b store.Block) error {
	rec := blockRecord{
		Height:          b.Height,
		Hash:            b.Hash,
		Timestamp:       b.Timestamp.Unix(),
		SaplingFrontier: b.SaplingFrontier,
		OrchardFrontier: b.OrchardFrontier,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rocksdb: encode block: %w", err)
	}
	if err := t.batch.Set(keyBlock(b.Height), buf, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: insert block: %w", err)
	}
	return nil
}

func (t *rocksTx) InsertTransaction(ctx context.Context, tr store.Transaction) error {
	id, err := nextID(t.batch, t.db, keyMeta("next_tx_id"))
	if err != nil {
		return err
	}
	rec := txRecord{
		Account: tr.Account,
		TxID:    tr.TxID,
		Height:  tr.Height,
		Time:    tr.Time.Unix(),
		Index:   tr.Index,
		Value:   tr.Value,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rocksdb: encode transaction: %w", err)
	}
	if err := t.batch.Set(keyTx(id), buf, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: insert transaction: %w", err)
	}
	if err := t.batch.Set(keyTxHeightIndex(tr.Height, id), encodeFixed20(uint64(id)), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: index transaction: %w", err)
	}
	return nil
}

func (t *rocksTx) InsertNote(ctx context.Context, n store.Note) error {
	id, err := nextID(t.batch, t.db, keyMeta("next_note_id"))
	if err != nil {
		return err
	}
	rec := noteRecord{
		Account:     n.Account,
		Pool:        n.Pool,
		Position:    n.Position,
		TxID:        n.TxID,
		Height:      n.Height,
		OutputIndex: n.OutputIndex,
		Diversifier: n.Diversifier,
		Value:       n.Value,
		Rcm:         n.Rcm,
		Nullifier:   n.Nullifier,
		SpentHeight: n.SpentHeight,
		Excluded:    n.Excluded,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rocksdb: encode note: %w", err)
	}
	if err := t.batch.Set(keyNote(id), buf, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: insert note: %w", err)
	}
	if err := t.batch.Set(keyNullifier(n.Nullifier), encodeFixed20(uint64(id)), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: index nullifier: %w", err)
	}
	if err := t.batch.Set(keyNoteHeightIndex(n.Height, id), encodeFixed20(uint64(id)), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: index note height: %w", err)
	}
	if err := t.batch.Set(keyNoteAccountIndex(n.Account, n.Height, id), encodeFixed20(uint64(id)), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: index note account: %w", err)
	}
	return nil
}

func (t *rocksTx) MarkSpent(ctx context.Context, nullifier [32]byte, spentHeight int64) error {
	idBuf, closer, err := t.batch.Get(keyNullifier(nullifier))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("rocksdb: mark spent lookup: %w", err)
	}
	id := decodeFixed20(idBuf)
	_ = closer.Close()

	noteBuf, closer, err := t.batch.Get(keyNote(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("rocksdb: mark spent lookup: %w", err)
	}
	var rec noteRecord
	err = json.Unmarshal(noteBuf, &rec)
	_ = closer.Close()
	if err != nil {
		return fmt.Errorf("rocksdb: decode note: %w", err)
	}
	if rec.SpentHeight != nil {
		return nil
	}
	h := spentHeight
	rec.SpentHeight = &h
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rocksdb: encode note: %w", err)
	}
	if err := t.batch.Set(keyNote(id), buf, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: mark spent: %w", err)
	}
	if err := t.batch.Delete(keyNoteAccountIndex(rec.Account, rec.Height, id), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: unindex spent note: %w", err)
	}
	return nil
}

func (t *rocksTx) NoteIDByNullifier(ctx context.Context, nullifier [32]byte) (int64, bool, error) {
	idBuf, closer, err := t.batch.Get(keyNullifier(nullifier))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("rocksdb: note id by nullifier: %w", err)
	}
	id := decodeFixed20(idBuf)
	_ = closer.Close()
	return id, true, nil
}

func (t *rocksTx) InsertWitness(ctx context.Context, w store.Witness) error {
	if err := t.batch.Set(keyWitness(w.NoteID, w.Height), w.Data, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: insert witness: %w", err)
	}
	if err := t.batch.Set(keyWitnessHeightIndex(w.Height, w.NoteID), encodeFixed20(uint64(w.NoteID)), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: index witness: %w", err)
	}
	return nil
}

func (t *rocksTx) InsertEvent(ctx context.Context, e store.Event) error {
	id, err := nextID(t.batch, t.db, keyMeta("next_event_id"))
	if err != nil {
		return err
	}
	rec := eventRecord{ID: id, Kind: e.Kind, Height: e.Height, Payload: e.Payload}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rocksdb: encode event: %w", err)
	}
	if err := t.batch.Set(eventKey(id), buf, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: insert event: %w", err)
	}
	return nil
}

// Record shapes mirror the SQL schema's columns; encoded as JSON, the
// same choice the teacher's note/event records made.

type blockRecord struct {
	Height          int64   `json:"height"`
	Hash            [32]byte `json:"hash"`
	Timestamp       int64   `json:"timestamp"`
	SaplingFrontier []byte  `json:"sapling_frontier,omitempty"`
	OrchardFrontier []byte  `json:"orchard_frontier,omitempty"`
}

type txRecord struct {
	Account int64    `json:"account"`
	TxID    [32]byte `json:"tx_id"`
	Height  int64    `json:"height"`
	Time    int64    `json:"time"`
	Index   int      `json:"tx_index"`
	Value   int64    `json:"value"`
}

type noteRecord struct {
	Account     int64    `json:"account"`
	Pool        uint8    `json:"pool"`
	Position    int64    `json:"position"`
	TxID        [32]byte `json:"tx_id"`
	Height      int64    `json:"height"`
	OutputIndex int      `json:"output_index"`
	Diversifier [11]byte `json:"diversifier"`
	Value       uint64   `json:"value"`
	Rcm         [32]byte `json:"rcm"`
	Nullifier   [32]byte `json:"nullifier"`
	SpentHeight *int64   `json:"spent_height,omitempty"`
	Excluded    bool     `json:"excluded"`
}

type eventRecord struct {
	ID      int64  `json:"id"`
	Kind    string `json:"kind"`
	Height  int64  `json:"height"`
	Payload []byte `json:"payload"`
}

func (r noteRecord) toStore(id int64) store.Note {
	return store.Note{
		ID: id, Account: r.Account, Pool: r.Pool, Position: r.Position, TxID: r.TxID,
		Height: r.Height, OutputIndex: r.OutputIndex, Diversifier: r.Diversifier,
		Value: r.Value, Rcm: r.Rcm, Nullifier: r.Nullifier, SpentHeight: r.SpentHeight, Excluded: r.Excluded,
	}
}

var (
	blockPrefix               = []byte("blk/")
	txPrefix                  = []byte("tx/")
	txHeightIndexPrefix       = []byte("txh/")
	notePrefix                = []byte("note/")
	noteHeightIndexPrefix     = []byte("noteh/")
	noteAccountIndexPrefix    = []byte("notea/")
	nullifierPrefix           = []byte("nf/")
	witnessPrefix             = []byte("wit/")
	witnessHeightIndexPrefix  = []byte("with/")
	metaPrefix                = []byte("meta/")
	eventPrefix               = []byte("evt/")
)

func eventKey(id int64) []byte {
	return append(append([]byte{}, eventPrefix...), encodeFixed20(uint64(id))...)
}

func keyMeta(name string) []byte { return append(append([]byte{}, metaPrefix...), name...) }

func keyBlock(height int64) []byte {
	return append(append([]byte{}, blockPrefix...), encodeFixed20(uint64(height))...)
}

func blockHeightPrefix(height int64) []byte { return keyBlock(height) }

func keyTx(id int64) []byte {
	return append(append([]byte{}, txPrefix...), encodeFixed20(uint64(id))...)
}

func keyTxHeightIndex(height int64, id int64) []byte {
	b := append([]byte{}, txHeightIndexPrefix...)
	b = append(b, encodeFixed20(uint64(height))...)
	b = append(b, '/')
	return append(b, encodeFixed20(uint64(id))...)
}

func txHeightPrefix(height int64) []byte {
	return append(append([]byte{}, txHeightIndexPrefix...), encodeFixed20(uint64(height))...)
}

func keyNote(id int64) []byte {
	return append(append([]byte{}, notePrefix...), encodeFixed20(uint64(id))...)
}

func keyNoteHeightIndex(height int64, id int64) []byte {
	b := append([]byte{}, noteHeightIndexPrefix...)
	b = append(b, encodeFixed20(uint64(height))...)
	b = append(b, '/')
	return append(b, encodeFixed20(uint64(id))...)
}

func noteHeightPrefix(height int64) []byte {
	return append(append([]byte{}, noteHeightIndexPrefix...), encodeFixed20(uint64(height))...)
}

func keyNoteAccountIndex(account int64, height int64, id int64) []byte {
	b := append([]byte{}, noteAccountIndexPrefix...)
	b = append(b, encodeFixed20(uint64(account))...)
	b = append(b, '/')
	b = append(b, encodeFixed20(uint64(height))...)
	b = append(b, '/')
	return append(b, encodeFixed20(uint64(id))...)
}

func noteAccountPrefix(account int64) []byte {
	b := append([]byte{}, noteAccountIndexPrefix...)
	return append(b, encodeFixed20(uint64(account))...)
}

func keyNullifier(nf [32]byte) []byte {
	return append(append([]byte{}, nullifierPrefix...), nf[:]...)
}

func keyWitness(noteID int64, height int64) []byte {
	b := append([]byte{}, witnessPrefix...)
	b = append(b, encodeFixed20(uint64(noteID))...)
	b = append(b, '/')
	return append(b, encodeFixed20(uint64(height))...)
}

func keyWitnessHeightIndex(height int64, noteID int64) []byte {
	b := append([]byte{}, witnessHeightIndexPrefix...)
	b = append(b, encodeFixed20(uint64(height))...)
	b = append(b, '/')
	return append(b, encodeFixed20(uint64(noteID))...)
}

func witnessHeightPrefix(height int64) []byte {
	return append(append([]byte{}, witnessHeightIndexPrefix...), encodeFixed20(uint64(height))...)
}

func encodeFixed20(n uint64) []byte {
	var buf [20]byte
	for i := 19; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return buf[:]
}

func decodeFixed20(b []byte) int64 {
	var n int64
	for _, c := range b {
		n = n*10 + int64(c-'0')
	}
	return n
}

func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return []byte{0xFF}
}

func nextID(batch *pebble.Batch, db *pebble.DB, key []byte) (int64, error) {
	buf, closer, err := batch.Get(key)
	var id int64
	if err == nil {
		id = decodeFixed20(buf)
		_ = closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return 0, fmt.Errorf("rocksdb: next id: %w", err)
	}
	id++
	if err := batch.Set(key, encodeFixed20(uint64(id)), pebble.NoSync); err != nil {
		return 0, fmt.Errorf("rocksdb: next id: %w", err)
	}
	return id, nil
}

func getBlock(db *pebble.DB, height int64) (blockRecord, bool, error) {
	buf, closer, err := db.Get(keyBlock(height))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return blockRecord{}, false, nil
		}
		return blockRecord{}, false, fmt.Errorf("rocksdb: get block: %w", err)
	}
	defer closer.Close()
	var rec blockRecord
	if err := json.Unmarshal(buf, &rec); err != nil {
		return blockRecord{}, false, fmt.Errorf("rocksdb: decode block: %w", err)
	}
	return rec, true, nil
}

func getNote(db *pebble.DB, id int64) (noteRecord, bool, error) {
	buf, closer, err := db.Get(keyNote(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return noteRecord{}, false, nil
		}
		return noteRecord{}, false, fmt.Errorf("rocksdb: get note: %w", err)
	}
	defer closer.Close()
	var rec noteRecord
	if err := json.Unmarshal(buf, &rec); err != nil {
		return noteRecord{}, false, fmt.Errorf("rocksdb: decode note: %w", err)
	}
	return rec, true, nil
}

// deleteAbove removes every key in [fromKey, prefixUpperBound(prefix))
// — used to drop blocks above a rollback height.
func deleteAbove(batch *pebble.Batch, db *pebble.DB, fromKey []byte, prefix []byte) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: fromKey,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("rocksdb: rollback scan: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := batch.Delete(append([]byte{}, iter.Key()...), pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: rollback delete: %w", err)
		}
	}
	return nil
}

// unspendNotesAboveHeight restores spent_height to NULL (and its
// account-unspent index entry) for every note at or below height whose
// spent_height exceeds height — spec.md §4.5's rollback contract; notes
// above height are left deleted. A full scan of
// the note prefix is acceptable here: reorgs are rare and bounded to
// ~100 blocks, so this isn't a hot path.
func unspendNotesAboveHeight(batch *pebble.Batch, db *pebble.DB, height int64) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: notePrefix,
		UpperBound: prefixUpperBound(notePrefix),
	})
	if err != nil {
		return fmt.Errorf("rocksdb: unspend scan: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec noteRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("rocksdb: unspend decode: %w", err)
		}
		if rec.SpentHeight == nil || *rec.SpentHeight <= height || rec.Height > height {
			continue
		}
		id := decodeFixed20(iter.Key()[len(notePrefix):])
		rec.SpentHeight = nil
		buf, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("rocksdb: unspend encode: %w", err)
		}
		if err := batch.Set(append([]byte{}, iter.Key()...), buf, pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: unspend write: %w", err)
		}
		if err := batch.Set(keyNoteAccountIndex(rec.Account, rec.Height, id), encodeFixed20(uint64(id)), pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: unspend reindex: %w", err)
		}
	}
	return nil
}
