package rocksdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zecsync/warpcore/internal/store"
)

func TestStore_RollbackUnspendsAndDeletes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	nf := [32]byte{0xAA}

	if err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertBlock(ctx, store.Block{Height: 1, Hash: [32]byte{0x01}, Timestamp: time.Unix(1000, 0)}); err != nil {
			return err
		}
		return tx.InsertNote(ctx, store.Note{
			Account: 1, Pool: 0, Position: 0, TxID: [32]byte{0x10}, Height: 1,
			OutputIndex: 0, Value: 10, Nullifier: nf,
		})
	}); err != nil {
		t.Fatalf("WithTx insert: %v", err)
	}

	tip, ok, err := st.Tip(ctx)
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}
	if !ok || tip.Height != 1 {
		t.Fatalf("unexpected tip: ok=%v tip=%+v", ok, tip)
	}

	unspent, err := st.ListUnspentNotes(ctx, 1)
	if err != nil {
		t.Fatalf("ListUnspentNotes: %v", err)
	}
	if len(unspent) != 1 {
		t.Fatalf("expected 1 unspent note, got %d", len(unspent))
	}

	if err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertBlock(ctx, store.Block{Height: 2, Hash: [32]byte{0x02}, Timestamp: time.Unix(1001, 0)}); err != nil {
			return err
		}
		return tx.MarkSpent(ctx, nf, 2)
	}); err != nil {
		t.Fatalf("WithTx spend: %v", err)
	}

	unspent, err = st.ListUnspentNotes(ctx, 1)
	if err != nil {
		t.Fatalf("ListUnspentNotes after spend: %v", err)
	}
	if len(unspent) != 0 {
		t.Fatalf("expected 0 unspent notes after spend, got %d", len(unspent))
	}

	if err := st.RollbackToHeight(ctx, 1); err != nil {
		t.Fatalf("RollbackToHeight(1): %v", err)
	}

	unspent, err = st.ListUnspentNotes(ctx, 1)
	if err != nil {
		t.Fatalf("ListUnspentNotes after rollback: %v", err)
	}
	if len(unspent) != 1 {
		t.Fatalf("expected 1 unspent note after rollback to 1, got %+v", unspent)
	}

	tip, ok, err = st.Tip(ctx)
	if err != nil {
		t.Fatalf("Tip after rollback: %v", err)
	}
	if !ok || tip.Height != 1 {
		t.Fatalf("expected tip height 1 after rollback, got ok=%v tip=%+v", ok, tip)
	}

	if err := st.RollbackToHeight(ctx, 0); err != nil {
		t.Fatalf("RollbackToHeight(0): %v", err)
	}

	notesAfter, err := st.ListUnspentNotes(ctx, 1)
	if err != nil {
		t.Fatalf("ListUnspentNotes after full rollback: %v", err)
	}
	if len(notesAfter) != 0 {
		t.Fatalf("expected 0 notes after rollback to 0, got %d", len(notesAfter))
	}

	if _, ok, err := st.Tip(ctx); err != nil || ok {
		t.Fatalf("expected no tip after rollback to 0, ok=%v err=%v", ok, err)
	}
}
