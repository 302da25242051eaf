//go:build mysql

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/zecsync/warpcore/internal/store"
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s.db)
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&myTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	return nil
}

func (s *Store) Tip(ctx context.Context) (store.BlockTip, bool, error) {
	var tip store.BlockTip
	var hash []byte
	err := s.db.QueryRowContext(ctx, `SELECT height, hash FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&tip.Height, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.BlockTip{}, false, nil
		}
		return store.BlockTip{}, false, fmt.Errorf("mysql: tip: %w", err)
	}
	copy(tip.Hash[:], hash)
	return tip, true, nil
}

func (s *Store) HashAtHeight(ctx context.Context, height int64) ([32]byte, bool, error) {
	var hash []byte
	var out [32]byte
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM blocks WHERE height=?`, height).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, false, nil
		}
		return out, false, fmt.Errorf("mysql: hash at height %d: %w", height, err)
	}
	copy(out[:], hash)
	return out, true, nil
}

func (s *Store) FrontierAtHeight(ctx context.Context, height int64) (sapling, orchard []byte, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT sapling_frontier, orchard_frontier FROM blocks WHERE height=?`, height)
	if err := row.Scan(&sapling, &orchard); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("mysql: frontier at height %d: %w", height, err)
	}
	return sapling, orchard, true, nil
}

func (s *Store) RollbackToHeight(ctx context.Context, height int64) error {
	return s.WithTx(ctx, func(tx store.Tx) error {
		mytx := tx.(*myTx)
		if _, err := mytx.tx.ExecContext(ctx, `UPDATE received_notes SET spent_height = NULL WHERE spent_height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rollback unspend: %w", err)
		}
		if _, err := mytx.tx.ExecContext(ctx, `DELETE FROM witnesses WHERE height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rollback witnesses: %w", err)
		}
		if _, err := mytx.tx.ExecContext(ctx, `DELETE FROM received_notes WHERE height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rollback notes: %w", err)
		}
		if _, err := mytx.tx.ExecContext(ctx, `DELETE FROM transactions WHERE height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rollback transactions: %w", err)
		}
		if _, err := mytx.tx.ExecContext(ctx, `DELETE FROM blocks WHERE height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rollback blocks: %w", err)
		}
		return nil
	})
}

func (s *Store) ListUnspentNotes(ctx context.Context, account int64) ([]store.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account, pool, position, tx_id, height, output_index, diversifier, value, rcm, nullifier, spent_height, excluded
FROM received_notes WHERE account=? AND spent_height IS NULL ORDER BY height, position
`, account)
	if err != nil {
		return nil, fmt.Errorf("mysql: list unspent notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func (s *Store) ListWitnessesAtHeight(ctx context.Context, height int64) ([]store.Witness, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, note_id, height, witness FROM witnesses WHERE height=?`, height)
	if err != nil {
		return nil, fmt.Errorf("mysql: list witnesses: %w", err)
	}
	defer rows.Close()

	var out []store.Witness
	for rows.Next() {
		var w store.Witness
		if err := rows.Scan(&w.ID, &w.NoteID, &w.Height, &w.Data); err != nil {
			return nil, fmt.Errorf("mysql: list witnesses: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) InsertEvent(ctx context.Context, e store.Event) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO events (kind, height, payload) VALUES (?, ?, ?)`, e.Kind, e.Height, e.Payload)
	if err != nil {
		return fmt.Errorf("mysql: insert event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsAfter(ctx context.Context, cursor int64, limit int) ([]store.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, height, payload FROM events WHERE id > ? ORDER BY id ASC LIMIT ?
`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("mysql: list events: %w", err)
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var e store.Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Height, &e.Payload); err != nil {
			return nil, fmt.Errorf("mysql: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) EventPublishCursor(ctx context.Context) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM event_publish_cursor WHERE id = 1`).Scan(&cursor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("mysql: event publish cursor: %w", err)
	}
	return cursor, nil
}

func (s *Store) SetEventPublishCursor(ctx context.Context, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO event_publish_cursor (id, cursor) VALUES (1, ?)
ON DUPLICATE KEY UPDATE cursor = VALUES(cursor)
`, cursor)
	if err != nil {
		return fmt.Errorf("mysql: set event publish cursor: %w", err)
	}
	return nil
}

func scanNotes(rows *sql.Rows) ([]store.Note, error) {
	var out []store.Note
	for rows.Next() {
		var n store.Note
		var txID, diversifier, rcm, nullifier []byte
		if err := rows.Scan(&n.ID, &n.Account, &n.Pool, &n.Position, &txID, &n.Height,
			&n.OutputIndex, &diversifier, &n.Value, &rcm, &nullifier, &n.SpentHeight, &n.Excluded); err != nil {
			return nil, fmt.Errorf("mysql: scan note: %w", err)
		}
		copy(n.TxID[:], txID)
		copy(n.Diversifier[:], diversifier)
		copy(n.Rcm[:], rcm)
		copy(n.Nullifier[:], nullifier)
		out = append(out, n)
	}
	return out, rows.Err()
}

type myTx struct {
	tx *sql.Tx
}

func (t *myTx) InsertBlock(ctx context.Context, b store.Block) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO blocks (height, hash, timestamp, sapling_frontier, orchard_frontier) VALUES (?, ?, ?, ?, ?)
`, b.Height, b.Hash[:], b.Timestamp, b.SaplingFrontier, b.OrchardFrontier)
	if err != nil {
		return fmt.Errorf("mysql: insert block: %w", err)
	}
	return nil
}

func (t *myTx) InsertTransaction(ctx context.Context, tr store.Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO transactions (account, tx_id, height, time, tx_index, value) VALUES (?, ?, ?, ?, ?, ?)
`, tr.Account, tr.TxID[:], tr.Height, tr.Time, tr.Index, tr.Value)
	if err != nil {
		return fmt.Errorf("mysql: insert transaction: %w", err)
	}
	return nil
}

func (t *myTx) InsertNote(ctx context.Context, n store.Note) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO received_notes (account, pool, position, tx_id, height, output_index, diversifier, value, rcm, nullifier, spent_height, excluded)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, n.Account, n.Pool, n.Position, n.TxID[:], n.Height, n.OutputIndex, n.Diversifier[:], n.Value, n.Rcm[:], n.Nullifier[:], n.SpentHeight, n.Excluded)
	if err != nil {
		return fmt.Errorf("mysql: insert note: %w", err)
	}
	return nil
}

func (t *myTx) MarkSpent(ctx context.Context, nullifier [32]byte, spentHeight int64) error {
	_, err := t.tx.ExecContext(ctx, `
UPDATE received_notes SET spent_height = ? WHERE nullifier = ? AND spent_height IS NULL
`, spentHeight, nullifier[:])
	if err != nil {
		return fmt.Errorf("mysql: mark spent: %w", err)
	}
	return nil
}

func (t *myTx) NoteIDByNullifier(ctx context.Context, nullifier [32]byte) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM received_notes WHERE nullifier = ?`, nullifier[:]).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("mysql: note id by nullifier: %w", err)
	}
	return id, true, nil
}

func (t *myTx) InsertWitness(ctx context.Context, w store.Witness) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO witnesses (note_id, height, witness) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE witness = VALUES(witness)
`, w.NoteID, w.Height, w.Data)
	if err != nil {
		return fmt.Errorf("mysql: insert witness: %w", err)
	}
	return nil
}

func (t *myTx) InsertEvent(ctx context.Context, e store.Event) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO events (kind, height, payload) VALUES (?, ?, ?)`, e.Kind, e.Height, e.Payload)
	if err != nil {
		return fmt.Errorf("mysql: insert event: %w", err)
	}
	return nil
}
