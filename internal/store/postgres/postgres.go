package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zecsync/warpcore/internal/db/migrate"
	"github.com/zecsync/warpcore/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string, schema string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	if strings.TrimSpace(schema) == "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: connect: %w", err)
		}
		return &Store{pool: pool}, nil
	}

	adminConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := adminConn.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = adminConn.Close(ctx)
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	_ = adminConn.Close(ctx)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse: %w", err)
	}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return migrate.Apply(ctx, s.pool)
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) Tip(ctx context.Context) (store.BlockTip, bool, error) {
	var tip store.BlockTip
	var hash []byte
	err := s.pool.QueryRow(ctx, `SELECT height, hash FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&tip.Height, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.BlockTip{}, false, nil
		}
		return store.BlockTip{}, false, fmt.Errorf("postgres: tip: %w", err)
	}
	copy(tip.Hash[:], hash)
	return tip, true, nil
}

func (s *Store) HashAtHeight(ctx context.Context, height int64) ([32]byte, bool, error) {
	var hash []byte
	var out [32]byte
	err := s.pool.QueryRow(ctx, `SELECT hash FROM blocks WHERE height=$1`, height).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, false, nil
		}
		return out, false, fmt.Errorf("postgres: hash at height %d: %w", height, err)
	}
	copy(out[:], hash)
	return out, true, nil
}

func (s *Store) FrontierAtHeight(ctx context.Context, height int64) (sapling, orchard []byte, ok bool, err error) {
	row := s.pool.QueryRow(ctx, `SELECT sapling_frontier, orchard_frontier FROM blocks WHERE height=$1`, height)
	if err := row.Scan(&sapling, &orchard); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("postgres: frontier at height %d: %w", height, err)
	}
	return sapling, orchard, true, nil
}

func (s *Store) RollbackToHeight(ctx context.Context, height int64) error {
	return s.WithTx(ctx, func(tx store.Tx) error {
		pgtx := tx.(*pgTx)
		if _, err := pgtx.tx.Exec(ctx, `
UPDATE received_notes SET spent_height = NULL WHERE spent_height > $1
`, height); err != nil {
			return fmt.Errorf("postgres: rollback unspend: %w", err)
		}
		if _, err := pgtx.tx.Exec(ctx, `DELETE FROM witnesses WHERE height > $1`, height); err != nil {
			return fmt.Errorf("postgres: rollback witnesses: %w", err)
		}
		if _, err := pgtx.tx.Exec(ctx, `DELETE FROM received_notes WHERE height > $1`, height); err != nil {
			return fmt.Errorf("postgres: rollback notes: %w", err)
		}
		if _, err := pgtx.tx.Exec(ctx, `DELETE FROM transactions WHERE height > $1`, height); err != nil {
			return fmt.Errorf("postgres: rollback transactions: %w", err)
		}
		if _, err := pgtx.tx.Exec(ctx, `DELETE FROM blocks WHERE height > $1`, height); err != nil {
			return fmt.Errorf("postgres: rollback blocks: %w", err)
		}
		return nil
	})
}

func (s *Store) ListUnspentNotes(ctx context.Context, account int64) ([]store.Note, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, account, pool, position, tx_id, height, output_index, diversifier, value, rcm, nullifier, spent_height, excluded
FROM received_notes WHERE account=$1 AND spent_height IS NULL ORDER BY height, position
`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unspent notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func (s *Store) ListWitnessesAtHeight(ctx context.Context, height int64) ([]store.Witness, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, note_id, height, witness FROM witnesses WHERE height=$1`, height)
	if err != nil {
		return nil, fmt.Errorf("postgres: list witnesses: %w", err)
	}
	defer rows.Close()

	var out []store.Witness
	for rows.Next() {
		var w store.Witness
		if err := rows.Scan(&w.ID, &w.NoteID, &w.Height, &w.Data); err != nil {
			return nil, fmt.Errorf("postgres: list witnesses: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) InsertEvent(ctx context.Context, e store.Event) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO events (kind, height, payload) VALUES ($1, $2, $3)`, e.Kind, e.Height, e.Payload)
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsAfter(ctx context.Context, cursor int64, limit int) ([]store.Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, kind, height, payload FROM events WHERE id > $1 ORDER BY id ASC LIMIT $2
`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var e store.Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Height, &e.Payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) EventPublishCursor(ctx context.Context) (int64, error) {
	var cursor int64
	err := s.pool.QueryRow(ctx, `SELECT cursor FROM event_publish_cursor WHERE id`).Scan(&cursor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: event publish cursor: %w", err)
	}
	return cursor, nil
}

func (s *Store) SetEventPublishCursor(ctx context.Context, cursor int64) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO event_publish_cursor (id, cursor) VALUES (TRUE, $1)
ON CONFLICT (id) DO UPDATE SET cursor = EXCLUDED.cursor
`, cursor)
	if err != nil {
		return fmt.Errorf("postgres: set event publish cursor: %w", err)
	}
	return nil
}

func scanNotes(rows pgx.Rows) ([]store.Note, error) {
	var out []store.Note
	for rows.Next() {
		var n store.Note
		var txID, diversifier, rcm, nullifier []byte
		if err := rows.Scan(&n.ID, &n.Account, &n.Pool, &n.Position, &txID, &n.Height,
			&n.OutputIndex, &diversifier, &n.Value, &rcm, &nullifier, &n.SpentHeight, &n.Excluded); err != nil {
			return nil, fmt.Errorf("postgres: scan note: %w", err)
		}
		copy(n.TxID[:], txID)
		copy(n.Diversifier[:], diversifier)
		copy(n.Rcm[:], rcm)
		copy(n.Nullifier[:], nullifier)
		out = append(out, n)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertBlock(ctx context.Context, b store.Block) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO blocks (height, hash, timestamp, sapling_frontier, orchard_frontier)
VALUES ($1, $2, $3, $4, $5)
`, b.Height, b.Hash[:], b.Timestamp, b.SaplingFrontier, b.OrchardFrontier)
	if err != nil {
		return fmt.Errorf("postgres: insert block: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr store.Transaction) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO transactions (account, tx_id, height, time, tx_index, value)
VALUES ($1, $2, $3, $4, $5, $6)
`, tr.Account, tr.TxID[:], tr.Height, tr.Time, tr.Index, tr.Value)
	if err != nil {
		return fmt.Errorf("postgres: insert transaction: %w", err)
	}
	return nil
}

func (t *pgTx) InsertNote(ctx context.Context, n store.Note) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO received_notes (account, pool, position, tx_id, height, output_index, diversifier, value, rcm, nullifier, spent_height, excluded)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`, n.Account, n.Pool, n.Position, n.TxID[:], n.Height, n.OutputIndex, n.Diversifier[:], n.Value, n.Rcm[:], n.Nullifier[:], n.SpentHeight, n.Excluded)
	if err != nil {
		return fmt.Errorf("postgres: insert note: %w", err)
	}
	return nil
}

func (t *pgTx) MarkSpent(ctx context.Context, nullifier [32]byte, spentHeight int64) error {
	_, err := t.tx.Exec(ctx, `
UPDATE received_notes SET spent_height = $2 WHERE nullifier = $1 AND spent_height IS NULL
`, nullifier[:], spentHeight)
	if err != nil {
		return fmt.Errorf("postgres: mark spent: %w", err)
	}
	return nil
}

func (t *pgTx) NoteIDByNullifier(ctx context.Context, nullifier [32]byte) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM received_notes WHERE nullifier = $1`, nullifier[:]).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("postgres: note id by nullifier: %w", err)
	}
	return id, true, nil
}

func (t *pgTx) InsertWitness(ctx context.Context, w store.Witness) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO witnesses (note_id, height, witness)
VALUES ($1, $2, $3)
ON CONFLICT (note_id, height) DO UPDATE SET witness = EXCLUDED.witness
`, w.NoteID, w.Height, w.Data)
	if err != nil {
		return fmt.Errorf("postgres: insert witness: %w", err)
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, e store.Event) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO events (kind, height, payload) VALUES ($1, $2, $3)`, e.Kind, e.Height, e.Payload)
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}
