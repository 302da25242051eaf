package store

import (
	"context"
	"time"
)

// Store is the persistent-store contract (spec.md §6): blocks,
// transactions, received_notes and witnesses. Three backends
// implement it — postgres, mysql (build-tagged, as in the teacher),
// rocksdb — mirroring the teacher's store/{postgres,mysql,rocksdb}
// layout, re-pointed at this schema.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	WithTx(ctx context.Context, fn func(Tx) error) error

	// Tip returns the highest committed block, if any.
	Tip(ctx context.Context) (BlockTip, bool, error)

	// HashAtHeight supports the Reorg Handler's walk-back comparison.
	HashAtHeight(ctx context.Context, height int64) ([32]byte, bool, error)

	// FrontierAtHeight returns the serialized per-pool frontier
	// checkpointed at height, for reorg recovery and pipeline resume.
	FrontierAtHeight(ctx context.Context, height int64) (saplingFrontier, orchardFrontier []byte, ok bool, err error)

	// RollbackToHeight deletes every row with height > height from
	// blocks, transactions, received_notes and witnesses, and restores
	// spent_height to NULL on any note whose spent_height > height
	// (spec.md §4.5).
	RollbackToHeight(ctx context.Context, height int64) error

	ListUnspentNotes(ctx context.Context, account int64) ([]Note, error)
	ListWitnessesAtHeight(ctx context.Context, height int64) ([]Witness, error)

	// InsertEvent appends one outbox row outside of a checkpoint
	// transaction — used by the Reorg Handler, which recovers via
	// RollbackToHeight rather than WithTx.
	InsertEvent(ctx context.Context, e Event) error

	// ListEventsAfter returns outbox events with id > cursor in
	// ascending id order, capped at limit, for internal/publisher.
	ListEventsAfter(ctx context.Context, cursor int64, limit int) ([]Event, error)

	// EventPublishCursor and SetEventPublishCursor track
	// internal/publisher's last-published event id so a restart
	// resumes fan-out without re-publishing or dropping events.
	EventPublishCursor(ctx context.Context) (int64, error)
	SetEventPublishCursor(ctx context.Context, cursor int64) error
}

// Tx is the set of writes the Committer issues inside one atomic
// checkpoint (spec.md §4.4): a block row, its new notes, any
// newly-spent nullifiers, the fresh witness rows, and the tx envelope
// rows — all in a single underlying database transaction.
type Tx interface {
	InsertBlock(ctx context.Context, b Block) error
	InsertTransaction(ctx context.Context, t Transaction) error
	InsertNote(ctx context.Context, n Note) error
	MarkSpent(ctx context.Context, nullifier [32]byte, spentHeight int64) error
	InsertWitness(ctx context.Context, w Witness) error

	// NoteIDByNullifier resolves the store-assigned id of a note
	// inserted earlier in the same transaction, by its (unique)
	// nullifier — the Committer needs it to fill in Witness.NoteID
	// since InsertNote does not itself return the generated id.
	NoteIDByNullifier(ctx context.Context, nullifier [32]byte) (int64, bool, error)

	// InsertEvent appends one outbox row in the same transaction as
	// the checkpoint it describes, so a committed chunk and its event
	// are never observed out of sync with each other.
	InsertEvent(ctx context.Context, e Event) error
}

type BlockTip struct {
	Height int64
	Hash   [32]byte
}

// Block is the blocks(height PK, hash, timestamp, sapling_frontier,
// orchard_frontier) row of spec.md §6. The frontiers are the
// serialized tree.Frontier for each pool as of this height, letting
// the pipeline and the Reorg Handler resume without replaying history.
type Block struct {
	Height          int64
	Hash            [32]byte
	Timestamp       time.Time
	SaplingFrontier []byte
	OrchardFrontier []byte
}

// Transaction is the transactions(...) row of spec.md §6 — informational
// only; an account's spendable balance is always derived from Note rows.
type Transaction struct {
	ID      int64
	Account int64
	TxID    [32]byte
	Height  int64
	Time    time.Time
	Index   int
	Value   int64
}

// Note is the received_notes(...) row of spec.md §6.
type Note struct {
	ID          int64
	Account     int64
	Pool        uint8
	Position    int64
	TxID        [32]byte
	Height      int64
	OutputIndex int
	Diversifier [11]byte
	Value       uint64
	Rcm         [32]byte
	Nullifier   [32]byte
	SpentHeight *int64
	Excluded    bool
}

// Witness is the witnesses(id PK, note, height, witness, UNIQUE(note,
// height)) row of spec.md §6 — the serialized tree.Witness for one
// note as of one checkpointed height.
type Witness struct {
	ID     int64
	NoteID int64
	Height int64
	Data   []byte
}

// Event is the events(...) outbox row internal/publisher fans out to
// internal/broker: one per committed checkpoint or reorg recovery.
// Kind is "checkpoint" or "reorg"; Payload is the JSON body of the
// broker.Envelope the publisher will wrap it in.
type Event struct {
	ID      int64
	Kind    string
	Height  int64
	Payload []byte
}
