// Package reorg implements the sync pipeline's reorg handling
// (spec.md §4.5): detecting a chain reorganization against the stored
// tip, walking back to find the last block both the store and the
// block source agree on, rolling the store back to it, and reloading
// the in-memory state the rest of the pipeline needs to resume.
package reorg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zecsync/warpcore/internal/blocksource"
	"github.com/zecsync/warpcore/internal/protocol"
	"github.com/zecsync/warpcore/internal/spend"
	"github.com/zecsync/warpcore/internal/store"
	"github.com/zecsync/warpcore/internal/tree"
	"github.com/zecsync/warpcore/internal/treebuilder"
)

// reorgEvent is the outbox payload for a "reorg" event (internal/broker,
// internal/publisher) — lets a subscriber invalidate anything it cached
// above commonHeight.
type reorgEvent struct {
	CommonHeight int64 `json:"common_height"`
}

// ErrReorgTooDeep is returned when no common ancestor is found within
// the configured rollback horizon (spec.md §4.5: "a mismatch below
// that bound is surfaced as a fatal inconsistency").
var ErrReorgTooDeep = errors.New("reorg: no common ancestor within rollback horizon")

// DefaultHorizon is spec.md §4.5's nominal bound on how far back a
// reorg walk-back will search before giving up.
const DefaultHorizon = 100

// Handler detects and repairs chain reorganizations for one sync run.
type Handler struct {
	st      store.Store
	source  blocksource.Source
	tb      *treebuilder.Builder
	idx     *spend.Index
	horizon int64
	log     zerolog.Logger
}

func New(st store.Store, source blocksource.Source, tb *treebuilder.Builder, idx *spend.Index, horizon int64, log zerolog.Logger) *Handler {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Handler{st: st, source: source, tb: tb, idx: idx, horizon: horizon, log: log.With().Str("stage", "reorg").Logger()}
}

// Check compares the stored hash at the current tip height against
// the block source's hash for that height. It returns
// commonHeight=tipHeight and reorged=false when they agree (no reorg)
// or when the store has no block at tipHeight. On mismatch it walks backwards,
// bounded by the configured horizon, looking for the last height both
// sides agree on.
func (h *Handler) Check(ctx context.Context, tipHeight int64) (commonHeight int64, reorged bool, err error) {
	dbHash, ok, err := h.st.HashAtHeight(ctx, tipHeight)
	if err != nil {
		return 0, false, fmt.Errorf("reorg: hash at height %d: %w", tipHeight, err)
	}
	if !ok {
		return tipHeight, false, nil
	}

	srcHeader, err := h.source.GetHeader(ctx, uint64(tipHeight))
	if err != nil {
		return 0, false, fmt.Errorf("reorg: get header at height %d: %w", tipHeight, err)
	}
	if srcHeader.Hash == dbHash {
		return tipHeight, false, nil
	}

	common, err := h.findCommonAncestor(ctx, tipHeight)
	if err != nil {
		return 0, false, err
	}
	h.log.Warn().Int64("tip", tipHeight).Int64("common_ancestor", common).Msg("reorg detected")
	return common, true, nil
}

// findCommonAncestor walks backwards from fromHeight comparing the
// store's hash against the block source's, stopping at the first
// match. It refuses to walk past the configured horizon (spec.md
// §4.5: "a bounded rollback horizon ... is assumed").
func (h *Handler) findCommonAncestor(ctx context.Context, fromHeight int64) (int64, error) {
	floor := fromHeight - h.horizon
	for height := fromHeight - 1; height > floor; height-- {
		dbHash, ok, err := h.st.HashAtHeight(ctx, height)
		if err != nil {
			return 0, fmt.Errorf("reorg: hash at height %d: %w", height, err)
		}
		if !ok {
			continue
		}

		srcHeader, err := h.source.GetHeader(ctx, uint64(height))
		if err != nil {
			return 0, fmt.Errorf("reorg: get header at height %d: %w", height, err)
		}
		if srcHeader.Hash == dbHash {
			return height, nil
		}
	}
	return 0, ErrReorgTooDeep
}

// Recover rolls the store back to commonHeight, restores every pool's
// note-commitment frontier from that height's checkpoint, and resets
// the spend index to the set of notes unspent as of that height, so
// the pipeline can resume normal sync at commonHeight+1 (spec.md
// §4.5: "reload the frontier ... then resume normal sync from H*+1").
func (h *Handler) Recover(ctx context.Context, commonHeight int64, accounts []int64) error {
	if err := h.st.RollbackToHeight(ctx, commonHeight); err != nil {
		return fmt.Errorf("reorg: rollback to height %d: %w", commonHeight, err)
	}

	if err := h.reloadFrontiers(ctx, commonHeight); err != nil {
		return err
	}

	byPool := make(map[protocol.Pool][]store.Note, 2)
	for _, account := range accounts {
		notes, err := h.st.ListUnspentNotes(ctx, account)
		if err != nil {
			return fmt.Errorf("reorg: list unspent notes for account %d: %w", account, err)
		}
		for _, n := range notes {
			pool := protocol.Pool(n.Pool)
			byPool[pool] = append(byPool[pool], n)
		}
	}
	for _, pool := range []protocol.Pool{protocol.Sapling, protocol.Orchard} {
		h.idx.LoadUnspent(pool, byPool[pool])
	}

	payload, err := json.Marshal(reorgEvent{CommonHeight: commonHeight})
	if err != nil {
		return fmt.Errorf("reorg: marshal reorg event: %w", err)
	}
	if err := h.st.InsertEvent(ctx, store.Event{Kind: "reorg", Height: commonHeight, Payload: payload}); err != nil {
		return fmt.Errorf("reorg: insert reorg event: %w", err)
	}

	h.log.Info().Int64("resume_from", commonHeight+1).Msg("reorg recovery complete")
	return nil
}

func (h *Handler) reloadFrontiers(ctx context.Context, height int64) error {
	saplingBlob, orchardBlob, ok, err := h.st.FrontierAtHeight(ctx, height)
	if err != nil {
		return fmt.Errorf("reorg: frontier at height %d: %w", height, err)
	}
	if !ok {
		// Rolled back past the last checkpoint (commonly height 0, the
		// chain's genesis): both pools resume from an empty tree.
		h.tb.SetFrontier(protocol.Sapling, nil)
		h.tb.SetFrontier(protocol.Orchard, nil)
		return nil
	}

	if len(saplingBlob) > 0 {
		f, err := tree.UnmarshalFrontier(saplingBlob)
		if err != nil {
			return fmt.Errorf("reorg: unmarshal sapling frontier: %w", err)
		}
		h.tb.SetFrontier(protocol.Sapling, f)
	} else {
		h.tb.SetFrontier(protocol.Sapling, nil)
	}

	if len(orchardBlob) > 0 {
		f, err := tree.UnmarshalFrontier(orchardBlob)
		if err != nil {
			return fmt.Errorf("reorg: unmarshal orchard frontier: %w", err)
		}
		h.tb.SetFrontier(protocol.Orchard, f)
	} else {
		h.tb.SetFrontier(protocol.Orchard, nil)
	}
	return nil
}
