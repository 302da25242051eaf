// Package pipeline wires the four sync stages (Downloader, Decrypter,
// Tree Builder, Spend Detector & Committer) and the Reorg Handler into
// the single cooperative driver spec.md §5 describes: one poll loop,
// chunks flowing strictly downstream in ascending height order, with
// cancellation polled at each chunk boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zecsync/warpcore/internal/blocksource"
	"github.com/zecsync/warpcore/internal/compact"
	"github.com/zecsync/warpcore/internal/decrypter"
	"github.com/zecsync/warpcore/internal/downloader"
	"github.com/zecsync/warpcore/internal/keys"
	"github.com/zecsync/warpcore/internal/metrics"
	"github.com/zecsync/warpcore/internal/protocol"
	"github.com/zecsync/warpcore/internal/reorg"
	"github.com/zecsync/warpcore/internal/spend"
	"github.com/zecsync/warpcore/internal/store"
	"github.com/zecsync/warpcore/internal/tree"
	"github.com/zecsync/warpcore/internal/treebuilder"
)

// Config tunes every stage's behavior plus the poll loop itself.
type Config struct {
	Downloader   downloader.Config
	Decrypter    decrypter.Config
	ReorgHorizon int64
	PollInterval time.Duration

	// AnchorOffset keeps the pipeline this many blocks behind the
	// source's reported chain tip before it will commit a chunk —
	// generalizing the teacher's deposit/spend confirmation-depth
	// bookkeeping (backfill.go's confirmDepositConfirmations) into a
	// single stay-behind-tip exit condition (spec.md §6). 0 syncs all
	// the way to the reported tip.
	AnchorOffset int64
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Downloader:   downloader.DefaultConfig(),
		Decrypter:    decrypter.DefaultConfig(),
		ReorgHorizon: reorg.DefaultHorizon,
		PollInterval: 2 * time.Second,
	}
}

// Pipeline is one end-to-end wallet sync run against a single block
// source and store.
type Pipeline struct {
	source blocksource.Source
	st     store.Store
	reg    *keys.Registry

	dl        *downloader.Downloader
	dec       *decrypter.Decrypter
	tb        *treebuilder.Builder
	idx       *spend.Index
	committer *spend.Committer
	reorg     *reorg.Handler

	pollInterval time.Duration
	anchorOffset int64
	log          zerolog.Logger
}

// New builds a Pipeline and restores its tree/spend state from the
// store's current tip, so Run resumes exactly where a previous run
// (or a crash) left off.
func New(ctx context.Context, source blocksource.Source, st store.Store, reg *keys.Registry, cfg Config, log zerolog.Logger) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("pipeline: block source is nil")
	}
	if st == nil {
		return nil, errors.New("pipeline: store is nil")
	}
	if reg == nil {
		return nil, errors.New("pipeline: key registry is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	frontiers, err := loadFrontiers(ctx, st)
	if err != nil {
		return nil, err
	}

	tb := treebuilder.New(frontiers, log)
	idx := spend.NewIndex()
	if err := seedUnspent(ctx, st, reg, idx); err != nil {
		return nil, err
	}

	p := &Pipeline{
		source:       source,
		st:           st,
		reg:          reg,
		dl:           downloader.New(source, cfg.Downloader, log),
		dec:          decrypter.New(cfg.Decrypter, log),
		tb:           tb,
		idx:          idx,
		committer:    spend.New(st, reg, idx, tb, log),
		reorg:        reorg.New(st, source, tb, idx, cfg.ReorgHorizon, log),
		pollInterval: cfg.PollInterval,
		anchorOffset: cfg.AnchorOffset,
		log:          log.With().Str("component", "pipeline").Logger(),
	}
	return p, nil
}

// loadFrontiers restores each pool's note-commitment frontier from the
// store's current tip checkpoint, if any. A pool with no checkpointed
// blob yet (a fresh wallet, or a pool never touched before the tip)
// starts from a nil entry; treebuilder.Builder.Build initializes a
// fresh tree for it on first use.
func loadFrontiers(ctx context.Context, st store.Store) (map[protocol.Pool]*tree.Frontier, error) {
	frontiers := make(map[protocol.Pool]*tree.Frontier, 2)

	tip, ok, err := st.Tip(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: store tip: %w", err)
	}
	if !ok {
		return frontiers, nil
	}

	saplingBlob, orchardBlob, ok, err := st.FrontierAtHeight(ctx, tip.Height)
	if err != nil {
		return nil, fmt.Errorf("pipeline: frontier at height %d: %w", tip.Height, err)
	}
	if !ok {
		return frontiers, nil
	}

	if len(saplingBlob) > 0 {
		f, err := tree.UnmarshalFrontier(saplingBlob)
		if err != nil {
			return nil, fmt.Errorf("pipeline: unmarshal sapling frontier: %w", err)
		}
		frontiers[protocol.Sapling] = f
	}
	if len(orchardBlob) > 0 {
		f, err := tree.UnmarshalFrontier(orchardBlob)
		if err != nil {
			return nil, fmt.Errorf("pipeline: unmarshal orchard frontier: %w", err)
		}
		frontiers[protocol.Orchard] = f
	}
	return frontiers, nil
}

// seedUnspent loads every registered account's currently unspent notes
// into idx, so the first chunk scanned after a restart can already
// detect spends of notes received in an earlier run.
func seedUnspent(ctx context.Context, st store.Store, reg *keys.Registry, idx *spend.Index) error {
	byPool := make(map[protocol.Pool][]store.Note, 2)
	for _, account := range reg.Accounts() {
		notes, err := st.ListUnspentNotes(ctx, int64(account))
		if err != nil {
			return fmt.Errorf("pipeline: list unspent notes for account %d: %w", account, err)
		}
		for _, n := range notes {
			pool := protocol.Pool(n.Pool)
			byPool[pool] = append(byPool[pool], n)
		}
	}
	for _, pool := range []protocol.Pool{protocol.Sapling, protocol.Orchard} {
		idx.LoadUnspent(pool, byPool[pool])
	}
	return nil
}

// Run polls for new blocks every PollInterval until ctx is canceled,
// checking for a reorg and then downloading, decrypting, positioning
// and committing every chunk between the last committed height and
// the current chain tip (spec.md §5: chunks processed in strict
// ascending height order; cancellation polled at chunk boundaries).
//
// wake is optional (nil is fine): when supplied, a value on it (e.g.
// from internal/zmq's hashblock notifier) triggers an immediate extra
// pass instead of waiting out the rest of the poll interval — the
// ticker remains the fallback so the pipeline still makes progress if
// notifications are dropped or unavailable.
func (p *Pipeline) Run(ctx context.Context, wake <-chan struct{}) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.runOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// RunOnce runs a single poll pass — check for a reorg, then download,
// decrypt and commit every chunk up to the current chain tip — and
// returns once caught up, without waiting for PollInterval. Exposed
// for internal/api's POST /v1/sync/run, which triggers an out-of-band
// pass on demand instead of waiting on Run's ticker.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	return p.runOnce(ctx)
}

func (p *Pipeline) runOnce(ctx context.Context) error {
	nextHeight := uint64(0)

	tip, ok, err := p.st.Tip(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: store tip: %w", err)
	}
	if ok {
		nextHeight = uint64(tip.Height) + 1

		commonHeight, reorged, err := p.reorg.Check(ctx, tip.Height)
		if err != nil {
			return err
		}
		if reorged {
			accounts := make([]int64, 0, len(p.reg.Accounts()))
			for _, a := range p.reg.Accounts() {
				accounts = append(accounts, int64(a))
			}
			if err := p.reorg.Recover(ctx, commonHeight, accounts); err != nil {
				return err
			}
			metrics.ReorgsHandled.Inc()
			nextHeight = uint64(commonHeight + 1)
		}
	}

	latest, err := p.source.GetLatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: get latest block: %w", err)
	}

	target := latest.Height
	if offset := uint64(p.anchorOffset); p.anchorOffset > 0 {
		if offset > target {
			return nil
		}
		target -= offset
	}
	if nextHeight > target {
		return nil
	}

	return p.dl.Run(ctx, nextHeight, target, func(chunk compact.Chunk) error {
		return p.processChunk(ctx, chunk)
	})
}

// processChunk runs one chunk through the Decrypter, Tree Builder and
// Committer in sequence, checking ctx first so a cancellation does not
// commit a chunk already drained in-flight (spec.md §5: "On cancel,
// the pipeline... does NOT commit the current chunk").
func (p *Pipeline) processChunk(ctx context.Context, chunk compact.Chunk) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var matches map[protocol.Pool][]decrypter.Match
	if err := metrics.ObserveStage("decrypt", func() error {
		var err error
		matches, err = p.dec.Run(ctx, p.reg, chunk)
		return err
	}); err != nil {
		return fmt.Errorf("pipeline: decrypt chunk: %w", err)
	}
	for pool, ms := range matches {
		metrics.NotesDecrypted.WithLabelValues(pool.String()).Add(float64(len(ms)))
	}

	var res treebuilder.Result
	if err := metrics.ObserveStage("tree_build", func() error {
		var err error
		res, err = p.tb.Build(chunk, matches)
		return err
	}); err != nil {
		return fmt.Errorf("pipeline: build tree: %w", err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := metrics.ObserveStage("commit", func() error {
		return p.committer.Commit(ctx, chunk, res)
	}); err != nil {
		return fmt.Errorf("pipeline: commit chunk: %w", err)
	}
	metrics.ChunksCommitted.Inc()

	p.log.Debug().
		Uint64("start", chunk.StartHeight).
		Uint64("end", chunk.EndHeight).
		Msg("chunk committed")
	return nil
}
