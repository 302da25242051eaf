// Package downloader implements the sync pipeline's first stage:
// streaming compact blocks from a block source, applying the spam
// filter, and packing them into output-count-bounded chunks.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zecsync/warpcore/internal/blocksource"
	"github.com/zecsync/warpcore/internal/compact"
)

// ErrRetriesExhausted is returned when the configured number of
// transient-error retries has been exhausted for a single block range
// fetch (spec.md §4.1, "on exhaust, surface a fatal sync error").
var ErrRetriesExhausted = errors.New("downloader: retry attempts exhausted")

// Config tunes the Downloader's chunking and retry behavior.
type Config struct {
	// SpamThreshold is the per-tx output/action cap above which a
	// transaction's output ciphertexts are cleared. 0 disables
	// filtering.
	SpamThreshold int

	// ChunkOutputCap is the hard ceiling on pre-filter outputs per
	// chunk.
	ChunkOutputCap int

	// RetryAttempts is the number of attempts before giving up on a
	// transient transport error.
	RetryAttempts int

	// RetryBaseDelay is the initial backoff delay; it doubles on each
	// subsequent attempt.
	RetryBaseDelay time.Duration
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		SpamThreshold:  0,
		ChunkOutputCap: 200_000,
		RetryAttempts:  10,
		RetryBaseDelay: 200 * time.Millisecond,
	}
}

// Downloader pulls compact blocks from a Source and emits chunks.
type Downloader struct {
	source blocksource.Source
	cfg    Config
	log    zerolog.Logger
}

func New(source blocksource.Source, cfg Config, log zerolog.Logger) *Downloader {
	return &Downloader{source: source, cfg: cfg, log: log.With().Str("stage", "downloader").Logger()}
}

// Run streams [start, end] and invokes emit once per flushed chunk, in
// ascending height order. It retries transient transport errors with
// exponential backoff before surfacing ErrRetriesExhausted.
func (d *Downloader) Run(ctx context.Context, start, end uint64, emit func(compact.Chunk) error) error {
	if start > end {
		return nil
	}

	var cur compact.Chunk
	cur.StartHeight = start

	flush := func() error {
		if len(cur.Blocks) == 0 {
			return nil
		}
		cur.EndHeight = cur.Blocks[len(cur.Blocks)-1].Height
		d.log.Debug().
			Uint64("start", cur.StartHeight).
			Uint64("end", cur.EndHeight).
			Int("outputs", cur.OutputCount).
			Msg("chunk flushed")
		if err := emit(cur); err != nil {
			return err
		}
		cur = compact.Chunk{StartHeight: cur.EndHeight + 1}
		return nil
	}

	delay := d.cfg.RetryBaseDelay
	attempt := 0

	for {
		err := d.source.GetBlockRange(ctx, start, end, func(b compact.Block) error {
			compact.ApplySpamFilter(&b, d.cfg.SpamThreshold)

			outputs := 0
			for _, tx := range b.Txs {
				outputs += len(tx.Outputs)
			}

			if len(cur.Blocks) > 0 && cur.OutputCount+outputs > d.cfg.ChunkOutputCap {
				if err := flush(); err != nil {
					return err
				}
				cur.StartHeight = b.Height
			}

			cur.Blocks = append(cur.Blocks, b)
			cur.OutputCount += outputs
			start = b.Height + 1
			return nil
		})
		if err == nil {
			return flush()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if attempt >= d.cfg.RetryAttempts {
			return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
		}

		d.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("transient transport error, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}
