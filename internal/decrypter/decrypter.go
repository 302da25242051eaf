// Package decrypter implements the sync pipeline's second stage:
// trial-decrypting every compact output in a chunk against every
// registered incoming viewing key, for both shielded pools.
package decrypter

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zecsync/warpcore/internal/compact"
	"github.com/zecsync/warpcore/internal/keys"
	"github.com/zecsync/warpcore/internal/metrics"
	"github.com/zecsync/warpcore/internal/protocol"
)

// Config tunes the Decrypter's worker-pool fan-out.
type Config struct {
	// Workers is the number of goroutines a pool's outputs are split
	// across within one Run call. 0 is resolved to GOMAXPROCS by
	// DefaultConfig/New.
	Workers int

	// GPU requests routing trial decryption to a GPU implementation
	// where this binary was built with one (spec.md §6, "gpu_accel").
	// Falls back to the CPU worker pool with a logged warning when no
	// GPU backend is compiled in.
	GPU bool
}

// DefaultConfig sizes the worker pool to the logical-CPU count
// (spec.md §5: "decryption... run on a work-stealing worker pool sized
// to the logical-CPU count").
func DefaultConfig() Config {
	return Config{Workers: runtime.GOMAXPROCS(0)}
}

// Match is one accepted trial decryption.
type Match struct {
	Account keys.Account
	Pool    protocol.Pool

	// ChunkIndex is this output's position within its pool's
	// chunk-relative output order, which the Tree Builder combines
	// with the previous tree size to assign an absolute position
	// (spec.md §4.3).
	ChunkIndex int

	Height      uint64
	TxHash      [32]byte
	TxIndex     uint64
	OutputIndex int

	Note protocol.Plaintext
}

// Decrypter runs trial decryption for one chunk at a time.
type Decrypter struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Decrypter {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	log = log.With().Str("stage", "decrypter").Logger()
	if cfg.GPU && !gpuAvailable() {
		log.Warn().Msg("gpu_accel requested but this build has no GPU backend, using CPU worker pool")
	}
	return &Decrypter{cfg: cfg, log: log}
}

// Run trial-decrypts every output of chunk against every registered key,
// for both pools, and returns accepted matches grouped by pool. Within
// a pool, matches are returned in strict chunk order — the stage never
// reorders outputs relative to chunk order (spec.md §4.2), since
// downstream stages assign tree positions from that order.
func (d *Decrypter) Run(ctx context.Context, reg *keys.Registry, chunk compact.Chunk) (map[protocol.Pool][]Match, error) {
	result := make(map[protocol.Pool][]Match, 2)

	for _, pool := range []protocol.Pool{protocol.Sapling, protocol.Orchard} {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		keySets := reg.KeysForPool(pool)
		if len(keySets) == 0 {
			continue
		}

		outputs := compact.Flatten(chunk, pool)
		if len(outputs) == 0 {
			continue
		}

		pc, err := protocol.For(pool)
		if err != nil {
			return nil, err
		}

		matches, err := d.decryptPool(ctx, pc, pool, keySets, outputs)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			result[pool] = matches
			d.log.Debug().
				Stringer("pool", pool).
				Int("outputs", len(outputs)).
				Int("matches", len(matches)).
				Msg("decrypted chunk")
		}
	}

	return result, nil
}

// decryptPool partitions outputs across d.cfg.Workers goroutines (the
// spec's "outputs within a chunk are partitioned across worker
// threads"), each of which runs its batch through
// Capability.TrialDecryptBatch so the pool's shared-inversion
// optimization (protocol.sharedSecretsBatch) applies within every
// worker's share of the work. Results are reassembled in ChunkIndex
// order once every worker finishes.
func (d *Decrypter) decryptPool(ctx context.Context, pc protocol.Capability, pool protocol.Pool, keySets []keys.KeySet, outputs []compact.FlatOutput) ([]Match, error) {
	workers := d.cfg.Workers
	if workers > len(outputs) {
		workers = len(outputs)
	}
	if workers < 1 {
		workers = 1
	}

	total := len(outputs)
	base := total / workers
	rem := total % workers

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matches []Match
	)

	start := 0
	for w := 0; w < workers; w++ {
		size := base
		if w < rem {
			size++
		}
		if size == 0 {
			continue
		}
		batch := outputs[start : start+size]
		start += size

		wg.Add(1)
		go func(batch []compact.FlatOutput) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			metrics.BatchInversions.Observe(float64(len(batch) * len(keySets)))
			local := decryptBatch(pc, pool, keySets, batch)
			if len(local) == 0 {
				return
			}
			mu.Lock()
			matches = append(matches, local...)
			mu.Unlock()
		}(batch)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].ChunkIndex != matches[j].ChunkIndex {
			return matches[i].ChunkIndex < matches[j].ChunkIndex
		}
		return matches[i].Account < matches[j].Account
	})
	return matches, nil
}

// decryptBatch runs every (key, output) pair in one worker's batch
// through TrialDecryptBatch as a single shared-inversion batch (spec.md
// §4.2, §9). A note can in principle match more than one registered
// key; every match is kept.
func decryptBatch(pc protocol.Capability, pool protocol.Pool, keySets []keys.KeySet, batch []compact.FlatOutput) []Match {
	type origin struct {
		account keys.Account
		output  compact.FlatOutput
	}

	n := len(batch) * len(keySets)
	inputs := make([]protocol.TrialDecryptInput, 0, n)
	origins := make([]origin, 0, n)

	for _, o := range batch {
		for _, ks := range keySets {
			inputs = append(inputs, protocol.TrialDecryptInput{IVK: ks.IVK, Out: o.Output})
			origins = append(origins, origin{account: ks.Account, output: o})
		}
	}

	results := pc.TrialDecryptBatch(inputs)

	var out []Match
	for i, r := range results {
		if !r.Ok {
			continue
		}
		o := origins[i]
		out = append(out, Match{
			Account:     o.account,
			Pool:        pool,
			ChunkIndex:  o.output.ChunkIndex,
			Height:      o.output.Height,
			TxHash:      o.output.TxHash,
			TxIndex:     o.output.TxIndex,
			OutputIndex: o.output.OutputIndex,
			Note:        r.Note,
		})
	}
	return out
}
