// Package metrics registers the pipeline's prometheus instrumentation
// against the default registerer, so internal/api's /v1/metrics route
// can serve it with promhttp.Handler without threading a registry
// object through every stage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksCommitted counts committed checkpoints (spec.md §4.4).
	ChunksCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warpcore",
		Subsystem: "pipeline",
		Name:      "chunks_committed_total",
		Help:      "Chunks successfully committed to the store.",
	})

	// StageLatency is keyed by stage name (decrypt, tree_build, commit)
	// and records wall-clock time per chunk through that stage.
	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "warpcore",
		Subsystem: "pipeline",
		Name:      "stage_latency_seconds",
		Help:      "Per-stage chunk processing latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	// NotesDecrypted is keyed by pool ("sapling", "orchard") and counts
	// accepted trial decryptions.
	NotesDecrypted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warpcore",
		Subsystem: "decrypter",
		Name:      "notes_decrypted_total",
		Help:      "Trial decryptions accepted as wallet notes.",
	}, []string{"pool"})

	// BatchInversions records the size of each shared-inversion batch
	// (protocol.sharedSecretsBatch) the Decrypter's worker pool runs,
	// so batch sizing can be tuned against observed throughput.
	BatchInversions = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "warpcore",
		Subsystem: "decrypter",
		Name:      "batch_inversion_size",
		Help:      "Number of (key, output) pairs per shared-inversion batch.",
		Buckets:   []float64{1, 4, 16, 64, 256, 1024, 4096},
	})

	// ReorgsHandled counts completed Reorg Handler recoveries.
	ReorgsHandled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warpcore",
		Subsystem: "pipeline",
		Name:      "reorgs_handled_total",
		Help:      "Completed reorg recoveries.",
	})
)

// ObserveStage times fn under the named stage label and returns its error.
func ObserveStage(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}
