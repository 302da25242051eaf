package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBDriver string
	DBDSN    string
	DBSchema string
	DBPath   string

	RPCURL      string
	RPCUser     string
	RPCPassword string

	ListenAddr    string
	UAHRP         string
	PollInterval  time.Duration
	Confirmations int64
	ZMQHashBlock  string

	// KeysFile is a JSON file of per-account, per-pool viewing keys
	// loaded into the pipeline's read-only keys.Registry at startup.
	KeysFile string

	BrokerDriver       string
	BrokerURL          string
	BrokerTopic        string
	BrokerPollInterval time.Duration
	BrokerBatchSize    int

	// SpamThreshold is the per-tx output/action cap above which
	// ciphertexts are cleared; 0 disables clearing (spec.md §6).
	SpamThreshold int
	// ChunkOutputCap is the hard ceiling on outputs per chunk
	// (spec.md §6, default 200 000).
	ChunkOutputCap int
	// RetryAttempts is the Downloader's transient-error retry ceiling
	// (spec.md §6, nominal 10).
	RetryAttempts int
	// GPUAccel routes decryption to a GPU implementation where
	// available; the pure-CPU path is always present (spec.md §6).
	GPUAccel bool
	// AnchorOffset is how many blocks the pipeline stays behind the
	// reported chain tip before committing a chunk, generalizing the
	// teacher's deposit/spend confirmation-depth bookkeeping into a
	// single stay-behind-tip exit condition.
	AnchorOffset int64
	// ReorgHorizon bounds how far back the Reorg Handler will walk to
	// find a common ancestor before surfacing a fatal inconsistency
	// (spec.md §4.5, nominal 100).
	ReorgHorizon int64
}

func FromFlags() Config {
	var cfg Config

	flag.StringVar(&cfg.DBDriver, "db-driver", getenv("JUNO_SCAN_DB_DRIVER", "postgres"), "Database driver (postgres, mysql, rocksdb)")

	var dsn string
	var legacyURL string
	flag.StringVar(&dsn, "db-dsn", getenv("JUNO_SCAN_DB_DSN", ""), "Database DSN for postgres/mysql")
	flag.StringVar(&legacyURL, "db-url", getenv("JUNO_SCAN_DB_URL", "postgres://localhost:5432/junoscan?sslmode=disable"), "Deprecated alias for -db-dsn")

	flag.StringVar(&cfg.DBSchema, "db-schema", getenv("JUNO_SCAN_DB_SCHEMA", ""), "Postgres schema for juno-scan tables (optional)")
	flag.StringVar(&cfg.DBPath, "db-path", getenv("JUNO_SCAN_DB_PATH", ""), "RocksDB (Pebble) path (required when db-driver=rocksdb)")

	flag.StringVar(&cfg.RPCURL, "rpc-url", getenv("JUNO_SCAN_RPC_URL", "127.0.0.1:9067"), "lightwalletd gRPC endpoint the Downloader streams compact blocks from")
	flag.StringVar(&cfg.RPCUser, "rpc-user", getenv("JUNO_SCAN_RPC_USER", ""), "reserved for an authenticated lightwalletd deployment")
	flag.StringVar(&cfg.RPCPassword, "rpc-pass", getenv("JUNO_SCAN_RPC_PASS", ""), "reserved for an authenticated lightwalletd deployment")
	flag.StringVar(&cfg.KeysFile, "keys-file", getenv("JUNO_SCAN_KEYS_FILE", ""), "JSON file of per-account, per-pool viewing keys")

	flag.StringVar(&cfg.ListenAddr, "listen", getenv("JUNO_SCAN_LISTEN", "127.0.0.1:8080"), "HTTP listen address")
	flag.StringVar(&cfg.UAHRP, "ua-hrp", getenv("JUNO_SCAN_UA_HRP", "j"), "Unified address HRP (e.g. j, jregtest)")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", getenvDuration("JUNO_SCAN_POLL_INTERVAL", 2*time.Second), "Poll interval for new blocks (ZMQ notifications, when configured, wake the loop early)")
	flag.Int64Var(&cfg.Confirmations, "confirmations", getenvInt64("JUNO_SCAN_CONFIRMATIONS", 100), "Confirmation depth (not read by any component of this build)")
	flag.StringVar(&cfg.ZMQHashBlock, "zmq-hashblock", getenv("JUNO_SCAN_ZMQ_HASHBLOCK", ""), "Optional ZMQ endpoint for hashblock notifications (tcp://host:port)")

	flag.StringVar(&cfg.BrokerDriver, "broker-driver", getenv("JUNO_SCAN_BROKER_DRIVER", "none"), "Message broker driver (none, kafka, nats, rabbitmq)")
	flag.StringVar(&cfg.BrokerURL, "broker-url", getenv("JUNO_SCAN_BROKER_URL", ""), "Message broker URL/DSN")
	flag.StringVar(&cfg.BrokerTopic, "broker-topic", getenv("JUNO_SCAN_BROKER_TOPIC", "warpcore.events"), "Message broker topic/subject/queue name")
	flag.DurationVar(&cfg.BrokerPollInterval, "broker-poll-interval", getenvDuration("JUNO_SCAN_BROKER_POLL_INTERVAL", 500*time.Millisecond), "Broker outbox poll interval")
	flag.IntVar(&cfg.BrokerBatchSize, "broker-batch-size", getenvInt("JUNO_SCAN_BROKER_BATCH_SIZE", 1000), "Broker outbox batch size")

	flag.IntVar(&cfg.SpamThreshold, "spam-threshold", getenvInt("JUNO_SCAN_SPAM_THRESHOLD", 0), "Per-tx output/action cap above which ciphertexts are cleared (0 disables)")
	flag.IntVar(&cfg.ChunkOutputCap, "chunk-output-cap", getenvInt("JUNO_SCAN_CHUNK_OUTPUT_CAP", 200_000), "Hard ceiling on outputs per chunk")
	flag.IntVar(&cfg.RetryAttempts, "retry-attempts", getenvInt("JUNO_SCAN_RETRY_ATTEMPTS", 10), "Transient transport error retry attempts")
	flag.BoolVar(&cfg.GPUAccel, "gpu-accel", getenvBool("JUNO_SCAN_GPU_ACCEL", false), "Route trial decryption to a GPU implementation where available")
	flag.Int64Var(&cfg.AnchorOffset, "anchor-offset", getenvInt64("JUNO_SCAN_ANCHOR_OFFSET", 0), "Blocks to stay behind the reported chain tip before committing")
	flag.Int64Var(&cfg.ReorgHorizon, "reorg-horizon", getenvInt64("JUNO_SCAN_REORG_HORIZON", 100), "Maximum blocks the Reorg Handler will walk back to find a common ancestor")

	flag.Parse()

	if dsn == "" {
		dsn = legacyURL
	}
	cfg.DBDSN = dsn
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
