// Command warpcore runs the sync pipeline end to end: download compact
// blocks from lightwalletd, decrypt and position them, commit
// checkpoints to the configured store, fan out checkpoint/reorg events
// to an optional broker, and serve the operational HTTP surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zecsync/warpcore/internal/api"
	"github.com/zecsync/warpcore/internal/blocksource"
	"github.com/zecsync/warpcore/internal/broker"
	"github.com/zecsync/warpcore/internal/config"
	"github.com/zecsync/warpcore/internal/keys"
	"github.com/zecsync/warpcore/internal/pipeline"
	"github.com/zecsync/warpcore/internal/publisher"
	"github.com/zecsync/warpcore/internal/storage"
	"github.com/zecsync/warpcore/internal/zmq"
)

func main() {
	cfg := config.FromFlags()
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := storage.Open(ctx, storage.Config{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		Schema: cfg.DBSchema,
		Path:   cfg.DBPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate store")
	}

	if cfg.KeysFile == "" {
		log.Fatal().Msg("-keys-file is required")
	}
	reg, err := keys.LoadRegistryFile(cfg.KeysFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load keys file")
	}

	source, err := blocksource.Dial(ctx, cfg.RPCURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Msg("dial lightwalletd")
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.ReorgHorizon = cfg.ReorgHorizon
	pcfg.AnchorOffset = cfg.AnchorOffset
	pcfg.PollInterval = cfg.PollInterval
	pcfg.Decrypter.GPU = cfg.GPUAccel
	pcfg.Downloader.SpamThreshold = cfg.SpamThreshold
	pcfg.Downloader.ChunkOutputCap = cfg.ChunkOutputCap
	pcfg.Downloader.RetryAttempts = cfg.RetryAttempts

	pl, err := pipeline.New(ctx, source, st, reg, pcfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline init")
	}

	var wake chan struct{}
	if cfg.ZMQHashBlock != "" {
		wake = make(chan struct{}, 1)
		go func() {
			logf := func(format string, args ...any) { log.Debug().Msgf(format, args...) }
			err := zmq.Notify(ctx, zmq.NotifyConfig{
				Endpoint: cfg.ZMQHashBlock,
				Topic:    "hashblock",
			}, wake, logf)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("zmq notify stopped")
			}
		}()
	}

	go func() {
		if err := pl.Run(ctx, wake); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("pipeline stopped")
			cancel()
		}
	}()

	br, err := broker.Open(ctx, broker.Config{
		Driver: cfg.BrokerDriver,
		URL:    cfg.BrokerURL,
		Topic:  cfg.BrokerTopic,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open broker")
	}
	if br != nil {
		defer br.Close()

		pub, err := publisher.New(st, br, publisher.Config{
			PollInterval: cfg.BrokerPollInterval,
			BatchSize:    cfg.BrokerBatchSize,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("publisher init")
		}
		go func() {
			if err := pub.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("publisher stopped")
			}
		}()
	}

	apiServer, err := api.New(st, api.WithPipeline(pl))
	if err != nil {
		log.Fatal().Err(err).Msg("api init")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http")
	}
}
