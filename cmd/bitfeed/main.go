// Command bitfeed runs the frame-replication engine: it maintains a
// versioned bitset, publishes keyframes and deltaframes over
// WebSocket to any number of subscribers, and ingests change batches
// from NATS. Startup wires config, logging, metrics, the engine
// components, and transport together, then shuts down on SIGINT or
// SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bitfeed/internal/bitset"
	"bitfeed/internal/config"
	"bitfeed/internal/hub"
	"bitfeed/internal/ingress"
	"bitfeed/internal/logging"
	"bitfeed/internal/metrics"
	"bitfeed/internal/publisher"
	"bitfeed/internal/replay"
	"bitfeed/internal/session"
	"bitfeed/internal/sysstats"
	"bitfeed/internal/transport"

	_ "go.uber.org/automaxprocs"
)

func main() {
	bootstrapLog := logging.New("info", "json")

	cfg, err := config.Load(&bootstrapLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	reg := metrics.NewRegistry()
	store := bitset.New(cfg.BitCount)
	buffer := replay.New(cfg.ReplayBufferSize)
	h := hub.New(cfg.SubscriberQueue, reg, log)
	pub := publisher.New(store, buffer, h, cfg.KeyframePeriod, log)
	sess := session.New(store, buffer, h, cfg.MaxCatchupFrames, reg, log)
	sampler := sysstats.New()

	srv := transport.New(cfg.ListenAddr, cfg.WSPath, sess, reg, sampler, cfg.ShutdownTimeout, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := ingress.New(cfg.NATSURL, cfg.NATSSubject, cfg.IngressRate, log)
	ingressErrCh := make(chan error, 1)
	go func() {
		ingressErrCh <- source.Run(ctx, pub)
	}()

	transportErrCh := make(chan error, 1)
	go func() {
		transportErrCh <- srv.ListenAndServe(ctx)
	}()

	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("ws_path", cfg.WSPath).
		Int("bit_count", cfg.BitCount).
		Uint64("keyframe_period", cfg.KeyframePeriod).
		Int("replay_buffer_size", cfg.ReplayBufferSize).
		Msg("bitfeed started")

	transportDone := false
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-ingressErrCh:
		if err != nil {
			log.Error().Err(err).Msg("ingress stopped unexpectedly")
		}
		stop()
	case err := <-transportErrCh:
		transportDone = true
		if err != nil {
			log.Error().Err(err).Msg("transport stopped unexpectedly")
		}
		stop()
	}

	if !transportDone {
		if err := <-transportErrCh; err != nil {
			log.Error().Err(err).Msg("transport shutdown error")
		}
	}
	log.Info().Msg("bitfeed stopped")
}
