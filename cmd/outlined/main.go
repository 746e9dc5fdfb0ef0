// outlined is the collaborative outline engine daemon.
//
// It reads configuration from outline.json in the working directory,
// connects to PostgreSQL, bootstraps the schema, and starts the HTTP
// server: container management, the command endpoint, tree reads, and
// the websocket event stream. A URL analyzer pool runs alongside the
// server and enriches node content off the command path.
//
// Usage:
//
//	./outlined                # reads ./outline.json, starts server
//	docker compose up -d      # runs via Docker with mounted config
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/showdeck/outline-engine/internal/analyzer"
	"github.com/showdeck/outline-engine/internal/config"
	"github.com/showdeck/outline-engine/internal/database"
	"github.com/showdeck/outline-engine/internal/engine"
	"github.com/showdeck/outline-engine/internal/events"
	"github.com/showdeck/outline-engine/internal/logging"
	"github.com/showdeck/outline-engine/internal/metrics"
	"github.com/showdeck/outline-engine/internal/repository"
	"github.com/showdeck/outline-engine/internal/server"
)

func main() {
	cfg, err := config.Load("outline.json")
	if err != nil {
		logging.Init(logging.Config{Level: "info"})
		logger := logging.WithComponent("main")
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	log := logging.WithComponent("main")
	log.Info().Str("listen", cfg.ListenAddr).Str("db", cfg.DBConn+"/"+cfg.DBName).Msg("outlined starting")

	// Root context cancelled on SIGINT or SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	// Connect to PostgreSQL and bootstrap schema.
	db, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("database connected, schema bootstrapped")

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	store := repository.NewPostgres(db.Pool)
	bus := events.NewBus()
	defer bus.Shutdown()

	urls := analyzer.New(store, bus, nil, analyzer.Config{
		Concurrency:   cfg.AnalyzerConcurrency,
		PerURLTimeout: cfg.AnalyzerPerURLTimeout(),
		JobBudget:     cfg.AnalyzerJobBudget(),
	})
	dispatcher := engine.New(store, bus, urls, engine.Config{
		CommandTimeout:         cfg.CommandTimeout(),
		SerializerIdleTeardown: cfg.SerializerIdleTeardown(),
	})
	srv := server.New(cfg, store, dispatcher, bus, registry)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return urls.Run(ctx) })
	g.Go(func() error { return srv.Start(ctx) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("server error")
	}

	log.Info().Msg("outlined stopped")
}
