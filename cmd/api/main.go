// Command api is the HTTP façade binary (spec §4.K): it serves the REST+SSE surface, hosts
// the Scheduler singleton (spec §4.D), and publishes ad-hoc/scheduled jobs onto the queues
// cmd/worker consumes. Per REDESIGN FLAGS's "split into two binaries sharing only a domain
// library," this process never itself invokes a scraper.Module — that's cmd/worker's job —
// it only enqueues and reads back state the worker wrote.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventscrape/core/internal/config"
	"github.com/eventscrape/core/internal/export"
	"github.com/eventscrape/core/internal/httpapi"
	"github.com/eventscrape/core/internal/logging"
	"github.com/eventscrape/core/internal/logstream"
	"github.com/eventscrape/core/internal/match"
	"github.com/eventscrape/core/internal/queue"
	"github.com/eventscrape/core/internal/runs"
	"github.com/eventscrape/core/internal/scheduler"
	"github.com/eventscrape/core/internal/scraper"
	"github.com/eventscrape/core/internal/store"
	"github.com/eventscrape/core/internal/streamstore"
	"github.com/eventscrape/core/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logging.Info().Str("env", cfg.Env).Int("port", cfg.Port).Msg("starting eventscrape api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open relational store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing relational store")
		}
	}()

	streams, err := streamstore.Open(ctx, cfg.RedisURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open stream store")
	}
	defer func() {
		if err := streams.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing stream store")
		}
	}()

	router, err := queue.NewRouter(ctx, cfg.RedisURL, queue.DefaultRouterConfig(), nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build job queue router")
	}
	defer func() {
		if err := router.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing job queue router")
		}
	}()

	registry := runs.New(db, streams)
	sched := scheduler.New(db, streams, router.Publisher(), logging.Logger(), scheduler.DefaultConfig())
	dispatcher := scheduler.NewDispatcher(db, db, db, router.Publisher())
	if err := router.AddConsumerHandler("schedule-dispatch", queue.TopicSchedule, dispatcher.Handle); err != nil {
		logging.Fatal().Err(err).Msg("failed to register schedule dispatcher")
	}

	matchEngine := match.New(db, match.NewWeightedScorer(), match.DefaultThreshold)
	matchHandler := match.NewMatchHandler(matchEngine)
	if err := router.AddConsumerHandler("match-worker", queue.TopicMatch, matchHandler.Handle); err != nil {
		logging.Fatal().Err(err).Msg("failed to register match handler")
	}

	occSource := export.NewStoreOccurrenceSource(db)
	exportEngine := export.New(db, occSource, cfg.ExportDir)
	exportHandler := export.NewExportHandler(exportEngine)
	if err := router.AddConsumerHandler("export-worker", queue.TopicExport, exportHandler.Handle); err != nil {
		logging.Fatal().Err(err).Msg("failed to register export handler")
	}

	logHub := logstream.NewHub(streams)
	modules := scraper.NewRegistry()

	handler := httpapi.New(db, streams, registry, sched, matchEngine, exportEngine, logHub, modules, router.Publisher(), cfg.ExportDir)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Router(cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddBackgroundService(supervisor.NewFuncService("log-hub", logHub.Run))
	tree.AddBackgroundService(supervisor.NewFuncService("queue-router", router.Run))
	tree.AddBackgroundService(supervisor.NewFuncService("scheduler", func(ctx context.Context) error {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return sched.Stop()
	}))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, "http-server", 15*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("supervisor tree starting")
	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		os.Exit(1)
	}
	logging.Info().Msg("eventscrape api stopped gracefully")
}
