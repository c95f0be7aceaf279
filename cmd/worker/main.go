// Command worker is the scraper execution binary (spec §4.G): it consumes scrape-queue and
// instagram-scrape-queue jobs, invokes the registered scraper.Module for each source, ingests
// the results idempotently, and — on a non-empty batch — enqueues a follow-up match-queue job.
// Per REDESIGN FLAGS's two-binary split, this process shares only the queue, the stream store
// and the relational store with cmd/api; it never serves HTTP and never runs the cron scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventscrape/core/internal/cache"
	"github.com/eventscrape/core/internal/config"
	"github.com/eventscrape/core/internal/logging"
	"github.com/eventscrape/core/internal/queue"
	"github.com/eventscrape/core/internal/runs"
	"github.com/eventscrape/core/internal/scraper"
	"github.com/eventscrape/core/internal/store"
	"github.com/eventscrape/core/internal/streamstore"
	"github.com/eventscrape/core/internal/supervisor"
	"github.com/eventscrape/core/internal/worker"
)

// seenCacheCapacity bounds the content-hash bloom+LRU pre-check (internal/cache); it need
// only be large enough to cover one sliding dedupe window's worth of distinct events.
const seenCacheCapacity = 100_000

// seenCacheTTL is how long a recorded key stays in the LRU layer of the "seen before"
// pre-check.
const seenCacheTTL = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logging.Info().Str("env", cfg.Env).Int("concurrency", cfg.WorkerConcurrency).Msg("starting eventscrape worker")

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
	seenCache := cache.NewSeenCache(seenCacheCapacity, seenCacheTTL)

	// No scraper modules are registered here: browser-automation scraper modules are an
	// external collaborator — only their Module contract (internal/scraper) is in scope.
	// The browser pool's newFn is left unimplemented for the same reason; a deployment that
	// wires in real modules supplies both at this call site.
	modules := scraper.NewRegistry()
	pool := worker.NewBrowserPool(cfg.BrowserPoolSize, func(ctx context.Context) (scraper.Page, error) {
		return nil, fmt.Errorf("no browser driver configured for this worker deployment")
	})

	rt := worker.New(db, registry, modules, seenCache, pool, streams).WithMatchPublisher(router.Publisher())

	if err := router.AddConsumerHandler("scrape-worker", queue.TopicScrape, rt.ScrapeHandler()); err != nil {
		logging.Fatal().Err(err).Msg("failed to register scrape handler")
	}
	if err := router.AddConsumerHandler("instagram-scrape-worker", queue.TopicInstagramScrape, rt.ScrapeHandler()); err != nil {
		logging.Fatal().Err(err).Msg("failed to register instagram scrape handler")
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddBackgroundService(supervisor.NewFuncService("queue-router", router.Run))

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
	logging.Info().Msg("eventscrape worker stopped gracefully")
}
