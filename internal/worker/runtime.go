package worker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/cache"
	"github.com/eventscrape/core/internal/ingest"
	"github.com/eventscrape/core/internal/logging"
	"github.com/eventscrape/core/internal/metrics"
	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/queue"
	"github.com/eventscrape/core/internal/runs"
	"github.com/eventscrape/core/internal/scraper"
	"github.com/eventscrape/core/internal/streamstore"
)

// Store is the subset of *store.DB the runtime needs beyond what internal/runs already
// wraps: source lookup (to resolve module_key and rate limit) and the ingestion Store.
type Store interface {
	GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error)
	ingest.Store
}

// Logs is the subset of internal/streamstore's *Store used to tee worker output into a
// run's log stream.
type Logs interface {
	AppendLogLine(ctx context.Context, runID uuid.UUID, line streamstore.LogLine) error
}

// Runtime consumes scrape-queue / instagram-scrape-queue jobs, invokes the matching
// scraper.Module, and ingests its results, exactly the per-job sequence of spec §4.G:
// transition run, tee logger, acquire page, invoke module, ingest in batches, release,
// finalize. Grounded on internal/sync/manager.go's poll-loop-owning-a-client-pool shape,
// with internal/sync/circuit_breaker.go's hand-rolled breaker replaced by gobreaker/v2
// around the module invocation itself.
type Runtime struct {
	store     Store
	registry  *runs.Registry
	modules   *scraper.Registry
	ingestor  *ingest.Ingestor
	pool      *BrowserPool
	logs      Logs
	limMu     sync.Mutex
	limiters  map[uuid.UUID]*cache.RateLimiter
	breaker   *gobreaker.CircuitBreaker[scraper.RunResult]
	publisher message.Publisher

	// BatchSize bounds how many RawEvents are handed to the ingestor per IngestOne call
	// before the runtime re-checks the cancellation flag, per spec §4.G's "between
	// ingestion batches" checkpoint.
	BatchSize int

	// MatchWindow pads the enqueued match-queue job's window on either side of the batch's
	// observed start-time range. Ignored when publisher is nil.
	MatchWindow time.Duration
}

// New builds a Runtime. pool may be nil for a worker process that only handles Instagram
// jobs (no website scraper ever needs a browser page).
func New(store Store, registry *runs.Registry, modules *scraper.Registry, seen *cache.SeenCache, pool *BrowserPool, logs Logs) *Runtime {
	breaker := gobreaker.NewCircuitBreaker[scraper.RunResult](gobreaker.Settings{
		Name:        "scraper-module",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
	return &Runtime{
		store:       store,
		registry:    registry,
		modules:     modules,
		ingestor:    ingest.New(store, seen),
		pool:        pool,
		logs:        logs,
		limiters:    make(map[uuid.UUID]*cache.RateLimiter),
		breaker:     breaker,
		BatchSize:   25,
		MatchWindow: 24 * time.Hour,
	}
}

// WithMatchPublisher enables automatic match-queue enqueueing after a successful ingestion
// batch, so newly ingested raw events get candidate-scored against their peers without an
// operator manually hitting /api/matches/generate. Returns rt for chaining at construction.
func (rt *Runtime) WithMatchPublisher(publisher message.Publisher) *Runtime {
	rt.publisher = publisher
	return rt
}

// rateLimiterFor returns (creating if needed) the sliding-window limiter for a source,
// seeded from its configured rate_limit_per_min, per spec §4.G.
func (rt *Runtime) rateLimiterFor(source *models.Source) *cache.RateLimiter {
	rt.limMu.Lock()
	defer rt.limMu.Unlock()
	if rl, ok := rt.limiters[source.ID]; ok {
		return rl
	}
	limit := int64(source.RateLimitPerMin)
	if limit <= 0 {
		limit = 30
	}
	rl := cache.NewRateLimiter(time.Minute, 6, limit)
	rt.limiters[source.ID] = rl
	return rl
}

// ScrapeHandler returns a watermill handler for queue.TopicScrape / TopicInstagramScrape.
func (rt *Runtime) ScrapeHandler() message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var payload queue.ScrapePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode scrape payload: %w", err)
		}
		return rt.RunJob(msg.Context(), payload.RunID, payload.SourceID)
	}
}

// RunJob executes the per-job sequence of spec §4.G for one (runID, sourceID) pair.
func (rt *Runtime) RunJob(ctx context.Context, runID, sourceID uuid.UUID) error {
	started := time.Now()
	source, err := rt.store.GetSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("load source %s: %w", sourceID, err)
	}
	if !source.Active {
		logging.Info().Str("run_id", runID.String()).Str("source", source.Name).Msg("source inactive, skipping scrape job")
		return nil
	}

	if _, err := rt.registry.MarkRunning(ctx, runID); err != nil {
		return fmt.Errorf("transition run %s to running: %w", runID, err)
	}

	jobLogger := rt.teeLogger(ctx, runID, source.Name)
	ctx = logging.WithContext(ctx, jobLogger)

	module, ok := rt.modules.Lookup(source.ModuleKey)
	if !ok {
		return rt.finishWithError(ctx, runID, source, started, fmt.Errorf("no scraper module registered for %q", source.ModuleKey))
	}

	var page scraper.Page
	if rt.pool != nil {
		guard, err := rt.pool.Acquire(ctx)
		if err != nil {
			return rt.finishWithError(ctx, runID, source, started, fmt.Errorf("acquire browser page: %w", err))
		}
		defer guard.Release()
		page = guard.Page
	}

	stats := &scraper.Stats{}
	result, runErr := rt.breaker.Execute(func() (scraper.RunResult, error) {
		return module.Run(&scraper.Context{
			Ctx:     ctx,
			Logger:  scraperLoggerAdapter{jobLogger},
			Page:    page,
			JobData: scraper.JobData{},
			Stats:   stats,
		})
	})

	if cancelled, cerr := rt.registry.PollCancelled(ctx, runID); cerr == nil && cancelled {
		return rt.finishCancelled(ctx, runID, source, started, result)
	}

	if runErr != nil && len(result.Events) == 0 {
		return rt.finishWithError(ctx, runID, source, started, apperr.Scraper("scraper module failed before yielding any event", runErr))
	}

	rt.rateLimiterFor(source)
	eventsFound, ingestErrs, span, cancelledMid := rt.ingestBatches(ctx, runID, sourceID, source.DefaultTimezone, result.Events)

	runStatus := models.RunStatusSuccess
	var errs []models.RunError
	for _, e := range ingestErrs {
		errs = append(errs, models.RunError{Message: e.Error(), At: time.Now()})
	}
	for _, e := range result.Errors {
		errs = append(errs, models.RunError{Message: e, At: time.Now()})
	}
	if runErr != nil || len(errs) > 0 {
		runStatus = models.RunStatusPartial
	}

	pagesCrawled := stats.PagesCrawled()
	if pagesCrawled == 0 {
		pagesCrawled = result.PagesCrawled
	}

	if cancelledMid {
		errs = append(errs, models.RunError{Message: "cancelled", Code: "cancelled", At: time.Now()})
		run, err := rt.registry.FinishCancelled(ctx, runID, pagesCrawled, eventsFound, errs)
		if err != nil {
			return fmt.Errorf("finish cancelled run %s: %w", runID, err)
		}
		rt.recordMetrics(run, started)
		return nil
	}

	run, err := rt.registry.Finish(ctx, runID, runStatus, pagesCrawled, eventsFound, errs)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	rt.recordMetrics(run, started)

	if eventsFound > 0 && !span.isZero() {
		rt.enqueueMatchJob(ctx, span)
	}
	return nil
}

// startSpan tracks the earliest/latest start_datetime seen across one ingestion batch, used
// to bound the match-queue job the runtime fires after a successful scrape (spec §4.C names
// match-queue; this is the production path that keeps it populated rather than leaving
// candidate generation purely operator-triggered).
type startSpan struct {
	min, max time.Time
	seen     bool
}

func (s *startSpan) observe(t time.Time) {
	if t.IsZero() {
		return
	}
	if !s.seen || t.Before(s.min) {
		s.min = t
	}
	if !s.seen || t.After(s.max) {
		s.max = t
	}
	s.seen = true
}

func (s startSpan) isZero() bool { return !s.seen }

func (rt *Runtime) enqueueMatchJob(ctx context.Context, span startSpan) {
	if rt.publisher == nil {
		return
	}
	payload := queue.MatchPayload{
		From: span.min.Add(-rt.MatchWindow),
		To:   span.max.Add(rt.MatchWindow),
	}
	if _, err := queue.Enqueue(ctx, rt.publisher, queue.TopicMatch, payload); err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to enqueue match job after scrape")
	}
}

// ingestBatches hands result events to the ingestor BatchSize at a time, checking the
// run's cancellation flag between batches (spec §4.G). The final return reports whether a
// cancellation request cut the batch short.
func (rt *Runtime) ingestBatches(ctx context.Context, runID, sourceID uuid.UUID, tz string, events []scraper.RawEvent) (int, []error, startSpan, bool) {
	var errs []error
	var span startSpan
	ingested := 0
	cancelledMid := false
	limiter := rt.limiterForRun(sourceID)

	for i, re := range events {
		if i > 0 && i%rt.BatchSize == 0 {
			if cancelled, _ := rt.registry.PollCancelled(ctx, runID); cancelled {
				cancelledMid = true
				break
			}
		}
		if limiter != nil && i > 0 {
			rt.pace(ctx, limiter)
		}
		result, err := rt.ingestor.IngestOne(ctx, sourceID, runID, tz, re)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ingested++
		if result.RawEvent != nil {
			span.observe(result.RawEvent.StartDatetime)
		}
	}
	return ingested, errs, span, cancelledMid
}

func (rt *Runtime) limiterForRun(sourceID uuid.UUID) *cache.RateLimiter {
	rt.limMu.Lock()
	defer rt.limMu.Unlock()
	return rt.limiters[sourceID]
}

// pace sleeps with jitter until the source's rate limiter allows the next detail-page
// fetch, matching spec §4.G's "sleeps with jitter between detail-page fetches."
func (rt *Runtime) pace(ctx context.Context, limiter *cache.RateLimiter) {
	for !limiter.Allow("detail") {
		jitter := time.Duration(rand.Intn(250)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(100*time.Millisecond + jitter):
		}
	}
}

func (rt *Runtime) teeLogger(ctx context.Context, runID uuid.UUID, sourceName string) zerolog.Logger {
	base := logging.Ctx(ctx).With().Str("run_id", runID.String()).Str("source", sourceName).Logger()
	return base.Hook(logHookFunc(func(level zerolog.Level, msg string) {
		_ = rt.logs.AppendLogLine(context.Background(), runID, streamstore.LogLine{
			TimestampMs: time.Now().UnixMilli(),
			Level:       zerologToSpecLevel(level),
			Msg:         msg,
			Source:      sourceName,
		})
	}))
}

type logHookFunc func(level zerolog.Level, msg string)

func (f logHookFunc) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	f(level, msg)
}

// zerologToSpecLevel maps zerolog's levels onto spec §4.F's numeric scale (10/20/30/40/50).
func zerologToSpecLevel(level zerolog.Level) int {
	switch level {
	case zerolog.DebugLevel:
		return 20
	case zerolog.InfoLevel:
		return 30
	case zerolog.WarnLevel:
		return 40
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return 50
	default:
		return 10
	}
}

// scraperLoggerAdapter satisfies scraper.Logger over a zerolog.Logger, so modules never
// import internal/logging directly.
type scraperLoggerAdapter struct {
	l zerolog.Logger
}

func (a scraperLoggerAdapter) Info(msg string, fields map[string]any)  { a.event(a.l.Info(), msg, fields) }
func (a scraperLoggerAdapter) Warn(msg string, fields map[string]any)  { a.event(a.l.Warn(), msg, fields) }
func (a scraperLoggerAdapter) Error(msg string, fields map[string]any) { a.event(a.l.Error(), msg, fields) }

func (a scraperLoggerAdapter) event(ev *zerolog.Event, msg string, fields map[string]any) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (rt *Runtime) finishWithError(ctx context.Context, runID uuid.UUID, source *models.Source, started time.Time, cause error) error {
	run, err := rt.registry.Finish(ctx, runID, models.RunStatusError, 0, 0, []models.RunError{{Message: cause.Error(), At: time.Now()}})
	if err != nil {
		return fmt.Errorf("finish errored run %s: %w", runID, err)
	}
	rt.recordMetrics(run, started)
	l := logging.Ctx(ctx)
	l.Error().Err(cause).Str("run_id", runID.String()).Str("source", source.Name).Msg("scrape run failed")
	return nil
}

func (rt *Runtime) finishCancelled(ctx context.Context, runID uuid.UUID, source *models.Source, started time.Time, result scraper.RunResult) error {
	run, err := rt.registry.FinishCancelled(ctx, runID, result.PagesCrawled, len(result.Events),
		[]models.RunError{{Message: "cancelled", Code: "cancelled", At: time.Now()}})
	if err != nil {
		return fmt.Errorf("finish cancelled run %s: %w", runID, err)
	}
	rt.recordMetrics(run, started)
	return nil
}

func (rt *Runtime) recordMetrics(run *models.Run, started time.Time) {
	metrics.RunEventsFoundTotal.WithLabelValues(run.SourceID.String(), string(run.Status)).Add(float64(run.EventsFound))
	metrics.RunPagesCrawledTotal.WithLabelValues(run.SourceID.String()).Add(float64(run.PagesCrawled))
	metrics.RunDuration.WithLabelValues(string(run.Status)).Observe(time.Since(started).Seconds())
}
