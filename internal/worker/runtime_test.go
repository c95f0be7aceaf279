package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscrape/core/internal/cache"
	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/queue"
	"github.com/eventscrape/core/internal/runs"
	"github.com/eventscrape/core/internal/scraper"
	"github.com/eventscrape/core/internal/scraper/fixture"
	"github.com/eventscrape/core/internal/streamstore"
)

// fakeWorkerStore satisfies both runs.Store and worker.Store (ingest.Store + GetSource) over
// in-memory maps, mirroring the fake stores in internal/match and internal/export's own tests.
type fakeWorkerStore struct {
	mu      sync.Mutex
	sources map[uuid.UUID]*models.Source
	runsByID map[uuid.UUID]*models.Run
	raws    map[string]*models.RawEvent
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{
		sources:  make(map[uuid.UUID]*models.Source),
		runsByID: make(map[uuid.UUID]*models.Run),
		raws:     make(map[string]*models.RawEvent),
	}
}

func (f *fakeWorkerStore) GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return nil, errors.New("source not found")
	}
	return s, nil
}

func (f *fakeWorkerStore) CreateRun(ctx context.Context, r *models.Run) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	f.runsByID[r.ID] = r
	return r, nil
}

func (f *fakeWorkerStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runsByID[id]
	if !ok {
		return nil, errors.New("run not found")
	}
	return r, nil
}

func (f *fakeWorkerStore) ListChildRuns(ctx context.Context, parentID uuid.UUID) ([]*models.Run, error) {
	return nil, nil
}

func (f *fakeWorkerStore) ListRuns(ctx context.Context, sourceID uuid.UUID, limit int) ([]*models.Run, error) {
	return nil, nil
}

func (f *fakeWorkerStore) TransitionRun(ctx context.Context, id uuid.UUID, to models.RunStatus, pagesCrawled, eventsFound *int, errs []models.RunError) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runsByID[id]
	if !ok {
		return nil, errors.New("run not found")
	}
	r.Status = to
	if pagesCrawled != nil {
		r.PagesCrawled = *pagesCrawled
	}
	if eventsFound != nil {
		r.EventsFound = *eventsFound
	}
	if errs != nil {
		r.Errors = errs
	}
	return r, nil
}

func (f *fakeWorkerStore) MarkRunCancelled(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runsByID[id]; ok {
		r.Metadata = []byte(`{"cancelled":true}`)
	}
	return nil
}

func (f *fakeWorkerStore) TouchSourceLastChecked(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (f *fakeWorkerStore) UpsertSeries(ctx context.Context, s *models.EventSeries) (*models.EventSeries, bool, error) {
	return s, true, nil
}

func (f *fakeWorkerStore) UpsertOccurrence(ctx context.Context, o *models.EventOccurrence) (*models.EventOccurrence, bool, error) {
	return o, true, nil
}

func (f *fakeWorkerStore) UpsertRawEvent(ctx context.Context, e *models.RawEvent) (*models.RawEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := e.SourceID.String() + "|" + e.URL
	if existing, ok := f.raws[key]; ok {
		e.ID = existing.ID
		f.raws[key] = e
		return e, false, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.raws[key] = e
	return e, true, nil
}

// fakeCancelFlags satisfies runs.CancelFlags without touching Redis.
type fakeCancelFlags struct {
	mu        sync.Mutex
	cancelled map[uuid.UUID]bool
}

func newFakeCancelFlags() *fakeCancelFlags {
	return &fakeCancelFlags{cancelled: make(map[uuid.UUID]bool)}
}

func (f *fakeCancelFlags) SetCancelFlag(ctx context.Context, runID uuid.UUID, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[runID] = true
	return nil
}

func (f *fakeCancelFlags) HasCancelFlag(ctx context.Context, runID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[runID], nil
}

func (f *fakeCancelFlags) ClearCancelFlag(ctx context.Context, runID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cancelled, runID)
	return nil
}

// fakeLogs discards teed log lines; only existence of the call matters for these tests.
type fakeLogs struct{}

func (fakeLogs) AppendLogLine(ctx context.Context, runID uuid.UUID, line streamstore.LogLine) error {
	return nil
}

func newTestRuntime(t *testing.T, store *fakeWorkerStore, flags *fakeCancelFlags) (*Runtime, *runs.Registry) {
	t.Helper()
	registry := runs.New(store, flags)
	modules := scraper.NewRegistry()
	seen := cache.NewSeenCache(1000, time.Hour)
	rt := New(store, registry, modules, seen, nil, fakeLogs{})
	return rt, registry
}

func newTestSource(moduleKey string) *models.Source {
	return &models.Source{
		ID:              uuid.New(),
		Name:            "Test Venue",
		ModuleKey:       moduleKey,
		Active:          true,
		DefaultTimezone: "UTC",
		RateLimitPerMin: 600,
	}
}

func TestRunJob_SuccessfulScrapeIngestsAndFinishes(t *testing.T) {
	store := newFakeWorkerStore()
	flags := newFakeCancelFlags()
	rt, registry := newTestRuntime(t, store, flags)

	source := newTestSource("fixture-success")
	store.sources[source.ID] = source
	rt.modules.Register(fixture.New(source.ModuleKey, []scraper.RawEvent{
		fixture.SingleEvent("evt-1", "Jazz Night", "2026-08-01T20:00:00Z"),
	}))

	run, err := registry.Start(context.Background(), source.ID, nil)
	require.NoError(t, err)

	require.NoError(t, rt.RunJob(context.Background(), run.ID, source.ID))

	finished, err := registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, finished.Status)
	assert.Equal(t, 1, finished.EventsFound)
}

func TestRunJob_InactiveSourceSkipsWithoutError(t *testing.T) {
	store := newFakeWorkerStore()
	flags := newFakeCancelFlags()
	rt, registry := newTestRuntime(t, store, flags)

	source := newTestSource("fixture-inactive")
	source.Active = false
	store.sources[source.ID] = source

	run, err := registry.Start(context.Background(), source.ID, nil)
	require.NoError(t, err)

	require.NoError(t, rt.RunJob(context.Background(), run.ID, source.ID))

	finished, err := registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, finished.Status, "inactive source should never transition the run")
}

func TestRunJob_MissingModuleFinishesWithError(t *testing.T) {
	store := newFakeWorkerStore()
	flags := newFakeCancelFlags()
	rt, registry := newTestRuntime(t, store, flags)

	source := newTestSource("unregistered-module")
	store.sources[source.ID] = source

	run, err := registry.Start(context.Background(), source.ID, nil)
	require.NoError(t, err)

	require.NoError(t, rt.RunJob(context.Background(), run.ID, source.ID))

	finished, err := registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, finished.Status)
	require.Len(t, finished.Errors, 1)
}

func TestRunJob_ModuleErrorWithNoEventsFinishesWithError(t *testing.T) {
	store := newFakeWorkerStore()
	flags := newFakeCancelFlags()
	rt, registry := newTestRuntime(t, store, flags)

	source := newTestSource("fixture-failing")
	store.sources[source.ID] = source
	rt.modules.Register(&fixture.Module{ModuleKey: source.ModuleKey, Err: errors.New("boom")})

	run, err := registry.Start(context.Background(), source.ID, nil)
	require.NoError(t, err)

	require.NoError(t, rt.RunJob(context.Background(), run.ID, source.ID))

	finished, err := registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, finished.Status)
}

func TestRunJob_CancelledBeforeIngestionFinishesPartial(t *testing.T) {
	store := newFakeWorkerStore()
	flags := newFakeCancelFlags()
	rt, registry := newTestRuntime(t, store, flags)

	source := newTestSource("fixture-cancelled")
	store.sources[source.ID] = source
	rt.modules.Register(fixture.New(source.ModuleKey, []scraper.RawEvent{
		fixture.SingleEvent("evt-1", "Jazz Night", "2026-08-01T20:00:00Z"),
	}))

	run, err := registry.Start(context.Background(), source.ID, nil)
	require.NoError(t, err)

	require.NoError(t, registry.Cancel(context.Background(), run.ID))
	require.NoError(t, rt.RunJob(context.Background(), run.ID, source.ID))

	finished, err := registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPartial, finished.Status)
}

func TestRunJob_SuccessfulIngestionEnqueuesMatchJob(t *testing.T) {
	store := newFakeWorkerStore()
	flags := newFakeCancelFlags()
	registry := runs.New(store, flags)
	modules := scraper.NewRegistry()
	seen := cache.NewSeenCache(1000, time.Hour)
	rt := New(store, registry, modules, seen, nil, fakeLogs{})

	var published []*message.Message
	var mu sync.Mutex
	rt = rt.WithMatchPublisher(publisherFunc(func(topic string, messages ...*message.Message) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, messages...)
		return nil
	}))

	source := newTestSource("fixture-match")
	store.sources[source.ID] = source
	modules.Register(fixture.New(source.ModuleKey, []scraper.RawEvent{
		fixture.SingleEvent("evt-1", "Jazz Night", "2026-08-01T20:00:00Z"),
	}))

	run, err := registry.Start(context.Background(), source.ID, nil)
	require.NoError(t, err)
	require.NoError(t, rt.RunJob(context.Background(), run.ID, source.ID))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
	var payload queue.MatchPayload
	require.NoError(t, json.Unmarshal(published[0].Payload, &payload))
	assert.True(t, payload.To.After(payload.From))
}

// publisherFunc adapts a plain function to watermill's message.Publisher for tests that only
// need to observe what was published, not route it anywhere real.
type publisherFunc func(topic string, messages ...*message.Message) error

func (f publisherFunc) Publish(topic string, messages ...*message.Message) error {
	return f(topic, messages...)
}

func (f publisherFunc) Close() error { return nil }
