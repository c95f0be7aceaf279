package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/queue"
)

type fakeRunStore struct {
	mu   sync.Mutex
	runs []*models.Run
}

func (f *fakeRunStore) CreateRun(ctx context.Context, r *models.Run) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = models.RunStatusQueued
	}
	f.runs = append(f.runs, r)
	return r, nil
}

type fakeSourceStore struct {
	sources map[uuid.UUID]*models.Source
}

func newFakeSourceStore(sources ...*models.Source) *fakeSourceStore {
	f := &fakeSourceStore{sources: make(map[uuid.UUID]*models.Source)}
	for _, s := range sources {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		f.sources[s.ID] = s
	}
	return f
}

func (f *fakeSourceStore) GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	s, ok := f.sources[id]
	if !ok {
		return nil, apperr.NotFound("source", id)
	}
	return s, nil
}

func (f *fakeSourceStore) ListSources(ctx context.Context, activeOnly bool) ([]*models.Source, error) {
	var out []*models.Source
	for _, s := range f.sources {
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func scheduleMsg(t *testing.T, scheduleID uuid.UUID) *message.Message {
	t.Helper()
	body, err := json.Marshal(queue.SchedulePayload{ScheduleID: scheduleID})
	require.NoError(t, err)
	return message.NewMessage(uuid.NewString(), body)
}

func storedSchedule(t *testing.T, store *fakeScheduleStore, scheduleType models.ScheduleType, cfg ScheduleConfig) *models.Schedule {
	t.Helper()
	cfgJSON, err := EncodeConfig(cfg)
	require.NoError(t, err)
	sched, err := store.CreateSchedule(context.Background(), &models.Schedule{
		ScheduleType: scheduleType,
		Cron:         "0 6 * * *",
		Timezone:     "UTC",
		Active:       true,
		Config:       cfgJSON,
	})
	require.NoError(t, err)
	return sched
}

func TestDispatch_ScrapeCreatesRunAndEnqueues(t *testing.T) {
	source := &models.Source{ID: uuid.New(), Active: true, SourceType: models.SourceTypeWebsite}
	schedules := newFakeScheduleStore()
	runs := &fakeRunStore{}
	pub := newCapturingPublisher()
	d := NewDispatcher(schedules, runs, newFakeSourceStore(source), pub)

	sched := storedSchedule(t, schedules, models.ScheduleScrape, ScrapeCfg{SourceID: source.ID})

	require.NoError(t, d.Handle(scheduleMsg(t, sched.ID)))

	require.Len(t, runs.runs, 1)
	assert.Equal(t, models.RunStatusQueued, runs.runs[0].Status)

	msgs := pub.published(queue.TopicScrape)
	require.Len(t, msgs, 1)
	var payload queue.ScrapePayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, runs.runs[0].ID, payload.RunID)
	assert.Equal(t, source.ID, payload.SourceID)
}

func TestDispatch_InactiveSourceIsNoop(t *testing.T) {
	source := &models.Source{ID: uuid.New(), Active: false}
	schedules := newFakeScheduleStore()
	runs := &fakeRunStore{}
	pub := newCapturingPublisher()
	d := NewDispatcher(schedules, runs, newFakeSourceStore(source), pub)

	sched := storedSchedule(t, schedules, models.ScheduleScrape, ScrapeCfg{SourceID: source.ID})

	require.NoError(t, d.Handle(scheduleMsg(t, sched.ID)))
	assert.Empty(t, runs.runs)
	assert.Empty(t, pub.published(queue.TopicScrape))
}

func TestDispatch_DeletedSourceIsNoop(t *testing.T) {
	schedules := newFakeScheduleStore()
	runs := &fakeRunStore{}
	pub := newCapturingPublisher()
	d := NewDispatcher(schedules, runs, newFakeSourceStore(), pub)

	sched := storedSchedule(t, schedules, models.ScheduleScrape, ScrapeCfg{SourceID: uuid.New()})

	require.NoError(t, d.Handle(scheduleMsg(t, sched.ID)), "a schedule whose source was deleted fires as a clean no-op")
	assert.Empty(t, runs.runs)
}

func TestDispatch_InactiveScheduleIsNoop(t *testing.T) {
	source := &models.Source{ID: uuid.New(), Active: true}
	schedules := newFakeScheduleStore()
	runs := &fakeRunStore{}
	pub := newCapturingPublisher()
	d := NewDispatcher(schedules, runs, newFakeSourceStore(source), pub)

	sched := storedSchedule(t, schedules, models.ScheduleScrape, ScrapeCfg{SourceID: source.ID})
	sched.Active = false

	require.NoError(t, d.Handle(scheduleMsg(t, sched.ID)))
	assert.Empty(t, runs.runs)
}

func TestDispatch_InstagramBatchCreatesParentAndChildren(t *testing.T) {
	a := &models.Source{ID: uuid.New(), Active: true, SourceType: models.SourceTypeInstagram}
	b := &models.Source{ID: uuid.New(), Active: true, SourceType: models.SourceTypeInstagram}
	schedules := newFakeScheduleStore()
	runs := &fakeRunStore{}
	pub := newCapturingPublisher()
	d := NewDispatcher(schedules, runs, newFakeSourceStore(a, b), pub)

	sched := storedSchedule(t, schedules, models.ScheduleInstagramScrape, InstagramScrapeCfg{
		Scope:     ScopeCustom,
		SourceIDs: []uuid.UUID{a.ID, b.ID},
	})

	require.NoError(t, d.Handle(scheduleMsg(t, sched.ID)))

	require.Len(t, runs.runs, 3, "one parent plus two children")
	parent := runs.runs[0]
	assert.Nil(t, parent.ParentRunID)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(parent.Metadata, &meta))
	assert.Equal(t, true, meta["batch"])
	assert.Equal(t, float64(2), meta["accounts"])

	for _, child := range runs.runs[1:] {
		require.NotNil(t, child.ParentRunID)
		assert.Equal(t, parent.ID, *child.ParentRunID)
	}

	msgs := pub.published(queue.TopicInstagramScrape)
	require.Len(t, msgs, 2)
	seen := map[uuid.UUID]bool{}
	for _, m := range msgs {
		var payload queue.ScrapePayload
		require.NoError(t, json.Unmarshal(m.Payload, &payload))
		seen[payload.SourceID] = true
	}
	assert.True(t, seen[a.ID])
	assert.True(t, seen[b.ID])
}

func TestDispatch_InstagramScopeAllActive(t *testing.T) {
	active := &models.Source{ID: uuid.New(), Active: true, SourceType: models.SourceTypeInstagram}
	inactive := &models.Source{ID: uuid.New(), Active: false, SourceType: models.SourceTypeInstagram}
	website := &models.Source{ID: uuid.New(), Active: true, SourceType: models.SourceTypeWebsite}
	schedules := newFakeScheduleStore()
	runs := &fakeRunStore{}
	pub := newCapturingPublisher()
	d := NewDispatcher(schedules, runs, newFakeSourceStore(active, inactive, website), pub)

	sched := storedSchedule(t, schedules, models.ScheduleInstagramScrape, InstagramScrapeCfg{Scope: ScopeAllActive})

	require.NoError(t, d.Handle(scheduleMsg(t, sched.ID)))

	msgs := pub.published(queue.TopicInstagramScrape)
	require.Len(t, msgs, 1, "only the active Instagram source is selected")
	var payload queue.ScrapePayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, active.ID, payload.SourceID)
}

func TestDispatch_InstagramEmptyScopeIsNoop(t *testing.T) {
	schedules := newFakeScheduleStore()
	runs := &fakeRunStore{}
	pub := newCapturingPublisher()
	d := NewDispatcher(schedules, runs, newFakeSourceStore(), pub)

	sched := storedSchedule(t, schedules, models.ScheduleInstagramScrape, InstagramScrapeCfg{Scope: ScopeAllActive})

	require.NoError(t, d.Handle(scheduleMsg(t, sched.ID)))
	assert.Empty(t, runs.runs, "no parent run when the scope selects nothing")
}

func TestDispatch_WordPressExportEnqueuesPayload(t *testing.T) {
	schedules := newFakeScheduleStore()
	pub := newCapturingPublisher()
	d := NewDispatcher(schedules, &fakeRunStore{}, newFakeSourceStore(), pub)

	settingsID := uuid.New()
	sched := storedSchedule(t, schedules, models.ScheduleWordPressExport, WordPressExportCfg{
		WordPressSettingsID: settingsID,
		StatusFilter:        models.CanonicalReady,
		WindowDays:          14,
	})

	require.NoError(t, d.Handle(scheduleMsg(t, sched.ID)))

	msgs := pub.published(queue.TopicExport)
	require.Len(t, msgs, 1)
	var payload queue.ExportPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, sched.ID, payload.ScheduleID)
	assert.Equal(t, settingsID, payload.WordPressSettingsID)
	assert.Equal(t, 14, payload.WindowDays)
}

func TestDecodeConfig_RoundTrip(t *testing.T) {
	cases := []struct {
		name         string
		scheduleType models.ScheduleType
		cfg          ScheduleConfig
	}{
		{"scrape", models.ScheduleScrape, ScrapeCfg{SourceID: uuid.New()}},
		{"instagram", models.ScheduleInstagramScrape, InstagramScrapeCfg{Scope: ScopeCustom, SourceIDs: []uuid.UUID{uuid.New()}}},
		{"wordpress", models.ScheduleWordPressExport, WordPressExportCfg{WordPressSettingsID: uuid.New(), WindowDays: 7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := EncodeConfig(tc.cfg)
			require.NoError(t, err)
			decoded, err := DecodeConfig(tc.scheduleType, raw)
			require.NoError(t, err)
			assert.Equal(t, tc.cfg, decoded)
			assert.Equal(t, tc.scheduleType, decoded.Type())
		})
	}
}

func TestDecodeConfig_UnknownTypeRejected(t *testing.T) {
	_, err := DecodeConfig(models.ScheduleType("bogus"), json.RawMessage(`{}`))
	require.Error(t, err)
}
