package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/queue"
)

type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*models.Schedule
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: make(map[uuid.UUID]*models.Schedule)}
}

func (f *fakeScheduleStore) CreateSchedule(ctx context.Context, s *models.Schedule) (*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.schedules[s.ID] = s
	return s, nil
}

func (f *fakeScheduleStore) GetSchedule(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, apperr.NotFound("schedule", id)
	}
	return s, nil
}

func (f *fakeScheduleStore) ListSchedules(ctx context.Context, activeOnly bool) ([]*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Schedule
	for _, s := range f.schedules {
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeScheduleStore) UpdateSchedule(ctx context.Context, s *models.Schedule) (*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[s.ID]; !ok {
		return nil, apperr.NotFound("schedule", s.ID)
	}
	f.schedules[s.ID] = s
	return s, nil
}

func (f *fakeScheduleStore) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return apperr.NotFound("schedule", id)
	}
	delete(f.schedules, id)
	return nil
}

type fakeRepeatables struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeRepeatables() *fakeRepeatables {
	return &fakeRepeatables{keys: make(map[string]string)}
}

func (f *fakeRepeatables) RegisterRepeatable(ctx context.Context, repeatKey, cronExpr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[repeatKey] = cronExpr
	return nil
}

func (f *fakeRepeatables) RemoveRepeatable(ctx context.Context, repeatKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, repeatKey)
	return nil
}

type capturingPublisher struct {
	mu       sync.Mutex
	messages map[string][]*message.Message
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{messages: make(map[string][]*message.Message)}
}

func (p *capturingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[topic] = append(p.messages[topic], messages...)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[topic]
}

func newTestScheduler(store *fakeScheduleStore, registry *fakeRepeatables, pub *capturingPublisher) *Scheduler {
	return New(store, registry, pub, zerolog.Nop(), Config{CheckInterval: 10 * time.Millisecond})
}

func TestCreate_RejectsInvalidCron(t *testing.T) {
	s := newTestScheduler(newFakeScheduleStore(), newFakeRepeatables(), newCapturingPublisher())

	_, err := s.Create(context.Background(), models.ScheduleScrape, nil, "not a cron", "UTC", ScrapeCfg{SourceID: uuid.New()})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreate_RegistersRepeatKeyAndTracks(t *testing.T) {
	store := newFakeScheduleStore()
	registry := newFakeRepeatables()
	s := newTestScheduler(store, registry, newCapturingPublisher())

	out, err := s.Create(context.Background(), models.ScheduleScrape, nil, "0 6 * * *", "America/Vancouver", ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)
	require.NotNil(t, out.RepeatKey)
	assert.NotEmpty(t, *out.RepeatKey)

	registry.mu.Lock()
	assert.Equal(t, "CRON_TZ=America/Vancouver 0 6 * * *", registry.keys[*out.RepeatKey], "registry records both cron and tz")
	registry.mu.Unlock()

	s.mu.Lock()
	tracked, ok := s.tracked[out.ID]
	s.mu.Unlock()
	require.True(t, ok)
	assert.True(t, tracked.nextRun.After(time.Now()))
}

func TestCreate_NextRunComputedInScheduleTimezone(t *testing.T) {
	store := newFakeScheduleStore()
	s := newTestScheduler(store, newFakeRepeatables(), newCapturingPublisher())

	out, err := s.Create(context.Background(), models.ScheduleScrape, nil, "0 6 * * *", "America/Vancouver", ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)

	loc, err := time.LoadLocation("America/Vancouver")
	require.NoError(t, err)

	s.mu.Lock()
	next := s.tracked[out.ID].nextRun.In(loc)
	s.mu.Unlock()
	assert.Equal(t, 6, next.Hour(), "next fire must be 06:00 in the schedule's zone, not the server's")
	assert.Equal(t, 0, next.Minute())
}

func TestCreate_RejectsUnknownTimezone(t *testing.T) {
	s := newTestScheduler(newFakeScheduleStore(), newFakeRepeatables(), newCapturingPublisher())

	_, err := s.Create(context.Background(), models.ScheduleScrape, nil, "0 6 * * *", "Not/AZone", ScrapeCfg{SourceID: uuid.New()})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdate_DeactivateStopsTracking(t *testing.T) {
	store := newFakeScheduleStore()
	s := newTestScheduler(store, newFakeRepeatables(), newCapturingPublisher())

	out, err := s.Create(context.Background(), models.ScheduleScrape, nil, "*/5 * * * *", "UTC", ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)

	updated, err := s.Update(context.Background(), out.ID, "*/5 * * * *", "UTC", false, ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)
	assert.False(t, updated.Active)

	s.mu.Lock()
	_, ok := s.tracked[out.ID]
	s.mu.Unlock()
	assert.False(t, ok, "inactive schedule must leave the polling map")
}

func TestDelete_RemovesRepeatKey(t *testing.T) {
	store := newFakeScheduleStore()
	registry := newFakeRepeatables()
	s := newTestScheduler(store, registry, newCapturingPublisher())

	out, err := s.Create(context.Background(), models.ScheduleScrape, nil, "0 6 * * *", "UTC", ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), out.ID))

	registry.mu.Lock()
	_, ok := registry.keys[*out.RepeatKey]
	registry.mu.Unlock()
	assert.False(t, ok)

	_, err = store.GetSchedule(context.Background(), out.ID)
	assert.Error(t, err)
}

func TestTriggerNow_PublishesSchedulePayload(t *testing.T) {
	store := newFakeScheduleStore()
	pub := newCapturingPublisher()
	s := newTestScheduler(store, newFakeRepeatables(), pub)

	out, err := s.Create(context.Background(), models.ScheduleScrape, nil, "0 6 * * *", "UTC", ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)

	jobID, err := s.TriggerNow(context.Background(), out.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	msgs := pub.published(queue.TopicSchedule)
	require.Len(t, msgs, 1)
	var payload queue.SchedulePayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, out.ID, payload.ScheduleID)
}

func TestTriggerAllActive_SkipsInactive(t *testing.T) {
	store := newFakeScheduleStore()
	pub := newCapturingPublisher()
	s := newTestScheduler(store, newFakeRepeatables(), pub)

	active, err := s.Create(context.Background(), models.ScheduleScrape, nil, "0 6 * * *", "UTC", ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)
	inactive, err := s.Create(context.Background(), models.ScheduleScrape, nil, "0 7 * * *", "UTC", ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)
	_, err = s.Update(context.Background(), inactive.ID, "0 7 * * *", "UTC", false, ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)

	jobIDs, errs := s.TriggerAllActive(context.Background())
	assert.Empty(t, errs)
	require.Len(t, jobIDs, 1)

	msgs := pub.published(queue.TopicSchedule)
	require.Len(t, msgs, 1)
	var payload queue.SchedulePayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, active.ID, payload.ScheduleID)
}

func TestCheckDue_FiresAndRearms(t *testing.T) {
	store := newFakeScheduleStore()
	pub := newCapturingPublisher()
	s := newTestScheduler(store, newFakeRepeatables(), pub)

	out, err := s.Create(context.Background(), models.ScheduleScrape, nil, "* * * * *", "UTC", ScrapeCfg{SourceID: uuid.New()})
	require.NoError(t, err)

	// Force the schedule due, then fire the check once.
	s.mu.Lock()
	s.tracked[out.ID].nextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.checkDue(context.Background())

	require.Len(t, pub.published(queue.TopicSchedule), 1)

	s.mu.Lock()
	next := s.tracked[out.ID].nextRun
	s.mu.Unlock()
	assert.True(t, next.After(time.Now()), "fired schedule must re-arm to its next cron tick")

	// A second check before the next tick fires nothing.
	s.checkDue(context.Background())
	assert.Len(t, pub.published(queue.TopicSchedule), 1)
}

func TestStartStop(t *testing.T) {
	store := newFakeScheduleStore()
	s := newTestScheduler(store, newFakeRepeatables(), newCapturingPublisher())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	require.Error(t, s.Start(context.Background()), "double start must be rejected")

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	require.NoError(t, s.Stop(), "stop is idempotent")
}
