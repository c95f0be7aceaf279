package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/queue"
)

// Store is the subset of internal/store's *DB the scheduler needs.
type Store interface {
	CreateSchedule(ctx context.Context, s *models.Schedule) (*models.Schedule, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*models.Schedule, error)
	ListSchedules(ctx context.Context, activeOnly bool) ([]*models.Schedule, error)
	UpdateSchedule(ctx context.Context, s *models.Schedule) (*models.Schedule, error)
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
}

// RepeatableRegistry is the subset of internal/streamstore's *Store the scheduler needs, so a
// restarted process can recover its repeat-key bookkeeping.
type RepeatableRegistry interface {
	RegisterRepeatable(ctx context.Context, repeatKey, cronExpr string) error
	RemoveRepeatable(ctx context.Context, repeatKey string) error
}

// Config controls the scheduler's polling loop.
type Config struct {
	// CheckInterval is how often the loop wakes to look for due schedules.
	CheckInterval time.Duration
}

// DefaultConfig polls once every 30 seconds, fine-grained enough that a cron expression down
// to minute resolution never misses a tick.
func DefaultConfig() Config {
	return Config{CheckInterval: 30 * time.Second}
}

type trackedSchedule struct {
	schedule *models.Schedule
	cronSpec cron.Schedule
	nextRun  time.Time
}

// Scheduler runs the cron polling loop and dispatches due schedules onto TopicSchedule,
// where a worker handler fans out by ScheduleType into scrape/instagram-scrape/export jobs.
type Scheduler struct {
	store     Store
	registry  RepeatableRegistry
	publisher message.Publisher
	parser    cron.Parser
	logger    zerolog.Logger
	config    Config

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	tracked  map[uuid.UUID]*trackedSchedule
}

// New builds a Scheduler. publisher is the watermill Publisher used to enqueue
// queue.SchedulePayload messages on queue.TopicSchedule when a schedule comes due.
func New(store Store, registry RepeatableRegistry, publisher message.Publisher, logger zerolog.Logger, config Config) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	return &Scheduler{
		store:     store,
		registry:  registry,
		publisher: publisher,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger.With().Str("component", "scheduler").Logger(),
		config:    config,
		tracked:   make(map[uuid.UUID]*trackedSchedule),
	}
}

// Start loads every active schedule, computes its next run, and begins the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.loadActiveSchedules(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("load active schedules: %w", err)
	}

	s.logger.Info().Dur("check_interval", s.config.CheckInterval).Int("schedules", len(s.tracked)).Msg("starting scheduler")
	go s.run(ctx)
	return nil
}

// Stop halts the polling loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// IsRunning reports whether the polling loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loadActiveSchedules(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, sched := range schedules {
		s.track(sched, now)
	}
	return nil
}

// cronSpec prefixes a cron expression with robfig/cron's CRON_TZ= marker so parsing and
// next-run computation happen in the schedule's IANA zone rather than the server's local
// one. An empty timezone falls through to the parser's default (local time).
func cronSpec(cronExpr, timezone string) string {
	if timezone == "" {
		return cronExpr
	}
	return "CRON_TZ=" + timezone + " " + cronExpr
}

// parseSchedule parses a cron expression in the schedule's timezone.
func (s *Scheduler) parseSchedule(cronExpr, timezone string) (cron.Schedule, error) {
	return s.parser.Parse(cronSpec(cronExpr, timezone))
}

// track parses sched's cron expression in its timezone and registers it in the in-memory
// tracking map. Must be called with s.mu held.
func (s *Scheduler) track(sched *models.Schedule, now time.Time) {
	cronSpec, err := s.parseSchedule(sched.Cron, sched.Timezone)
	if err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sched.ID.String()).Str("cron", sched.Cron).Str("timezone", sched.Timezone).Msg("invalid cron expression, skipping")
		return
	}
	s.tracked[sched.ID] = &trackedSchedule{
		schedule: sched,
		cronSpec: cronSpec,
		nextRun:  cronSpec.Next(now),
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkDue(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) checkDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*trackedSchedule
	for _, t := range s.tracked {
		if !t.nextRun.After(now) {
			due = append(due, t)
			t.nextRun = t.cronSpec.Next(now)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		if _, err := queue.Enqueue(ctx, s.publisher, queue.TopicSchedule, queue.SchedulePayload{ScheduleID: t.schedule.ID}); err != nil {
			s.logger.Error().Err(err).Str("schedule_id", t.schedule.ID.String()).Msg("failed to enqueue due schedule")
			continue
		}
		s.logger.Info().Str("schedule_id", t.schedule.ID.String()).Str("type", string(t.schedule.ScheduleType)).Msg("enqueued scheduled job")
	}
}

// Create persists a new schedule and adds it to the polling map immediately.
func (s *Scheduler) Create(ctx context.Context, scheduleType models.ScheduleType, sourceID *uuid.UUID, cronExpr, timezone string, cfg ScheduleConfig) (*models.Schedule, error) {
	if _, err := s.parseSchedule(cronExpr, timezone); err != nil {
		return nil, apperr.Validation(fmt.Sprintf("invalid cron expression %q in timezone %q: %v", cronExpr, timezone, err))
	}
	cfgJSON, err := EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	repeatKey := uuid.NewString()

	sched := &models.Schedule{
		ScheduleType: scheduleType,
		SourceID:     sourceID,
		Cron:         cronExpr,
		Timezone:     timezone,
		Active:       true,
		RepeatKey:    &repeatKey,
		Config:       cfgJSON,
	}
	out, err := s.store.CreateSchedule(ctx, sched)
	if err != nil {
		return nil, err
	}
	if err := s.registry.RegisterRepeatable(ctx, repeatKey, cronSpec(cronExpr, timezone)); err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", out.ID.String()).Msg("failed to register repeatable key")
	}

	s.mu.Lock()
	s.track(out, time.Now())
	s.mu.Unlock()
	return out, nil
}

// Update changes an existing schedule's cron expression, timezone, active flag, or config.
func (s *Scheduler) Update(ctx context.Context, id uuid.UUID, cronExpr, timezone string, active bool, cfg ScheduleConfig) (*models.Schedule, error) {
	if _, err := s.parseSchedule(cronExpr, timezone); err != nil {
		return nil, apperr.Validation(fmt.Sprintf("invalid cron expression %q in timezone %q: %v", cronExpr, timezone, err))
	}
	existing, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	cfgJSON, err := EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	existing.Cron = cronExpr
	existing.Timezone = timezone
	existing.Active = active
	existing.Config = cfgJSON

	out, err := s.store.UpdateSchedule(ctx, existing)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !active {
		delete(s.tracked, id)
		return out, nil
	}
	s.track(out, time.Now())
	return out, nil
}

// Delete removes a schedule and its repeat-key registration.
func (s *Scheduler) Delete(ctx context.Context, id uuid.UUID) error {
	existing, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	if existing.RepeatKey != nil {
		if err := s.registry.RemoveRepeatable(ctx, *existing.RepeatKey); err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", id.String()).Msg("failed to remove repeatable key")
		}
	}

	s.mu.Lock()
	delete(s.tracked, id)
	s.mu.Unlock()
	return nil
}

// TriggerNow enqueues a schedule's job immediately, independent of its cron timing.
func (s *Scheduler) TriggerNow(ctx context.Context, id uuid.UUID) (string, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return "", err
	}
	return queue.Enqueue(ctx, s.publisher, queue.TopicSchedule, queue.SchedulePayload{ScheduleID: sched.ID})
}

// TriggerAllActive enqueues every currently active schedule's job immediately, for the HTTP
// façade's "run everything now" operator action. A failure to trigger one schedule does not
// stop the rest; all job IDs produced are returned alongside every error encountered.
func (s *Scheduler) TriggerAllActive(ctx context.Context) ([]string, []error) {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		return nil, []error{fmt.Errorf("list active schedules: %w", err)}
	}

	var jobIDs []string
	var errs []error
	for _, sched := range schedules {
		jobID, err := queue.Enqueue(ctx, s.publisher, queue.TopicSchedule, queue.SchedulePayload{ScheduleID: sched.ID})
		if err != nil {
			errs = append(errs, fmt.Errorf("trigger schedule %s: %w", sched.ID, err))
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}
	return jobIDs, errs
}
