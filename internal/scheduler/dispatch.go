package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/queue"
)

// RunStore is the subset of internal/store's *DB needed to start run rows before dispatching
// scrape jobs, mirroring the shape internal/worker consumes run rows with.
type RunStore interface {
	CreateRun(ctx context.Context, r *models.Run) (*models.Run, error)
}

// SourceStore resolves the sources a fired schedule targets: one source for a plain scrape,
// or an active/inactive slice of the Instagram sources for a batch.
type SourceStore interface {
	GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error)
	ListSources(ctx context.Context, activeOnly bool) ([]*models.Source, error)
}

// Dispatcher decodes a fired schedule's config and fans it out into the queue the matching
// worker handler consumes (scrape-queue, instagram-scrape-queue, or the export queue for
// wordpress_export). This is the "worker handler dispatch for scrape / instagram_scrape /
// wordpress_export" named in spec §4.D.
type Dispatcher struct {
	schedules Store
	runs      RunStore
	sources   SourceStore
	publisher message.Publisher
}

// NewDispatcher builds a Dispatcher bound to the schedule/run/source stores and the job
// publisher.
func NewDispatcher(schedules Store, runs RunStore, sources SourceStore, publisher message.Publisher) *Dispatcher {
	return &Dispatcher{schedules: schedules, runs: runs, sources: sources, publisher: publisher}
}

// Handle is a watermill message.NoPublishHandlerFunc consuming queue.TopicSchedule.
func (d *Dispatcher) Handle(msg *message.Message) error {
	ctx := msg.Context()

	var payload queue.SchedulePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode schedule payload: %w", err)
	}

	sched, err := d.schedules.GetSchedule(ctx, payload.ScheduleID)
	if err != nil {
		return fmt.Errorf("load schedule %s: %w", payload.ScheduleID, err)
	}
	if !sched.Active {
		return nil
	}

	cfg, err := DecodeConfig(sched.ScheduleType, sched.Config)
	if err != nil {
		return fmt.Errorf("decode schedule config: %w", err)
	}

	switch c := cfg.(type) {
	case ScrapeCfg:
		return d.dispatchScrape(ctx, c.SourceID)
	case InstagramScrapeCfg:
		return d.dispatchInstagramBatch(ctx, sched.ID, c)
	case WordPressExportCfg:
		return d.dispatchExport(ctx, sched.ID, c)
	default:
		return fmt.Errorf("unhandled schedule config type %T", cfg)
	}
}

// dispatchScrape fires one run for one source. An inactive (or deleted) source makes the
// fire a no-op rather than an error, so a stale schedule never poisons the queue.
func (d *Dispatcher) dispatchScrape(ctx context.Context, sourceID uuid.UUID) error {
	source, err := d.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil
	}
	if !source.Active {
		return nil
	}
	run, err := d.runs.CreateRun(ctx, &models.Run{SourceID: sourceID, StartedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("create run for source %s: %w", sourceID, err)
	}
	_, err = queue.Enqueue(ctx, d.publisher, queue.TopicScrape, queue.ScrapePayload{RunID: run.ID, SourceID: sourceID})
	return err
}

// resolveInstagramScope expands a batch config into the concrete Instagram sources it covers.
func (d *Dispatcher) resolveInstagramScope(ctx context.Context, cfg InstagramScrapeCfg) ([]*models.Source, error) {
	switch cfg.Scope {
	case ScopeAllActive, ScopeAllInactive:
		wantActive := cfg.Scope == ScopeAllActive
		all, err := d.sources.ListSources(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		var out []*models.Source
		for _, s := range all {
			if s.SourceType == models.SourceTypeInstagram && s.Active == wantActive {
				out = append(out, s)
			}
		}
		return out, nil
	default: // custom, or a config written before scope selection existed
		out := make([]*models.Source, 0, len(cfg.SourceIDs))
		for _, id := range cfg.SourceIDs {
			s, err := d.sources.GetSource(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	}
}

// dispatchInstagramBatch creates the parent batch run plus one child run per selected
// account, then enqueues one instagram-scrape job per child (spec §4.D/§4.E). The parent's
// aggregated status/counters are refreshed by the run registry every time a child finishes.
func (d *Dispatcher) dispatchInstagramBatch(ctx context.Context, scheduleID uuid.UUID, cfg InstagramScrapeCfg) error {
	selected, err := d.resolveInstagramScope(ctx, cfg)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}

	meta, err := json.Marshal(map[string]any{
		"batch":       true,
		"schedule_id": scheduleID,
		"scope":       string(cfg.Scope),
		"accounts":    len(selected),
	})
	if err != nil {
		return fmt.Errorf("encode batch metadata: %w", err)
	}
	parent, err := d.runs.CreateRun(ctx, &models.Run{
		SourceID:  selected[0].ID,
		StartedAt: time.Now(),
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("create parent batch run: %w", err)
	}

	for _, source := range selected {
		child, err := d.runs.CreateRun(ctx, &models.Run{
			SourceID:    source.ID,
			ParentRunID: &parent.ID,
			StartedAt:   time.Now(),
		})
		if err != nil {
			return fmt.Errorf("create child run for source %s: %w", source.ID, err)
		}
		if _, err := queue.Enqueue(ctx, d.publisher, queue.TopicInstagramScrape, queue.ScrapePayload{RunID: child.ID, SourceID: source.ID}); err != nil {
			return fmt.Errorf("enqueue instagram scrape for source %s: %w", source.ID, err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchExport(ctx context.Context, scheduleID uuid.UUID, cfg WordPressExportCfg) error {
	_, err := queue.Enqueue(ctx, d.publisher, queue.TopicExport, queue.ExportPayload{
		ScheduleID:          scheduleID,
		WordPressSettingsID: cfg.WordPressSettingsID,
		StatusFilter:        string(cfg.StatusFilter),
		WindowDays:          cfg.WindowDays,
	})
	return err
}
