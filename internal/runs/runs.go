// Package runs is the Run Registry component (spec §4.E): state-machine enforcement on top
// of internal/store's run rows, parent/child aggregation for Instagram batches, and
// cancellation requests backed by the stream store's cancel flags.
package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
)

// Store is the subset of internal/store's *DB the registry needs.
type Store interface {
	CreateRun(ctx context.Context, r *models.Run) (*models.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	ListChildRuns(ctx context.Context, parentID uuid.UUID) ([]*models.Run, error)
	ListRuns(ctx context.Context, sourceID uuid.UUID, limit int) ([]*models.Run, error)
	TransitionRun(ctx context.Context, id uuid.UUID, to models.RunStatus, pagesCrawled, eventsFound *int, errs []models.RunError) (*models.Run, error)
	MarkRunCancelled(ctx context.Context, id uuid.UUID) error
	TouchSourceLastChecked(ctx context.Context, id uuid.UUID) error
}

// CancelFlags is the subset of internal/streamstore's *Store the registry needs.
type CancelFlags interface {
	SetCancelFlag(ctx context.Context, runID uuid.UUID, ttl time.Duration) error
	HasCancelFlag(ctx context.Context, runID uuid.UUID) (bool, error)
	ClearCancelFlag(ctx context.Context, runID uuid.UUID) error
}

// cancelFlagTTL bounds how long an unconsumed cancel request survives, in case a run
// finishes (or the worker that would poll it dies) before ever checking the flag.
const cancelFlagTTL = 24 * time.Hour

// Registry is the Run Registry: a thin, state-machine-enforcing wrapper over the store plus
// cancellation plumbing through the stream store.
type Registry struct {
	store Store
	flags CancelFlags
}

// New builds a Registry.
func New(store Store, flags CancelFlags) *Registry {
	return &Registry{store: store, flags: flags}
}

// Start creates a new run in the queued state for sourceID, optionally nested under a parent
// batch run.
func (r *Registry) Start(ctx context.Context, sourceID uuid.UUID, parentRunID *uuid.UUID) (*models.Run, error) {
	run := &models.Run{
		SourceID:    sourceID,
		ParentRunID: parentRunID,
		StartedAt:   time.Now(),
		Status:      models.RunStatusQueued,
	}
	return r.store.CreateRun(ctx, run)
}

// Get fetches one run by ID.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	return r.store.GetRun(ctx, id)
}

// List returns recent runs, optionally filtered to a source.
func (r *Registry) List(ctx context.Context, sourceID uuid.UUID, limit int) ([]*models.Run, error) {
	return r.store.ListRuns(ctx, sourceID, limit)
}

// MarkRunning transitions a queued run to running.
func (r *Registry) MarkRunning(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	return r.store.TransitionRun(ctx, id, models.RunStatusRunning, nil, nil, nil)
}

// Progress updates pages_crawled/events_found on a running run without changing its status.
func (r *Registry) Progress(ctx context.Context, id uuid.UUID, pagesCrawled, eventsFound int) (*models.Run, error) {
	run, err := r.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.store.TransitionRun(ctx, id, run.Status, &pagesCrawled, &eventsFound, nil)
}

// Finish transitions a run to a terminal status (success/partial/error), recording any
// structured errors collected along the way, and clears its cancellation flag.
func (r *Registry) Finish(ctx context.Context, id uuid.UUID, status models.RunStatus, pagesCrawled, eventsFound int, errs []models.RunError) (*models.Run, error) {
	if status != models.RunStatusSuccess && status != models.RunStatusPartial && status != models.RunStatusError {
		return nil, apperr.Validation(fmt.Sprintf("finish requires a terminal status, got %q", status))
	}
	run, err := r.store.TransitionRun(ctx, id, status, &pagesCrawled, &eventsFound, errs)
	if err != nil {
		return nil, err
	}
	if err := r.flags.ClearCancelFlag(ctx, id); err != nil {
		return nil, fmt.Errorf("clear cancel flag for run %s: %w", id, err)
	}
	if err := r.store.TouchSourceLastChecked(ctx, run.SourceID); err != nil {
		return nil, fmt.Errorf("touch source last_checked: %w", err)
	}
	if run.ParentRunID != nil {
		if err := r.syncParent(ctx, *run.ParentRunID); err != nil {
			return nil, fmt.Errorf("sync parent run %s: %w", *run.ParentRunID, err)
		}
	}
	return run, nil
}

// syncParent recomputes a batch parent's aggregated status and summed counters from its
// children and persists the result, re-run every time a child transitions (spec §4.E).
func (r *Registry) syncParent(ctx context.Context, parentID uuid.UUID) error {
	batch, err := r.GetBatchStatus(ctx, parentID)
	if err != nil {
		return err
	}
	if batch.Parent.IsTerminal() {
		return nil
	}
	status := batch.AggregatedStatus()
	pagesCrawled, eventsFound := 0, 0
	for _, c := range batch.Children {
		pagesCrawled += c.PagesCrawled
		eventsFound += c.EventsFound
	}
	_, err = r.store.TransitionRun(ctx, parentID, status, &pagesCrawled, &eventsFound, nil)
	return err
}

// FinishCancelled finalizes a cooperatively-cancelled run: terminal status partial with
// cancelled=true recorded in its metadata (spec §4.E's running → partial cancel edge).
func (r *Registry) FinishCancelled(ctx context.Context, id uuid.UUID, pagesCrawled, eventsFound int, errs []models.RunError) (*models.Run, error) {
	if _, err := r.Finish(ctx, id, models.RunStatusPartial, pagesCrawled, eventsFound, errs); err != nil {
		return nil, err
	}
	if err := r.store.MarkRunCancelled(ctx, id); err != nil {
		return nil, fmt.Errorf("mark run %s cancelled: %w", id, err)
	}
	return r.store.GetRun(ctx, id)
}

// Cancel requests cancellation of a run. The worker processing it observes this via
// PollCancelled at its next safe checkpoint; cancellation is cooperative, never forced.
func (r *Registry) Cancel(ctx context.Context, id uuid.UUID) error {
	run, err := r.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.IsTerminal() {
		return apperr.Validation(fmt.Sprintf("run %s has already finished (%s), cannot cancel", id, run.Status))
	}
	return r.flags.SetCancelFlag(ctx, id, cancelFlagTTL)
}

// PollCancelled reports whether a run has an outstanding cancellation request. Workers call
// this between scraper iterations and ingestion batches (spec §4.G).
func (r *Registry) PollCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.flags.HasCancelFlag(ctx, id)
}

// BatchStatus is the aggregated view of a parent run's children, used for Instagram batch
// runs where the parent itself performs no scraping.
type BatchStatus struct {
	Parent   *models.Run
	Children []*models.Run
}

// AggregatedStatus derives the parent's overall status from its children: running while any
// child is still pending, partial if any finished child errored or was itself partial, else
// success — the same "derive from child state" idea the teacher's ServerSupervisor uses for
// composite health.
func (b *BatchStatus) AggregatedStatus() models.RunStatus {
	if len(b.Children) == 0 {
		return b.Parent.Status
	}
	anyErrorOrPartial := false
	for _, c := range b.Children {
		if !c.IsTerminal() {
			return models.RunStatusRunning
		}
		if c.Status == models.RunStatusError || c.Status == models.RunStatusPartial {
			anyErrorOrPartial = true
		}
	}
	if anyErrorOrPartial {
		return models.RunStatusPartial
	}
	return models.RunStatusSuccess
}

// GetBatchStatus loads a parent run and its children and returns their aggregated view.
func (r *Registry) GetBatchStatus(ctx context.Context, parentID uuid.UUID) (*BatchStatus, error) {
	parent, err := r.store.GetRun(ctx, parentID)
	if err != nil {
		return nil, err
	}
	children, err := r.store.ListChildRuns(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return &BatchStatus{Parent: parent, Children: children}, nil
}

// StartBatch creates a parent run (no scraping of its own) plus one child run per source,
// for Instagram batch scraping (spec §4.E).
func (r *Registry) StartBatch(ctx context.Context, batchSourceID uuid.UUID, childSourceIDs []uuid.UUID) (*models.Run, []*models.Run, error) {
	parent, err := r.Start(ctx, batchSourceID, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create parent batch run: %w", err)
	}
	children := make([]*models.Run, 0, len(childSourceIDs))
	for _, sourceID := range childSourceIDs {
		child, err := r.Start(ctx, sourceID, &parent.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("create child run for source %s: %w", sourceID, err)
		}
		children = append(children, child)
	}
	return parent, children, nil
}
