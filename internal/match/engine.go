package match

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
)

// Store is the subset of *store.DB the match engine needs.
type Store interface {
	ListRawEventsInWindow(ctx context.Context, from, to time.Time, city string) ([]*models.RawEvent, error)
	CreateMatch(ctx context.Context, m *models.Match) (*models.Match, error)
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	DecideMatch(ctx context.Context, id uuid.UUID, status models.MatchStatus) (*models.Match, error)
	GetRawEvent(ctx context.Context, id uuid.UUID) (*models.RawEvent, error)
	CreateCanonicalEvent(ctx context.Context, c *models.CanonicalEvent) (*models.CanonicalEvent, error)
	UpdateCanonicalEvent(ctx context.Context, c *models.CanonicalEvent) (*models.CanonicalEvent, error)
	FindCanonicalEventByRawID(ctx context.Context, rawID uuid.UUID) (*models.CanonicalEvent, error)
}

// Engine runs candidate generation and operator-driven decisions over raw events.
type Engine struct {
	store     Store
	scorer    Scorer
	threshold float64
}

// New builds an Engine. A nil scorer defaults to NewWeightedScorer(); threshold <= 0 defaults
// to DefaultThreshold.
func New(store Store, scorer Scorer, threshold float64) *Engine {
	if scorer == nil {
		scorer = NewWeightedScorer()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{store: store, scorer: scorer, threshold: threshold}
}

// GenerateCandidates scores every unordered pair of raw events from different sources with a
// start_datetime within window of center and the same city, writing any pair scoring at or
// above the engine's threshold as an open match (spec §4.I). Re-running over an overlapping
// window is safe: CreateMatch's ON CONFLICT DO NOTHING keeps this idempotent.
func (e *Engine) GenerateCandidates(ctx context.Context, center time.Time, window time.Duration, city string) ([]*models.Match, error) {
	events, err := e.store.ListRawEventsInWindow(ctx, center.Add(-window), center.Add(window), city)
	if err != nil {
		return nil, fmt.Errorf("list raw events in window: %w", err)
	}

	var out []*models.Match
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			a, b := events[i], events[j]
			if a.SourceID == b.SourceID {
				continue
			}
			score, reason := e.scorer.Score(a, b)
			if score < e.threshold {
				continue
			}
			rawA, rawB := a.ID, b.ID
			if rawB.String() < rawA.String() {
				rawA, rawB = rawB, rawA
			}
			m, err := e.store.CreateMatch(ctx, &models.Match{
				RawIDA: rawA,
				RawIDB: rawB,
				Score:  score,
				Reason: reason,
				Status: models.MatchOpen,
			})
			if err != nil {
				return nil, fmt.Errorf("create match %s/%s: %w", rawA, rawB, err)
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// Confirm marks a match confirmed. It does not itself create a canonical event — call Merge
// for that.
func (e *Engine) Confirm(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	return e.store.DecideMatch(ctx, matchID, models.MatchConfirmed)
}

// Reject marks a match rejected. GenerateCandidates never re-proposes the pair: it only ever
// inserts a new row and never overwrites an existing pair's status, and a re-scraped raw
// keeps its ID, so a change to one of its raws' content_hash does not reopen the pair.
func (e *Engine) Reject(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	return e.store.DecideMatch(ctx, matchID, models.MatchRejected)
}

// MergeOverrides lets the operator override specific canonical fields instead of taking raw
// A's values verbatim.
type MergeOverrides struct {
	Title       *string
	Description *string
	VenueName   *string
	City        *string
	Organizer   *string
	Category    *string
	URL         *string
	ImageURL    *string
}

// Merge confirms matchID and creates (or extends) a canonical event from its two raw events,
// preferring raw A's fields with any operator override applied on top. If either raw already
// maps to a canonical event, that canonical event is extended (unioned) instead of a new one
// being created, per spec §4.I.
func (e *Engine) Merge(ctx context.Context, matchID uuid.UUID, overrides MergeOverrides) (*models.CanonicalEvent, error) {
	m, err := e.store.DecideMatch(ctx, matchID, models.MatchConfirmed)
	if err != nil {
		return nil, fmt.Errorf("confirm match for merge: %w", err)
	}

	rawA, err := e.store.GetRawEvent(ctx, m.RawIDA)
	if err != nil {
		return nil, fmt.Errorf("load raw %s: %w", m.RawIDA, err)
	}
	rawB, err := e.store.GetRawEvent(ctx, m.RawIDB)
	if err != nil {
		return nil, fmt.Errorf("load raw %s: %w", m.RawIDB, err)
	}

	existing, err := e.existingCanonicalFor(ctx, rawA.ID, rawB.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.MergedFromRawIDs = unionUUIDs(existing.MergedFromRawIDs, []uuid.UUID{rawA.ID, rawB.ID})
		applyOverrides(existing, overrides)
		return e.store.UpdateCanonicalEvent(ctx, existing)
	}

	canonical := canonicalFromRaw(rawA)
	applyOverrides(canonical, overrides)
	canonical.MergedFromRawIDs = []uuid.UUID{rawA.ID, rawB.ID}
	return e.store.CreateCanonicalEvent(ctx, canonical)
}

func (e *Engine) existingCanonicalFor(ctx context.Context, rawA, rawB uuid.UUID) (*models.CanonicalEvent, error) {
	for _, id := range []uuid.UUID{rawA, rawB} {
		c, err := e.store.FindCanonicalEventByRawID(ctx, id)
		if err == nil {
			return c, nil
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return nil, fmt.Errorf("lookup canonical for raw %s: %w", id, err)
		}
	}
	return nil, nil
}

func canonicalFromRaw(r *models.RawEvent) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		Title:         r.Title,
		Description:   r.Description,
		StartDatetime: r.StartDatetime,
		EndDatetime:   r.EndDatetime,
		Timezone:      r.Timezone,
		VenueName:     r.VenueName,
		City:          r.City,
		Organizer:     r.Organizer,
		Category:      r.Category,
		URL:           r.URL,
		ImageURL:      r.ImageURL,
		Status:        models.CanonicalReady,
	}
}

func applyOverrides(c *models.CanonicalEvent, o MergeOverrides) {
	if o.Title != nil {
		c.Title = *o.Title
	}
	if o.Description != nil {
		c.Description = *o.Description
	}
	if o.VenueName != nil {
		c.VenueName = *o.VenueName
	}
	if o.City != nil {
		c.City = *o.City
	}
	if o.Organizer != nil {
		c.Organizer = *o.Organizer
	}
	if o.Category != nil {
		c.Category = *o.Category
	}
	if o.URL != nil {
		c.URL = *o.URL
	}
	if o.ImageURL != nil {
		c.ImageURL = *o.ImageURL
	}
}

func unionUUIDs(existing, add []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(existing))
	out := make([]uuid.UUID, 0, len(existing)+len(add))
	for _, id := range existing {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range add {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
