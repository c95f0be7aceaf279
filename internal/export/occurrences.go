package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
)

// OccurrenceStore is the subset of *store.DB StoreOccurrenceSource needs to resolve a
// canonical event back to its series' occurrences.
type OccurrenceStore interface {
	GetRawEvent(ctx context.Context, id uuid.UUID) (*models.RawEvent, error)
	ListOccurrencesBySeries(ctx context.Context, seriesID uuid.UUID) ([]*models.EventOccurrence, error)
}

// StoreOccurrenceSource implements WordPressOccurrenceSource by following a canonical event's
// first merged raw event back to its series, then listing that series' occurrences. A
// canonical event with more than one occurrence (HasRecurrence) uploads as one WordPress post
// per occurrence, per spec.md §4.J.
type StoreOccurrenceSource struct {
	store OccurrenceStore
}

// NewStoreOccurrenceSource builds a StoreOccurrenceSource.
func NewStoreOccurrenceSource(store OccurrenceStore) *StoreOccurrenceSource {
	return &StoreOccurrenceSource{store: store}
}

var _ WordPressOccurrenceSource = (*StoreOccurrenceSource)(nil)

// OccurrencesForCanonical implements WordPressOccurrenceSource.
func (s *StoreOccurrenceSource) OccurrencesForCanonical(ctx context.Context, c *models.CanonicalEvent) ([]time.Time, uuid.UUID, error) {
	if len(c.MergedFromRawIDs) == 0 {
		return []time.Time{c.StartDatetime}, uuid.Nil, nil
	}

	raw, err := s.store.GetRawEvent(ctx, c.MergedFromRawIDs[0])
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return []time.Time{c.StartDatetime}, uuid.Nil, nil
		}
		return nil, uuid.Nil, fmt.Errorf("load raw event %s: %w", c.MergedFromRawIDs[0], err)
	}
	if raw.SeriesID == nil {
		return []time.Time{c.StartDatetime}, raw.SourceID, nil
	}

	occurrences, err := s.store.ListOccurrencesBySeries(ctx, *raw.SeriesID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("list occurrences for series %s: %w", *raw.SeriesID, err)
	}
	if len(occurrences) == 0 {
		return []time.Time{c.StartDatetime}, raw.SourceID, nil
	}

	starts := make([]time.Time, len(occurrences))
	for i, occ := range occurrences {
		starts[i] = occ.StartDatetime
	}
	return starts, raw.SourceID, nil
}
