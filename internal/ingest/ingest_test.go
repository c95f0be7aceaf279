package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscrape/core/internal/cache"
	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/scraper"
	"github.com/eventscrape/core/internal/scraper/fixture"
)

// fakeStore is an in-memory stand-in for *store.DB, reproducing its lookup-then-branch
// upsert semantics closely enough to exercise the ingestion core's idempotence guarantees
// without a real DuckDB connection.
type fakeStore struct {
	seriesByKey map[string]uuid.UUID
	seriesByID  map[uuid.UUID]*models.EventSeries
	occByKey    map[string]*models.EventOccurrence
	rawByKey    map[string]*models.RawEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		seriesByKey: make(map[string]uuid.UUID),
		seriesByID:  make(map[uuid.UUID]*models.EventSeries),
		occByKey:    make(map[string]*models.EventOccurrence),
		rawByKey:    make(map[string]*models.RawEvent),
	}
}

func businessKey(sourceID uuid.UUID, sourceEventID *string) string {
	id := ""
	if sourceEventID != nil {
		id = *sourceEventID
	}
	return sourceID.String() + "|" + id
}

func (f *fakeStore) UpsertSeries(_ context.Context, s *models.EventSeries) (*models.EventSeries, bool, error) {
	key := businessKey(s.SourceID, s.SourceEventID)
	if id, ok := f.seriesByKey[key]; ok {
		existing := f.seriesByID[id]
		if existing.ContentHash == s.ContentHash {
			return existing, false, nil
		}
		s.ID = id
		s.CreatedAt = existing.CreatedAt
		s.UpdatedAt = time.Now()
		f.seriesByID[id] = s
		return s, false, nil
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	f.seriesByKey[key] = s.ID
	f.seriesByID[s.ID] = s
	return s, true, nil
}

func (f *fakeStore) UpsertOccurrence(_ context.Context, o *models.EventOccurrence) (*models.EventOccurrence, bool, error) {
	key := o.SeriesID.String() + "|" + o.OccurrenceHash
	if existing, ok := f.occByKey[key]; ok {
		o.ID = existing.ID
		o.ScrapedAt = existing.ScrapedAt
		f.occByKey[key] = o
		return o, false, nil
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	f.occByKey[key] = o
	return o, true, nil
}

func (f *fakeStore) UpsertRawEvent(_ context.Context, e *models.RawEvent) (*models.RawEvent, bool, error) {
	key := businessKey(e.SourceID, e.SourceEventID)
	if existing, ok := f.rawByKey[key]; ok {
		if existing.ContentHash == e.ContentHash {
			existing.LastSeenAt = e.LastSeenAt
			existing.RunID = e.RunID
			return existing, false, nil
		}
		e.ID = existing.ID
		e.ScrapedAt = existing.ScrapedAt
		f.rawByKey[key] = e
		return e, true, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.rawByKey[key] = e
	return e, true, nil
}

func TestIngestOne_IdempotentRescrape(t *testing.T) {
	store := newFakeStore()
	ing := New(store, cache.NewSeenCache(100, time.Minute))
	sourceID := uuid.New()
	event := fixture.SingleEvent("evt-1", "Jazz Night", "2026-08-01T20:00:00Z")

	first, err := ing.IngestOne(context.Background(), sourceID, uuid.New(), "UTC", event)
	require.NoError(t, err)
	assert.True(t, first.SeriesCreated)
	assert.True(t, first.RawChanged)
	require.Len(t, first.Occurrences, 1)

	second, err := ing.IngestOne(context.Background(), sourceID, uuid.New(), "UTC", event)
	require.NoError(t, err)
	assert.False(t, second.SeriesCreated, "unchanged re-scrape must not report a new series")
	assert.False(t, second.RawChanged, "unchanged re-scrape must not report a content change")
	assert.Equal(t, first.Series.ID, second.Series.ID)
	assert.Equal(t, first.RawEvent.ID, second.RawEvent.ID)
	assert.Equal(t, first.Occurrences[0].ID, second.Occurrences[0].ID)
	assert.True(t, second.RawEvent.LastSeenAt.After(first.RawEvent.LastSeenAt) || second.RawEvent.LastSeenAt.Equal(first.RawEvent.LastSeenAt))
}

func TestIngestOne_ContentChangeIsDetected(t *testing.T) {
	store := newFakeStore()
	ing := New(store, nil)
	sourceID := uuid.New()

	first, err := ing.IngestOne(context.Background(), sourceID, uuid.New(), "UTC", fixture.SingleEvent("evt-2", "Trivia Night", "2026-08-01T20:00:00Z"))
	require.NoError(t, err)

	changed := fixture.SingleEvent("evt-2", "Trivia Night (Canceled)", "2026-08-01T20:00:00Z")
	second, err := ing.IngestOne(context.Background(), sourceID, uuid.New(), "UTC", changed)
	require.NoError(t, err)

	assert.True(t, second.RawChanged)
	assert.Equal(t, first.RawEvent.ID, second.RawEvent.ID, "same business key must keep the same row identity")
	assert.NotEqual(t, first.RawEvent.ContentHash, second.RawEvent.ContentHash)
}

func TestIngestOne_RecurringSeries(t *testing.T) {
	store := newFakeStore()
	ing := New(store, nil)
	sourceID := uuid.New()

	dates := []fixture.SeriesDate{
		{Start: "2026-08-01T20:00:00Z"},
		{Start: "2026-08-08T20:00:00Z"},
		{Start: "2026-08-15T20:00:00Z"},
	}
	event := fixture.RecurringEvent("evt-3", "Weekly Trivia", dates)

	result, err := ing.IngestOne(context.Background(), sourceID, uuid.New(), "UTC", event)
	require.NoError(t, err)
	require.Len(t, result.Occurrences, 3)
	assert.Equal(t, models.OccurrenceRecurring, result.Series.OccurrenceType)
	assert.Equal(t, models.RecurrenceWeekly, result.Series.RecurrenceType)
	for i, occ := range result.Occurrences {
		assert.Equal(t, i+1, occ.Sequence)
		assert.True(t, occ.HasRecurrence)
	}

	// Reordering raw.seriesDates must not change any occurrence's hash, since
	// OccurrenceHash is keyed on (series_id, start_iso, end_iso), not position.
	reordered := fixture.RecurringEvent("evt-3", "Weekly Trivia", []fixture.SeriesDate{dates[2], dates[0], dates[1]})
	result2, err := ing.IngestOne(context.Background(), sourceID, uuid.New(), "UTC", reordered)
	require.NoError(t, err)

	hashesBefore := map[string]bool{}
	for _, occ := range result.Occurrences {
		hashesBefore[occ.OccurrenceHash] = true
	}
	for _, occ := range result2.Occurrences {
		assert.True(t, hashesBefore[occ.OccurrenceHash], "occurrence hash must be stable under seriesDates reordering")
	}
}

func TestIngestOne_MalformedDateIsSkippedNotFatal(t *testing.T) {
	store := newFakeStore()
	ing := New(store, nil)

	bad := scraper.RawEvent{Title: "Broken Date Event", Start: "not-a-date", URL: "https://example.test/bad"}
	_, err := ing.IngestOne(context.Background(), uuid.New(), uuid.New(), "UTC", bad)
	require.Error(t, err)

	var malformed *MalformedDateError
	require.ErrorAs(t, err, &malformed)
}
