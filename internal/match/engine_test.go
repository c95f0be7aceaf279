package match

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
)

type fakeMatchStore struct {
	raws       map[uuid.UUID]*models.RawEvent
	matches    map[uuid.UUID]*models.Match
	matchKeys  map[string]uuid.UUID
	canonicals map[uuid.UUID]*models.CanonicalEvent
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{
		raws:       make(map[uuid.UUID]*models.RawEvent),
		matches:    make(map[uuid.UUID]*models.Match),
		matchKeys:  make(map[string]uuid.UUID),
		canonicals: make(map[uuid.UUID]*models.CanonicalEvent),
	}
}

func (f *fakeMatchStore) addRaw(r *models.RawEvent) *models.RawEvent {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	f.raws[r.ID] = r
	return r
}

func (f *fakeMatchStore) ListRawEventsInWindow(ctx context.Context, from, to time.Time, city string) ([]*models.RawEvent, error) {
	var out []*models.RawEvent
	for _, r := range f.raws {
		if city != "" && r.City != city {
			continue
		}
		if r.StartDatetime.Before(from) || !r.StartDatetime.Before(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeMatchStore) CreateMatch(ctx context.Context, m *models.Match) (*models.Match, error) {
	key := m.RawIDA.String() + "|" + m.RawIDB.String()
	if id, ok := f.matchKeys[key]; ok {
		return f.matches[id], nil
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	f.matches[m.ID] = m
	f.matchKeys[key] = m.ID
	return m, nil
}

func (f *fakeMatchStore) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	if m, ok := f.matches[id]; ok {
		return m, nil
	}
	return nil, apperr.NotFound("match", id)
}

func (f *fakeMatchStore) DecideMatch(ctx context.Context, id uuid.UUID, status models.MatchStatus) (*models.Match, error) {
	m, ok := f.matches[id]
	if !ok {
		return nil, apperr.NotFound("match", id)
	}
	m.Status = status
	return m, nil
}

func (f *fakeMatchStore) GetRawEvent(ctx context.Context, id uuid.UUID) (*models.RawEvent, error) {
	if r, ok := f.raws[id]; ok {
		return r, nil
	}
	return nil, apperr.NotFound("raw_event", id)
}

func (f *fakeMatchStore) CreateCanonicalEvent(ctx context.Context, c *models.CanonicalEvent) (*models.CanonicalEvent, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	f.canonicals[c.ID] = c
	return c, nil
}

func (f *fakeMatchStore) UpdateCanonicalEvent(ctx context.Context, c *models.CanonicalEvent) (*models.CanonicalEvent, error) {
	f.canonicals[c.ID] = c
	return c, nil
}

func (f *fakeMatchStore) FindCanonicalEventByRawID(ctx context.Context, rawID uuid.UUID) (*models.CanonicalEvent, error) {
	for _, c := range f.canonicals {
		for _, id := range c.MergedFromRawIDs {
			if id == rawID {
				return c, nil
			}
		}
	}
	return nil, apperr.NotFound("canonical_event_for_raw", rawID)
}

var _ Store = (*fakeMatchStore)(nil)

func TestGenerateCandidates_CrossSourceOnlyAndThreshold(t *testing.T) {
	store := newFakeMatchStore()
	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	srcA, srcB := uuid.New(), uuid.New()

	a := store.addRaw(&models.RawEvent{SourceID: srcA, Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", URL: "https://x.test/1", StartDatetime: base})
	b := store.addRaw(&models.RawEvent{SourceID: srcB, Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", URL: "https://x.test/1", StartDatetime: base.Add(5 * time.Minute)})
	// same source as a: must never be paired with a even though it's similar (it still pairs
	// with b, which is from the other source)
	c := store.addRaw(&models.RawEvent{SourceID: srcA, Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", URL: "https://x.test/1", StartDatetime: base.Add(6 * time.Minute)})
	// unrelated event, different source, same window: should score below threshold
	store.addRaw(&models.RawEvent{SourceID: srcB, Title: "Farmers Market", VenueName: "City Square", City: "Portland", URL: "https://y.test/2", StartDatetime: base.Add(7 * time.Minute)})

	engine := New(store, nil, 0)
	matches, err := engine.GenerateCandidates(context.Background(), base, DefaultWindow, "Portland")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	var partners []uuid.UUID
	for _, m := range matches {
		require.Contains(t, []uuid.UUID{m.RawIDA, m.RawIDB}, b.ID)
		if m.RawIDA == b.ID {
			partners = append(partners, m.RawIDB)
		} else {
			partners = append(partners, m.RawIDA)
		}
	}
	assert.ElementsMatch(t, []uuid.UUID{a.ID, c.ID}, partners)
}

func TestGenerateCandidates_IdempotentAcrossReruns(t *testing.T) {
	store := newFakeMatchStore()
	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	srcA, srcB := uuid.New(), uuid.New()
	store.addRaw(&models.RawEvent{SourceID: srcA, Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", URL: "https://x.test/1", StartDatetime: base})
	store.addRaw(&models.RawEvent{SourceID: srcB, Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", URL: "https://x.test/1", StartDatetime: base.Add(5 * time.Minute)})

	engine := New(store, nil, 0)
	first, err := engine.GenerateCandidates(context.Background(), base, DefaultWindow, "Portland")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := engine.GenerateCandidates(context.Background(), base.Add(time.Hour), DefaultWindow, "Portland")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Len(t, store.matches, 1)
}

func TestConfirmAndReject(t *testing.T) {
	store := newFakeMatchStore()
	m, err := store.CreateMatch(context.Background(), &models.Match{RawIDA: uuid.New(), RawIDB: uuid.New(), Status: models.MatchOpen})
	require.NoError(t, err)

	engine := New(store, nil, 0)
	confirmed, err := engine.Confirm(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchConfirmed, confirmed.Status)

	rejected, err := engine.Reject(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchRejected, rejected.Status)
}

func TestMerge_CreatesNewCanonicalEvent(t *testing.T) {
	store := newFakeMatchStore()
	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	a := store.addRaw(&models.RawEvent{Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", StartDatetime: base})
	b := store.addRaw(&models.RawEvent{Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", StartDatetime: base.Add(5 * time.Minute)})
	m, err := store.CreateMatch(context.Background(), &models.Match{RawIDA: a.ID, RawIDB: b.ID, Status: models.MatchOpen})
	require.NoError(t, err)

	engine := New(store, nil, 0)
	overrideTitle := "Jazz Night (Merged)"
	canonical, err := engine.Merge(context.Background(), m.ID, MergeOverrides{Title: &overrideTitle})
	require.NoError(t, err)
	assert.Equal(t, overrideTitle, canonical.Title)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, canonical.MergedFromRawIDs)
	assert.Equal(t, models.MatchConfirmed, store.matches[m.ID].Status)
}

func TestMerge_UnionsIntoExistingCanonicalEvent(t *testing.T) {
	store := newFakeMatchStore()
	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	a := store.addRaw(&models.RawEvent{Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", StartDatetime: base})
	b := store.addRaw(&models.RawEvent{Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", StartDatetime: base.Add(5 * time.Minute)})
	c := store.addRaw(&models.RawEvent{Title: "Jazz Night", VenueName: "Blue Room", City: "Portland", StartDatetime: base.Add(10 * time.Minute)})

	existing, err := store.CreateCanonicalEvent(context.Background(), &models.CanonicalEvent{
		Title:            "Jazz Night",
		MergedFromRawIDs: []uuid.UUID{a.ID},
		Status:           models.CanonicalReady,
	})
	require.NoError(t, err)

	m, err := store.CreateMatch(context.Background(), &models.Match{RawIDA: a.ID, RawIDB: c.ID, Status: models.MatchOpen})
	require.NoError(t, err)

	engine := New(store, nil, 0)
	result, err := engine.Merge(context.Background(), m.ID, MergeOverrides{})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, result.ID)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, c.ID}, result.MergedFromRawIDs)
	assert.Len(t, store.canonicals, 1)
	_ = b
}
