// Package ingest is the ingestion core (spec §4.H): it turns a scraper.RawEvent into the
// raw_events/event_series/event_occurrences rows the rest of the pipeline reads, using
// content-hash comparison so an unchanged re-scrape costs a lookup and a last_seen_at bump,
// never a write storm.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/cache"
	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/scraper"
)

// Store is the subset of *store.DB the ingestion core needs, scoped narrowly so tests can
// supply an in-memory fake instead of a real DuckDB connection.
type Store interface {
	UpsertSeries(ctx context.Context, s *models.EventSeries) (*models.EventSeries, bool, error)
	UpsertOccurrence(ctx context.Context, o *models.EventOccurrence) (*models.EventOccurrence, bool, error)
	UpsertRawEvent(ctx context.Context, e *models.RawEvent) (*models.RawEvent, bool, error)
}

// Result is everything one IngestOne call produced, surfaced mainly for tests and for the
// worker runtime's per-run counters.
type Result struct {
	Series        *models.EventSeries
	SeriesCreated bool
	Occurrences   []*models.EventOccurrence
	RawEvent      *models.RawEvent
	RawChanged    bool
}

// MalformedDateError marks a single item the caller should skip and record into Run.Errors,
// without failing the rest of the batch (spec §4.H's failure mode for unparsable dates).
type MalformedDateError struct {
	Identity string
	Cause    error
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("malformed date for %s: %v", e.Identity, e.Cause)
}

func (e *MalformedDateError) Unwrap() error { return e.Cause }

// Ingestor drives the upsert protocol for one raw event at a time.
type Ingestor struct {
	store Store
	seen  *cache.SeenCache
}

// New builds an Ingestor. seen may be nil to disable the pre-check cache entirely.
func New(store Store, seen *cache.SeenCache) *Ingestor {
	return &Ingestor{store: store, seen: seen}
}

// IngestOne runs the full upsert protocol for one scraper.RawEvent observed under sourceID
// during runID, using tz as the fallback timezone for any date string that doesn't carry its
// own offset.
func (ing *Ingestor) IngestOne(ctx context.Context, sourceID, runID uuid.UUID, tz string, re scraper.RawEvent) (*Result, error) {
	identity := identityKey(sourceID, re.SourceEventID, re.URL)

	startTime, err := ParseEventTime(re.Start, tz)
	if err != nil {
		return nil, &MalformedDateError{Identity: identity, Cause: err}
	}
	var endTime *time.Time
	if re.End != "" {
		t, err := ParseEventTime(re.End, tz)
		if err != nil {
			return nil, &MalformedDateError{Identity: identity, Cause: err}
		}
		endTime = &t
	}

	ex := parseExtras(re.Raw)
	instances, err := seriesInstances(ex, tz, startTime, endTime)
	if err != nil {
		return nil, &MalformedDateError{Identity: identity, Cause: err}
	}
	occType, recType := Classify(ex, instances)

	now := time.Now().UTC()
	seriesHash := SeriesContentHash(re.Title, re.DescriptionHTML, re.VenueName, re.VenueAddress, re.Organizer, re.Category)

	// The pre-check only ever shortens the hot path's reasoning, never its DB calls: a
	// cache hit still runs the exact same upsert sequence below, since MaybeSeen is
	// approximate and the store is the only authority on whether anything changed.
	if ing.seen != nil {
		ing.seen.MaybeSeen(identity + ":" + seriesHash)
	}

	series := &models.EventSeries{
		SourceID:           sourceID,
		SourceEventID:      re.SourceEventID,
		Title:              re.Title,
		Description:        re.DescriptionHTML,
		VenueName:          re.VenueName,
		VenueAddress:       re.VenueAddress,
		Organizer:          re.Organizer,
		Category:           re.Category,
		OccurrenceType:     occType,
		RecurrenceType:     recType,
		EventStatus:        models.EventScheduled,
		URLPrimary:         re.URL,
		ContentHash:        seriesHash,
		Raw:                re.Raw,
		LastUpdatedByRunID: &runID,
	}
	storedSeries, seriesCreated, err := ing.store.UpsertSeries(ctx, series)
	if err != nil {
		return nil, fmt.Errorf("upsert series for %s: %w", identity, err)
	}

	occurrences := make([]*models.EventOccurrence, 0, len(instances))
	var primaryOccurrenceID *uuid.UUID
	for i, inst := range instances {
		occ, err := ing.upsertOccurrence(ctx, storedSeries.ID, i, inst, tz, len(instances) > 1, re.Raw, now)
		if err != nil {
			return nil, fmt.Errorf("upsert occurrence %d for %s: %w", i, identity, err)
		}
		occurrences = append(occurrences, occ)
		if i == 0 {
			id := occ.ID
			primaryOccurrenceID = &id
		}
	}

	rawHash := RawContentHash(
		re.Title, re.DescriptionHTML, re.Start, re.End, re.VenueName, re.VenueAddress,
		re.City, re.Region, re.Country, re.Organizer, re.Category, re.Price, re.URL, re.ImageURL,
	)
	rawEvent := &models.RawEvent{
		SourceID:                 sourceID,
		RunID:                    runID,
		SourceEventID:            re.SourceEventID,
		SeriesID:                 &storedSeries.ID,
		OccurrenceID:             primaryOccurrenceID,
		Title:                    re.Title,
		Description:              re.DescriptionHTML,
		StartDatetime:            startTime,
		EndDatetime:              endTime,
		Timezone:                 tz,
		VenueName:                re.VenueName,
		VenueAddress:             re.VenueAddress,
		City:                     re.City,
		Region:                   re.Region,
		Country:                  re.Country,
		Lat:                      re.Lat,
		Lon:                      re.Lon,
		Organizer:                re.Organizer,
		Category:                 re.Category,
		Tags:                     re.Tags,
		Price:                    re.Price,
		URL:                      re.URL,
		ImageURL:                 re.ImageURL,
		Raw:                      re.Raw,
		ContentHash:              rawHash,
		ScrapedAt:                now,
		LastSeenAt:               now,
		InstagramPostID:          re.InstagramPostID,
		InstagramCaption:         re.InstagramCaption,
		InstagramLocalImagePath:  re.InstagramLocalImagePath,
		ClassificationConfidence: re.ClassificationConfidence,
		IsEventPoster:            re.IsEventPoster,
	}
	storedRaw, rawChanged, err := ing.store.UpsertRawEvent(ctx, rawEvent)
	if err != nil {
		return nil, fmt.Errorf("upsert raw event for %s: %w", identity, err)
	}

	if ing.seen != nil {
		ing.seen.Record(identity + ":" + seriesHash)
	}

	return &Result{
		Series:        storedSeries,
		SeriesCreated: seriesCreated,
		Occurrences:   occurrences,
		RawEvent:      storedRaw,
		RawChanged:    rawChanged,
	}, nil
}

func (ing *Ingestor) upsertOccurrence(ctx context.Context, seriesID uuid.UUID, sequence int, inst SeriesInstance, tz string, hasRecurrence bool, raw []byte, now time.Time) (*models.EventOccurrence, error) {
	startISO := inst.Start.Format(time.RFC3339)
	endISO := ""
	if inst.End != nil {
		endISO = inst.End.Format(time.RFC3339)
	}

	occ := &models.EventOccurrence{
		SeriesID:         seriesID,
		OccurrenceHash:   OccurrenceHash(seriesID.String(), startISO, endISO),
		Sequence:         sequence + 1,
		StartDatetime:    inst.Start,
		StartDatetimeUTC: inst.Start.UTC(),
		EndDatetime:      inst.End,
		Timezone:         tz,
		HasRecurrence:    hasRecurrence,
		Raw:              raw,
		ScrapedAt:        now,
		LastSeenAt:       now,
	}
	if inst.End != nil {
		utc := inst.End.UTC()
		occ.EndDatetimeUTC = &utc
		d := int(inst.End.Sub(inst.Start).Seconds())
		occ.DurationSeconds = &d
	}

	stored, _, err := ing.store.UpsertOccurrence(ctx, occ)
	return stored, err
}

// seriesInstances builds the concrete date list a raw event's series spans: one entry per
// raw.seriesDates element when present, else a single instance from the event's own
// start/end.
func seriesInstances(ex extras, tz string, fallbackStart time.Time, fallbackEnd *time.Time) ([]SeriesInstance, error) {
	if len(ex.SeriesDates) == 0 {
		return []SeriesInstance{{Start: fallbackStart, End: fallbackEnd}}, nil
	}
	out := make([]SeriesInstance, 0, len(ex.SeriesDates))
	for _, d := range ex.SeriesDates {
		start, err := ParseEventTime(d.Start, tz)
		if err != nil {
			return nil, err
		}
		var end *time.Time
		if d.End != "" {
			e, err := ParseEventTime(d.End, tz)
			if err != nil {
				return nil, err
			}
			end = &e
		}
		out = append(out, SeriesInstance{Start: start, End: end})
	}
	return out, nil
}

func identityKey(sourceID uuid.UUID, sourceEventID *string, url string) string {
	if sourceEventID != nil {
		return sourceID.String() + "|" + *sourceEventID
	}
	return sourceID.String() + "|" + url
}
