// Package fixture provides a single deterministic test-double scraper module used to
// exercise the worker runtime and ingestion pipeline in tests, per spec §6's note that no
// concrete module is implemented here — only a fixture to drive the rest of the pipeline.
package fixture

import (
	"encoding/json"
	"fmt"

	"github.com/eventscrape/core/internal/scraper"
)

// Module is a deterministic Module: it returns whatever Events slice it was constructed
// with, unconditionally, so callers can assert on exactly what the worker runtime and
// ingestion core do with known input.
type Module struct {
	ModuleKey string
	Events    []scraper.RawEvent
	Err       error
}

// New builds a fixture module under moduleKey that returns events verbatim.
func New(moduleKey string, events []scraper.RawEvent) *Module {
	return &Module{ModuleKey: moduleKey, Events: events}
}

// Key implements scraper.Module.
func (m *Module) Key() string { return m.ModuleKey }

// Run implements scraper.Module: reports one "page" per call, increments the shared stats
// counter, and returns the configured events (or the configured error).
func (m *Module) Run(c *scraper.Context) (scraper.RunResult, error) {
	if m.Err != nil {
		return scraper.RunResult{}, m.Err
	}
	c.Stats.IncrPage()
	c.Logger.Info("fixture scrape complete", map[string]any{"events": len(m.Events)})
	return scraper.RunResult{Events: m.Events, PagesCrawled: 1}, nil
}

// SingleEvent builds the one-raw-event fixture described in SPEC_FULL.md §8 scenario 2
// ("idempotent re-scrape"): a stable source_event_id and a single start time.
func SingleEvent(sourceEventID, title, startISO string) scraper.RawEvent {
	return scraper.RawEvent{
		SourceEventID: &sourceEventID,
		Title:         title,
		Start:         startISO,
		URL:           fmt.Sprintf("https://example.test/events/%s", sourceEventID),
	}
}

// RecurringEvent builds the recurring-series fixture from scenario 3: one raw event whose
// raw.seriesDates carries the per-occurrence date pairs.
func RecurringEvent(sourceEventID, title string, dates []SeriesDate) scraper.RawEvent {
	raw, _ := json.Marshal(map[string]any{"seriesDates": dates})
	return scraper.RawEvent{
		SourceEventID: &sourceEventID,
		Title:         title,
		Start:         dates[0].Start,
		End:           dates[0].End,
		URL:           fmt.Sprintf("https://example.test/events/%s", sourceEventID),
		Raw:           raw,
	}
}

// SeriesDate is one entry of raw.seriesDates, matching the JSON shape internal/ingest reads.
type SeriesDate struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}
