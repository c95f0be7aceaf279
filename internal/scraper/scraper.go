// Package scraper defines the Go-native shape of the scraper module contract (spec §6):
// interfaces and DTOs only. No concrete scraper module lives here — browser-automation and
// Instagram-backend scraping are external collaborators per spec §1's scope boundary. The
// worker runtime (internal/worker) invokes whatever Module it is handed; internal/scraper
// just fixes the calling convention both sides agree on.
package scraper

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"
)

// RawEvent is exactly the DTO a scraper module hands back to the worker runtime, before any
// ingestion processing. Dates are parsed by the caller (internal/ingest), not here, since the
// source format varies (RFC3339 or "YYYY-MM-DD HH:MM").
type RawEvent struct {
	SourceEventID     *string         `json:"source_event_id,omitempty"`
	Title             string          `json:"title"`
	Start             string          `json:"start"`
	End               string          `json:"end,omitempty"`
	Timezone          string          `json:"timezone,omitempty"`
	VenueName         string          `json:"venue_name,omitempty"`
	VenueAddress      string          `json:"venue_address,omitempty"`
	City              string          `json:"city,omitempty"`
	Region            string          `json:"region,omitempty"`
	Country           string          `json:"country,omitempty"`
	Lat               *float64        `json:"lat,omitempty"`
	Lon               *float64        `json:"lon,omitempty"`
	Organizer         string          `json:"organizer,omitempty"`
	Category          string          `json:"category,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
	Price             string          `json:"price,omitempty"`
	URL               string          `json:"url"`
	ImageURL          string          `json:"image_url,omitempty"`
	DescriptionHTML   string          `json:"description_html,omitempty"`
	Raw               json.RawMessage `json:"raw,omitempty"`

	// Instagram-specific passthrough fields, only ever populated by an Instagram-backed module.
	InstagramPostID          *string  `json:"instagram_post_id,omitempty"`
	InstagramCaption         *string  `json:"instagram_caption,omitempty"`
	InstagramLocalImagePath  *string  `json:"instagram_local_image_path,omitempty"`
	ClassificationConfidence *float64 `json:"classification_confidence,omitempty"`
	IsEventPoster            *bool    `json:"is_event_poster,omitempty"`
}

// PaginationOptions narrows how far a module paginates a listing page, mirroring the
// "pagination_options" field of job_data in spec §6.
type PaginationOptions struct {
	MaxPages   int `json:"max_pages,omitempty"`
	StartPage  int `json:"start_page,omitempty"`
}

// UploadedFile is present when a scrape was seeded from an operator-uploaded file (e.g. a
// CSV import disguised as a scrape) rather than a live fetch.
type UploadedFile struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
}

// ScrapeMode selects between a full re-crawl and an incremental (since-last-seen) one.
type ScrapeMode string

const (
	ScrapeModeFull        ScrapeMode = "full"
	ScrapeModeIncremental ScrapeMode = "incremental"
)

// JobData is the job-specific configuration a module reads from its Context, corresponding
// to spec §6's ctx.job_data.
type JobData struct {
	TestMode          bool               `json:"test_mode,omitempty"`
	ScrapeMode        ScrapeMode         `json:"scrape_mode,omitempty"`
	PaginationOptions *PaginationOptions `json:"pagination_options,omitempty"`
	UploadedFile      *UploadedFile      `json:"uploaded_file,omitempty"`
}

// Logger is the subset of zerolog's Event-builder API a scraper module is allowed to use,
// so a module never needs to import internal/logging directly.
type Logger interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Stats is the page-counter a module increments as it crawls, read back by the worker
// runtime once the module returns.
type Stats struct {
	pagesCrawled int64
}

// IncrPage bumps the page counter by one. Safe for concurrent use, since some modules crawl
// multiple listing pages concurrently.
func (s *Stats) IncrPage() { atomic.AddInt64(&s.pagesCrawled, 1) }

// PagesCrawled returns the current count.
func (s *Stats) PagesCrawled() int { return int(atomic.LoadInt64(&s.pagesCrawled)) }

// Page is the minimal browser-abstraction surface a website-backed module needs. The worker
// runtime's BrowserPool hands out a concrete implementation; it is opaque here since actual
// browser automation is out of scope (spec §1).
type Page interface {
	Goto(ctx context.Context, url string, timeout time.Duration) error
	Content(ctx context.Context) (string, error)
	Close() error
}

// Context is everything a Module gets handed on Run, matching spec §6's ctx shape exactly
// (logger / page / job_data / stats).
type Context struct {
	Ctx     context.Context
	Logger  Logger
	Page    Page // nil for Instagram-backed modules
	JobData JobData
	Stats   *Stats
}

// RunResult is a Module's return value: the events it found, how many pages it crawled (also
// available via ctx.Stats after the call), and any per-item errors it collected but chose not
// to treat as fatal.
type RunResult struct {
	Events       []RawEvent
	PagesCrawled int
	Errors       []string
}

// Module is the contract every scraper implements. The worker runtime (internal/worker)
// calls Run once per job; a module that encounters an unrecoverable condition returns a
// non-nil error (mapped to apperr.Scraper by the caller), while recoverable per-item
// failures should be appended to RunResult.Errors and absorbed into the returned result.
type Module interface {
	// Key returns the source's module_key, used by the worker runtime to select a module
	// for a given scrape-queue job.
	Key() string
	Run(c *Context) (RunResult, error)
}

// Registry maps module keys to concrete Module implementations, so the worker runtime can
// be handed a single registry at startup and dispatch scrape jobs by Source.ModuleKey
// without a type switch per source.
type Registry struct {
	modules map[string]Module
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds m under its own Key(), overwriting any previous registration for that key.
func (r *Registry) Register(m Module) {
	r.modules[m.Key()] = m
}

// Lookup returns the module registered for key, or false if none is.
func (r *Registry) Lookup(key string) (Module, bool) {
	m, ok := r.modules[key]
	return m, ok
}
