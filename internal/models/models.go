// Package models defines the data structures shared across the ingestion, match,
// scheduling, and export subsystems of the event-aggregation pipeline.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SourceType distinguishes the kind of collaborator that produces raw events for a Source.
type SourceType string

const (
	SourceTypeWebsite   SourceType = "website"
	SourceTypeInstagram SourceType = "instagram"
)

// InstagramClassificationMode controls whether Instagram posts are classified as events manually
// or by the (external, opaque) AI classifier.
type InstagramClassificationMode string

const (
	ClassificationManual InstagramClassificationMode = "manual"
	ClassificationAuto   InstagramClassificationMode = "auto"
)

// InstagramScraperType selects which external backend services an Instagram source.
type InstagramScraperType string

const (
	InstagramScraperApify      InstagramScraperType = "apify"
	InstagramScraperPrivateAPI InstagramScraperType = "private_api"
)

// Source is a harvestable origin of events: a municipal calendar, a community portal, or an
// Instagram profile.
type Source struct {
	ID                    uuid.UUID                    `json:"id"`
	Name                  string                        `json:"name"`
	BaseURL               string                        `json:"base_url"`
	ModuleKey             string                        `json:"module_key"`
	Active                bool                          `json:"active"`
	DefaultTimezone       string                        `json:"default_timezone"`
	RateLimitPerMin       int                           `json:"rate_limit_per_min"`
	SourceType            SourceType                    `json:"source_type"`
	InstagramUsername     *string                       `json:"instagram_username,omitempty"`
	ClassificationMode    *InstagramClassificationMode  `json:"classification_mode,omitempty"`
	InstagramScraperType  *InstagramScraperType         `json:"instagram_scraper_type,omitempty"`
	LastChecked           *time.Time                    `json:"last_checked,omitempty"`
	CreatedAt             time.Time                     `json:"created_at"`
	UpdatedAt             time.Time                     `json:"updated_at"`
}

// RunStatus is the lifecycle state of a Run. Values only ever move forward; see
// Run.ValidTransition.
type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusError   RunStatus = "error"
)

// runRank gives each status a position in the forward-only state machine, used to reject
// backwards transitions in the store layer.
var runRank = map[RunStatus]int{
	RunStatusQueued:  0,
	RunStatusRunning: 1,
	RunStatusSuccess: 2,
	RunStatusPartial: 2,
	RunStatusError:   2,
}

// ValidTransition reports whether moving from "from" to "to" respects the forward-only rule
// from spec §3 ("a run never moves backwards in status").
func ValidTransition(from, to RunStatus) bool {
	return runRank[to] >= runRank[from]
}

// RunError is one structured entry in Run.Errors.
type RunError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	RawEvent  string    `json:"raw_event,omitempty"` // opaque identity of the item that failed, if any
	At        time.Time `json:"at"`
}

// Run records one execution of a scraper against a source, or one child within a batch.
type Run struct {
	ID           uuid.UUID       `json:"id"`
	SourceID     uuid.UUID       `json:"source_id"`
	ParentRunID  *uuid.UUID      `json:"parent_run_id,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Status       RunStatus       `json:"status"`
	PagesCrawled int             `json:"pages_crawled"`
	EventsFound  int             `json:"events_found"`
	Errors       []RunError      `json:"errors,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// IsTerminal reports whether the run has finished (successfully or not).
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusSuccess || r.Status == RunStatusPartial || r.Status == RunStatusError
}

// OccurrenceType classifies how a raw event's date(s) behave.
type OccurrenceType string

const (
	OccurrenceSingle    OccurrenceType = "single"
	OccurrenceMultiDay  OccurrenceType = "multi_day"
	OccurrenceAllDay    OccurrenceType = "all_day"
	OccurrenceRecurring OccurrenceType = "recurring"
	OccurrenceVirtual   OccurrenceType = "virtual"
)

// RecurrenceType classifies the cadence of a recurring series.
type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "none"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceYearly  RecurrenceType = "yearly"
	RecurrenceCustom  RecurrenceType = "custom"
)

// EventStatus is the publication status of a series/occurrence as reported by the source.
type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventCanceled  EventStatus = "canceled"
	EventPostponed EventStatus = "postponed"
)

// RawEvent is the first-class record of something a scraper observed during a run.
type RawEvent struct {
	ID              uuid.UUID       `json:"id"`
	SourceID        uuid.UUID       `json:"source_id"`
	RunID           uuid.UUID       `json:"run_id"`
	SourceEventID   *string         `json:"source_event_id,omitempty"`
	SeriesID        *uuid.UUID      `json:"series_id,omitempty"`
	OccurrenceID    *uuid.UUID      `json:"occurrence_id,omitempty"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	StartDatetime   time.Time       `json:"start_datetime"`
	EndDatetime     *time.Time      `json:"end_datetime,omitempty"`
	Timezone        string          `json:"timezone,omitempty"`
	VenueName       string          `json:"venue_name,omitempty"`
	VenueAddress    string          `json:"venue_address,omitempty"`
	City            string          `json:"city,omitempty"`
	Region          string          `json:"region,omitempty"`
	Country         string          `json:"country,omitempty"`
	Lat             *float64        `json:"lat,omitempty"`
	Lon             *float64        `json:"lon,omitempty"`
	Organizer       string          `json:"organizer,omitempty"`
	Category        string          `json:"category,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Price           string          `json:"price,omitempty"`
	URL             string          `json:"url,omitempty"`
	ImageURL        string          `json:"image_url,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	ContentHash     string          `json:"content_hash"`
	ScrapedAt       time.Time       `json:"scraped_at"`
	LastSeenAt      time.Time       `json:"last_seen_at"`

	// Instagram-specific fields.
	InstagramPostID          *string  `json:"instagram_post_id,omitempty"`
	InstagramCaption         *string  `json:"instagram_caption,omitempty"`
	InstagramLocalImagePath  *string  `json:"instagram_local_image_path,omitempty"`
	ClassificationConfidence *float64 `json:"classification_confidence,omitempty"`
	IsEventPoster            *bool    `json:"is_event_poster,omitempty"`
}

// EventSeries is the recurring identity of an event: title/venue/organizer metadata shared
// across all of its Occurrences.
type EventSeries struct {
	ID              uuid.UUID       `json:"id"`
	SourceID        uuid.UUID       `json:"source_id"`
	SourceEventID   *string         `json:"source_event_id,omitempty"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	VenueName       string          `json:"venue_name,omitempty"`
	VenueAddress    string          `json:"venue_address,omitempty"`
	Organizer       string          `json:"organizer,omitempty"`
	Category        string          `json:"category,omitempty"`
	OccurrenceType  OccurrenceType  `json:"occurrence_type"`
	RecurrenceType  RecurrenceType  `json:"recurrence_type"`
	EventStatus     EventStatus     `json:"event_status"`
	URLPrimary      string          `json:"url_primary,omitempty"`
	ContentHash     string          `json:"content_hash"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	LastUpdatedByRunID *uuid.UUID   `json:"last_updated_by_run_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EventOccurrence is one scheduled instance of an EventSeries. Non-nil override fields shadow
// the series' corresponding field when rendered.
type EventOccurrence struct {
	ID               uuid.UUID       `json:"id"`
	SeriesID         uuid.UUID       `json:"series_id"`
	OccurrenceHash   string          `json:"occurrence_hash"`
	Sequence         int             `json:"sequence"`
	StartDatetime    time.Time       `json:"start_datetime"`    // local wall-clock
	StartDatetimeUTC time.Time       `json:"start_datetime_utc"`
	EndDatetime      *time.Time      `json:"end_datetime,omitempty"`
	EndDatetimeUTC   *time.Time      `json:"end_datetime_utc,omitempty"`
	DurationSeconds  *int            `json:"duration_seconds,omitempty"`
	Timezone         string          `json:"timezone"`
	HasRecurrence    bool            `json:"has_recurrence"`
	IsProvisional    bool            `json:"is_provisional"`
	TitleOverride       *string      `json:"title_override,omitempty"`
	DescriptionOverride *string      `json:"description_override,omitempty"`
	VenueOverride       *string      `json:"venue_override,omitempty"`
	StatusOverride      *EventStatus `json:"status_override,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
	ScrapedAt        time.Time       `json:"scraped_at"`
	LastSeenAt       time.Time       `json:"last_seen_at"`
}

// MatchStatus is the review status of a proposed duplicate pair.
type MatchStatus string

const (
	MatchOpen      MatchStatus = "open"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
)

// MatchReason records the scoring breakdown behind a Match's score, for operator review.
type MatchReason struct {
	TitleSimilarity float64 `json:"title_similarity"`
	TimeProximity   float64 `json:"time_proximity"`
	VenueSimilarity float64 `json:"venue_similarity"`
	SameURLHost     bool    `json:"same_url_host"`
}

// Match is a proposed duplicate pair between two raw events awaiting human decision.
type Match struct {
	ID        uuid.UUID   `json:"id"`
	RawIDA    uuid.UUID   `json:"raw_id_a"`
	RawIDB    uuid.UUID   `json:"raw_id_b"`
	Score     float64     `json:"score"`
	Reason    MatchReason `json:"reason"`
	Status    MatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	CreatedBy string      `json:"created_by,omitempty"`
}

// CanonicalStatus is the publication lifecycle of a CanonicalEvent.
type CanonicalStatus string

const (
	CanonicalNew      CanonicalStatus = "new"
	CanonicalReady    CanonicalStatus = "ready"
	CanonicalExported CanonicalStatus = "exported"
	CanonicalIgnored  CanonicalStatus = "ignored"
)

// CanonicalEvent is a deduplicated, review-approved record intended for publication.
type CanonicalEvent struct {
	ID               uuid.UUID       `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	StartDatetime    time.Time       `json:"start_datetime"`
	EndDatetime      *time.Time      `json:"end_datetime,omitempty"`
	Timezone         string          `json:"timezone,omitempty"`
	VenueName        string          `json:"venue_name,omitempty"`
	City             string          `json:"city,omitempty"`
	Organizer        string          `json:"organizer,omitempty"`
	Category         string          `json:"category,omitempty"`
	URL              string          `json:"url,omitempty"`
	ImageURL         string          `json:"image_url,omitempty"`
	DedupeKey        *string         `json:"dedupe_key,omitempty"`
	MergedFromRawIDs []uuid.UUID     `json:"merged_from_raw_ids,omitempty"`
	Status           CanonicalStatus `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ScheduleType selects which kind of job a Schedule fires.
type ScheduleType string

const (
	ScheduleScrape          ScheduleType = "scrape"
	ScheduleWordPressExport ScheduleType = "wordpress_export"
	ScheduleInstagramScrape ScheduleType = "instagram_scrape"
)

// Schedule is a cron-driven row that materializes into a repeatable job in the queue layer.
type Schedule struct {
	ID                   uuid.UUID       `json:"id"`
	ScheduleType         ScheduleType    `json:"schedule_type"`
	SourceID             *uuid.UUID      `json:"source_id,omitempty"`
	WordPressSettingsID  *uuid.UUID      `json:"wordpress_settings_id,omitempty"`
	Cron                 string          `json:"cron"`
	Timezone             string          `json:"timezone"`
	Active               bool            `json:"active"`
	RepeatKey            *string         `json:"repeat_key,omitempty"`
	Config               json.RawMessage `json:"config,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ExportFilter selects which canonical events an export run covers (spec §4.J). Zero-valued
// fields disable that bound; IDs, when non-empty, overrides every other field.
type ExportFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	City      string
	Category  string
	SourceIDs []uuid.UUID
	IDs       []uuid.UUID
	Status    CanonicalStatus
}

// ExportFormat selects the output encoding of an Export.
type ExportFormat string

const (
	ExportCSV    ExportFormat = "csv"
	ExportJSON   ExportFormat = "json"
	ExportICS    ExportFormat = "ics"
	ExportWPRest ExportFormat = "wp-rest"
)

// ExportStatus is the lifecycle state of an Export row.
type ExportStatus string

const (
	ExportProcessing ExportStatus = "processing"
	ExportSuccess    ExportStatus = "success"
	ExportError      ExportStatus = "error"
)

// Export records one invocation of the export engine.
type Export struct {
	ID           uuid.UUID       `json:"id"`
	Format       ExportFormat    `json:"format"`
	Status       ExportStatus    `json:"status"`
	ItemCount    int             `json:"item_count"`
	FilePath     *string         `json:"file_path,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ScheduleID   *uuid.UUID      `json:"schedule_id,omitempty"`
}

// WordPressSettings holds one configured WordPress site the export engine can upload to,
// including per-source category attachment rules.
type WordPressSettings struct {
	ID                      uuid.UUID              `json:"id"`
	Name                    string                 `json:"name"`
	SiteURL                 string                 `json:"site_url"`
	Username                string                 `json:"username"`
	AppPasswordCiphertext   string                 `json:"-"`
	UpdateIfExists          bool                   `json:"update_if_exists"`
	IncludeMedia            bool                   `json:"include_media"`
	SourceCategoryMappings  map[uuid.UUID]int      `json:"source_category_mappings,omitempty"`
	CreatedAt               time.Time              `json:"created_at"`
	UpdatedAt               time.Time              `json:"updated_at"`
}

// SystemSettings is the process-wide singleton row for AI/Instagram/feature-flag config.
type SystemSettings struct {
	ID                         uuid.UUID `json:"id"`
	AIProvider                 string    `json:"ai_provider,omitempty"`
	AIAPIKeyCiphertext         string    `json:"-"`
	InstagramDefaultScraper    *InstagramScraperType `json:"instagram_default_scraper,omitempty"`
	InstagramAllowOverride     bool      `json:"instagram_allow_override"`
	FeatureFlags               map[string]bool `json:"feature_flags,omitempty"`
	UpdatedAt                  time.Time `json:"updated_at"`
}
