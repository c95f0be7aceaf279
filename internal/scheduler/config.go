// Package scheduler is the Scheduler component (spec §4.D): cron-driven schedule rows that
// materialize into repeatable jobs in the queue layer, with a per-schedule_type dispatch
// table and trigger-now support.
package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/models"
)

// ScheduleConfig is the discriminated union carried in a Schedule's Config JSON column — one
// concrete type per models.ScheduleType, implementing the REDESIGN FLAGS "explicit
// discriminated union instead of an untyped config blob."
type ScheduleConfig interface {
	Type() models.ScheduleType
}

// ScrapeCfg drives a recurring scrape of one source.
type ScrapeCfg struct {
	SourceID uuid.UUID `json:"source_id"`
}

func (ScrapeCfg) Type() models.ScheduleType { return models.ScheduleScrape }

// InstagramScope selects which Instagram sources a batch scrape covers.
type InstagramScope string

const (
	ScopeAllActive   InstagramScope = "all_active"
	ScopeAllInactive InstagramScope = "all_inactive"
	ScopeCustom      InstagramScope = "custom"
)

// InstagramScrapeCfg drives a recurring batch scrape across a set of Instagram sources.
// SourceIDs is only consulted when Scope is custom; an empty Scope defaults to custom so
// configs written before scope selection existed keep their meaning.
type InstagramScrapeCfg struct {
	Scope     InstagramScope `json:"scope,omitempty"`
	SourceIDs []uuid.UUID    `json:"source_ids,omitempty"`
}

func (InstagramScrapeCfg) Type() models.ScheduleType { return models.ScheduleInstagramScrape }

// WordPressExportCfg drives a recurring WordPress REST export. WindowDays computes the
// export's date window as [now, now+WindowDays] at fire time (spec §4.D's "compute date
// window (offset-based)"); 0 defaults to 30 days.
type WordPressExportCfg struct {
	WordPressSettingsID uuid.UUID              `json:"wordpress_settings_id"`
	FieldMap            json.RawMessage        `json:"field_map,omitempty"`
	StatusFilter        models.CanonicalStatus `json:"status_filter,omitempty"`
	WindowDays          int                    `json:"window_days,omitempty"`
}

func (WordPressExportCfg) Type() models.ScheduleType { return models.ScheduleWordPressExport }

// DecodeConfig unmarshals a Schedule's raw Config column into the concrete ScheduleConfig
// matching its ScheduleType.
func DecodeConfig(scheduleType models.ScheduleType, raw json.RawMessage) (ScheduleConfig, error) {
	switch scheduleType {
	case models.ScheduleScrape:
		var c ScrapeCfg
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode scrape config: %w", err)
		}
		return c, nil
	case models.ScheduleInstagramScrape:
		var c InstagramScrapeCfg
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode instagram scrape config: %w", err)
		}
		return c, nil
	case models.ScheduleWordPressExport:
		var c WordPressExportCfg
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode wordpress export config: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown schedule type %q", scheduleType)
	}
}

// EncodeConfig is the inverse of DecodeConfig, used when persisting a new or updated
// schedule's Config column.
func EncodeConfig(cfg ScheduleConfig) (json.RawMessage, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode schedule config: %w", err)
	}
	return b, nil
}
