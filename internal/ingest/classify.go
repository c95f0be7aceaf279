package ingest

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/eventscrape/core/internal/models"
)

// SeriesInstance is one concrete date pair a raw event's series spans, replacing the
// untyped "seriesDates" JSON blob with a value type the rest of the ingestion core can
// reason about directly (REDESIGN FLAGS).
type SeriesInstance struct {
	Start time.Time
	End   *time.Time
}

// extras is the subset of a scraper.RawEvent's raw passthrough JSON that classification and
// series-instance extraction care about. Fields absent from raw are simply zero values.
type extras struct {
	IsAllDay    bool             `json:"isAllDay,omitempty"`
	VirtualURL  string           `json:"virtualUrl,omitempty"`
	SeriesDates []seriesDateJSON `json:"seriesDates,omitempty"`
}

type seriesDateJSON struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// parseExtras decodes raw, tolerating an absent or empty payload.
func parseExtras(raw json.RawMessage) extras {
	var e extras
	if len(raw) == 0 {
		return e
	}
	_ = json.Unmarshal(raw, &e)
	return e
}

// Classify determines a series' OccurrenceType and RecurrenceType from its raw passthrough
// data and the concrete instances already parsed out of it (spec §4.H).
//
//   - isAllDay true             -> all_day
//   - a virtualUrl is present    -> virtual
//   - more than one instance     -> recurring, with cadence inferred from the modal gap
//     between consecutive start dates
//   - one instance spanning more than 24h -> multi_day
//   - otherwise                  -> single
func Classify(e extras, instances []SeriesInstance) (models.OccurrenceType, models.RecurrenceType) {
	switch {
	case e.IsAllDay:
		return models.OccurrenceAllDay, models.RecurrenceNone
	case e.VirtualURL != "":
		return models.OccurrenceVirtual, models.RecurrenceNone
	}
	if len(instances) > 1 {
		return models.OccurrenceRecurring, inferCadence(instances)
	}
	if len(instances) == 1 && instances[0].End != nil && instances[0].End.Sub(instances[0].Start) > 24*time.Hour {
		return models.OccurrenceMultiDay, models.RecurrenceNone
	}
	return models.OccurrenceSingle, models.RecurrenceNone
}

// inferCadence picks the most common gap (in whole days) between consecutive, time-sorted
// instance starts and maps it to the nearest named cadence.
func inferCadence(instances []SeriesInstance) models.RecurrenceType {
	if len(instances) < 2 {
		return models.RecurrenceNone
	}
	sorted := make([]SeriesInstance, len(instances))
	copy(sorted, instances)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	gapCounts := make(map[int]int)
	for i := 1; i < len(sorted); i++ {
		days := int(sorted[i].Start.Sub(sorted[i-1].Start).Hours() / 24)
		gapCounts[days]++
	}
	modalDays, modalCount := 0, 0
	for days, count := range gapCounts {
		if count > modalCount {
			modalDays, modalCount = days, count
		}
	}
	switch {
	case modalDays == 1:
		return models.RecurrenceDaily
	case modalDays == 7:
		return models.RecurrenceWeekly
	case modalDays >= 28 && modalDays <= 31:
		return models.RecurrenceMonthly
	case modalDays >= 365 && modalDays <= 366:
		return models.RecurrenceYearly
	default:
		return models.RecurrenceCustom
	}
}
