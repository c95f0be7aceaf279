package export

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/eventscrape/core/internal/models"
)

// jsonEventDefault is the canonical per-event shape emitted when no field_map is supplied.
type jsonEventDefault struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Venue       string `json:"venue,omitempty"`
	City        string `json:"city,omitempty"`
	Organizer   string `json:"organizer,omitempty"`
	Category    string `json:"category,omitempty"`
	URL         string `json:"url,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// EncodeJSON writes `{"events": [...]}`. With a field_map, each event becomes
// `{header: value, ...}` keyed by the map's column headers; without one, each event uses the
// documented canonical shape (spec §4.J). Exports run over canonical (deduplicated) events, so
// Instagram-specific metadata — which lives only on raw events prior to merge — never appears
// in this output; see DESIGN.md.
func EncodeJSON(w io.Writer, events []*models.CanonicalEvent, fieldMap []FieldMapping) error {
	enc := json.NewEncoder(w)

	if len(fieldMap) > 0 {
		rows := make([]map[string]string, len(events))
		for i, e := range events {
			row := make(map[string]string, len(fieldMap))
			for _, fm := range fieldMap {
				v, err := fieldValue(e, fm.Key)
				if err != nil {
					return fmt.Errorf("event %s: %w", e.ID, err)
				}
				row[fm.Header] = v
			}
			rows[i] = row
		}
		return enc.Encode(map[string]any{"events": rows})
	}

	rows := make([]jsonEventDefault, len(events))
	for i, e := range events {
		rows[i] = canonicalToJSONDefault(e)
	}
	return enc.Encode(map[string]any{"events": rows})
}

func canonicalToJSONDefault(e *models.CanonicalEvent) jsonEventDefault {
	row := jsonEventDefault{
		ID:          e.ID.String(),
		Title:       e.Title,
		Description: e.Description,
		Start:       e.StartDatetime.UTC().Format(timeLayout),
		Timezone:    e.Timezone,
		Venue:       e.VenueName,
		City:        e.City,
		Organizer:   e.Organizer,
		Category:    e.Category,
		URL:         e.URL,
		ImageURL:    e.ImageURL,
	}
	if e.EndDatetime != nil {
		row.End = e.EndDatetime.UTC().Format(timeLayout)
	}
	return row
}
