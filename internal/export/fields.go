// Package export is the filter-driven fan-out engine (spec §4.J): a canonical-event query
// feeds a format encoder (CSV/JSON/ICS) or the WordPress REST client.
package export

import (
	"fmt"

	"github.com/eventscrape/core/internal/models"
)

// FieldMapping pins one logical field to an output column header, in emission order. A nil/
// empty FieldMap falls back to each encoder's canonical default shape.
type FieldMapping struct {
	Key    string
	Header string
}

// DefaultJSONFields is the documented canonical field list for JSON export when no field_map
// is supplied (spec §4.J): id, title, description, start, end, timezone, venue, city,
// organizer, category, url, imageUrl.
var DefaultJSONFields = []string{
	"id", "title", "description", "start", "end", "timezone", "venue", "city",
	"organizer", "category", "url", "imageUrl",
}

// fieldValue pulls one logical field out of a canonical event as its string representation.
func fieldValue(c *models.CanonicalEvent, key string) (string, error) {
	switch key {
	case "id":
		return c.ID.String(), nil
	case "title":
		return c.Title, nil
	case "description":
		return c.Description, nil
	case "start":
		return c.StartDatetime.UTC().Format(timeLayout), nil
	case "end":
		if c.EndDatetime == nil {
			return "", nil
		}
		return c.EndDatetime.UTC().Format(timeLayout), nil
	case "timezone":
		return c.Timezone, nil
	case "venue":
		return c.VenueName, nil
	case "city":
		return c.City, nil
	case "organizer":
		return c.Organizer, nil
	case "category":
		return c.Category, nil
	case "url":
		return c.URL, nil
	case "imageUrl":
		return c.ImageURL, nil
	default:
		return "", fmt.Errorf("unknown export field %q", key)
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
