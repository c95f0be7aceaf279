package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscrape/core/internal/models"
)

func sampleCanonical() *models.CanonicalEvent {
	return &models.CanonicalEvent{
		ID:            uuid.MustParse("00000000-0000-0000-0000-000000000042"),
		Title:         `Jazz, "Late" Night`,
		Description:   "plain description",
		StartDatetime: time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC),
		VenueName:     "Blue Room",
		City:          "Portland",
	}
}

func TestEncodeCSV_QuotingRules(t *testing.T) {
	var buf bytes.Buffer
	fieldMap := []FieldMapping{{Key: "title", Header: "Title"}, {Key: "city", Header: "City"}}
	require.NoError(t, EncodeCSV(&buf, []*models.CanonicalEvent{sampleCanonical()}, fieldMap))

	out := buf.String()
	assert.False(t, strings.Contains(out, "\r\n"), "CSV must use LF line endings, not CRLF")
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Title,City", lines[0])
	assert.Equal(t, `"Jazz, ""Late"" Night",Portland`, lines[1])
}

func TestEncodeCSV_NoFieldMapUsesDefaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, []*models.CanonicalEvent{sampleCanonical()}, nil))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Equal(t, "id,title,description,start,end,timezone,venue,city,organizer,category,url,imageUrl", lines[0])
}

func TestCSVQuote_NewlineTriggersQuoting(t *testing.T) {
	assert.Equal(t, "\"a\nb\"", csvQuote("a\nb"))
	assert.Equal(t, "plain", csvQuote("plain"))
}
