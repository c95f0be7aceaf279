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

func TestEncodeICS_TwoEventsOneWithNoEnd(t *testing.T) {
	start1 := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	end1 := start1.Add(2 * time.Hour)
	e1 := &models.CanonicalEvent{
		ID:            uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Title:         "Jazz Night",
		StartDatetime: start1,
		EndDatetime:   &end1,
	}
	start2 := time.Date(2026, 8, 2, 18, 0, 0, 0, time.UTC)
	e2 := &models.CanonicalEvent{
		ID:            uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		Title:         "Open Mic, Night Two",
		StartDatetime: start2,
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeICS(&buf, []*models.CanonicalEvent{e1, e2}))
	out := buf.String()

	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
	assert.Equal(t, 2, strings.Count(out, "END:VEVENT"))
	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR\r\n"))
	assert.Contains(t, out, "DTSTART:20260801T200000Z\r\n")
	assert.Contains(t, out, "DTEND:20260801T220000Z\r\n")
	// e2 has no EndDatetime: DTEND defaults to start + 1h
	assert.Contains(t, out, "DTSTART:20260802T180000Z\r\n")
	assert.Contains(t, out, "DTEND:20260802T190000Z\r\n")
	assert.Contains(t, out, "SUMMARY:Open Mic\\, Night Two\r\n")
	assert.NotContains(t, out, "LOCATION:")
	assert.NotContains(t, out, "DESCRIPTION:")
}

func TestEscapeICS(t *testing.T) {
	assert.Equal(t, `a\,b\;c\\d\ne`, escapeICS("a,b;c\\d\ne"))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "hello world", stripHTML("hello <b>world</b>"))
}
