package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawContentHash_StableUnderSurroundingWhitespace(t *testing.T) {
	a := RawContentHash("Jazz Night ", "  A description", "2026-08-01T20:00:00Z", "", "The Blue Room", "", "Austin", "", "", "", "", "", "https://example.test/e/1", "")
	b := RawContentHash("Jazz Night", "A description", "2026-08-01T20:00:00Z", "", "The Blue Room", "", "Austin", "", "", "", "", "", "https://example.test/e/1", "")
	assert.Equal(t, a, b, "leading/trailing whitespace must not change the content hash")
	assert.Len(t, a, 64)
}

func TestRawContentHash_DiffersOnMeaningfulChange(t *testing.T) {
	a := RawContentHash("Jazz Night", "", "2026-08-01T20:00:00Z", "", "", "", "", "", "", "", "", "", "", "")
	b := RawContentHash("Jazz Night (Rescheduled)", "", "2026-08-01T20:00:00Z", "", "", "", "", "", "", "", "", "", "", "")
	assert.NotEqual(t, a, b)
}

func TestSeriesContentHash_Length(t *testing.T) {
	h := SeriesContentHash("Title", "Desc", "Venue", "Address", "Organizer", "Category")
	assert.Len(t, h, 32)
}

func TestOccurrenceHash_StableAndUnique(t *testing.T) {
	h1 := OccurrenceHash("series-a", "2026-08-01T20:00:00Z", "")
	h2 := OccurrenceHash("series-a", "2026-08-01T20:00:00Z", "")
	h3 := OccurrenceHash("series-a", "2026-08-08T20:00:00Z", "")
	assert.Len(t, h1, 16)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}
