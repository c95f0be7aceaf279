package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventTime_RFC3339(t *testing.T) {
	got, err := ParseEventTime("2025-02-10T19:00:00-08:00", "America/Vancouver")
	require.NoError(t, err)

	want := time.Date(2025, 2, 10, 19, 0, 0, 0, time.FixedZone("", -8*3600))
	assert.True(t, got.Equal(want))
}

func TestParseEventTime_BareLocalInSourceTimezone(t *testing.T) {
	got, err := ParseEventTime("2025-02-10 19:00", "America/Vancouver")
	require.NoError(t, err)

	loc, err := time.LoadLocation("America/Vancouver")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 2, 10, 19, 0, 0, 0, loc)))
}

func TestParseEventTime_DateOnly(t *testing.T) {
	got, err := ParseEventTime("2025-03-01", "UTC")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParseEventTime_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	got, err := ParseEventTime("2025-02-10 19:00", "Not/AZone")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 2, 10, 19, 0, 0, 0, time.UTC)))
}

func TestParseEventTime_Rejects(t *testing.T) {
	for _, raw := range []string{"", "next tuesday", "02/10/2025"} {
		_, err := ParseEventTime(raw, "UTC")
		assert.Error(t, err, "input %q must be rejected", raw)
	}
}
