package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eventscrape/core/internal/models"
)

func mustInstant(t *testing.T, raw string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return ts
}

func TestClassify_AllDay(t *testing.T) {
	occType, recType := Classify(extras{IsAllDay: true}, []SeriesInstance{{Start: mustInstant(t, "2026-08-01T00:00:00Z")}})
	assert.Equal(t, models.OccurrenceAllDay, occType)
	assert.Equal(t, models.RecurrenceNone, recType)
}

func TestClassify_Virtual(t *testing.T) {
	occType, _ := Classify(extras{VirtualURL: "https://zoom.test/x"}, []SeriesInstance{{Start: mustInstant(t, "2026-08-01T00:00:00Z")}})
	assert.Equal(t, models.OccurrenceVirtual, occType)
}

func TestClassify_MultiDay(t *testing.T) {
	start := mustInstant(t, "2026-08-01T10:00:00Z")
	end := mustInstant(t, "2026-08-03T10:00:00Z")
	occType, recType := Classify(extras{}, []SeriesInstance{{Start: start, End: &end}})
	assert.Equal(t, models.OccurrenceMultiDay, occType)
	assert.Equal(t, models.RecurrenceNone, recType)
}

func TestClassify_Single(t *testing.T) {
	start := mustInstant(t, "2026-08-01T10:00:00Z")
	end := mustInstant(t, "2026-08-01T12:00:00Z")
	occType, _ := Classify(extras{}, []SeriesInstance{{Start: start, End: &end}})
	assert.Equal(t, models.OccurrenceSingle, occType)
}

func TestClassify_RecurringCadences(t *testing.T) {
	cases := []struct {
		name     string
		starts   []string
		wantType models.RecurrenceType
	}{
		{"daily", []string{"2026-08-01T10:00:00Z", "2026-08-02T10:00:00Z", "2026-08-03T10:00:00Z"}, models.RecurrenceDaily},
		{"weekly", []string{"2026-08-01T10:00:00Z", "2026-08-08T10:00:00Z", "2026-08-15T10:00:00Z"}, models.RecurrenceWeekly},
		{"monthly", []string{"2026-08-01T10:00:00Z", "2026-09-01T10:00:00Z", "2026-10-01T10:00:00Z"}, models.RecurrenceMonthly},
		{"custom", []string{"2026-08-01T10:00:00Z", "2026-08-04T10:00:00Z", "2026-08-06T10:00:00Z"}, models.RecurrenceCustom},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			instances := make([]SeriesInstance, len(tc.starts))
			for i, s := range tc.starts {
				instances[i] = SeriesInstance{Start: mustInstant(t, s)}
			}
			occType, recType := Classify(extras{}, instances)
			assert.Equal(t, models.OccurrenceRecurring, occType)
			assert.Equal(t, tc.wantType, recType)
		})
	}
}
