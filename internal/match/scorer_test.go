package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eventscrape/core/internal/models"
)

func rawEvent(title, venue, urlStr string, start time.Time) *models.RawEvent {
	return &models.RawEvent{Title: title, VenueName: venue, URL: urlStr, StartDatetime: start}
}

func TestWeightedScorer_Symmetric(t *testing.T) {
	s := NewWeightedScorer()
	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	a := rawEvent("Jazz Night at the Blue Room", "The Blue Room", "https://venue.test/e/1", base)
	b := rawEvent("Jazz Night — Blue Room", "Blue Room", "https://venue.test/e/1", base.Add(10*time.Minute))

	scoreAB, _ := s.Score(a, b)
	scoreBA, _ := s.Score(b, a)
	assert.InDelta(t, scoreAB, scoreBA, 1e-9)
}

func TestWeightedScorer_IdenticalEventsScoreHigh(t *testing.T) {
	s := NewWeightedScorer()
	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	a := rawEvent("Jazz Night", "The Blue Room", "https://venue.test/e/1", base)
	b := rawEvent("Jazz Night", "The Blue Room", "https://venue.test/e/1", base)

	score, reason := s.Score(a, b)
	assert.GreaterOrEqual(t, score, DefaultThreshold)
	assert.Equal(t, 1.0, reason.TitleSimilarity)
	assert.True(t, reason.SameURLHost)
}

func TestWeightedScorer_UnrelatedEventsScoreLow(t *testing.T) {
	s := NewWeightedScorer()
	a := rawEvent("Jazz Night", "The Blue Room", "https://venue-a.test/e/1", time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC))
	b := rawEvent("Farmers Market", "City Square", "https://venue-b.test/e/2", time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC))

	score, _ := s.Score(a, b)
	assert.Less(t, score, DefaultThreshold)
}

func TestWeightedScorer_MonotoneInTimeGap(t *testing.T) {
	s := NewWeightedScorer()
	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	near := rawEvent("Jazz Night", "The Blue Room", "https://venue.test/e/1", base.Add(1*time.Hour))
	far := rawEvent("Jazz Night", "The Blue Room", "https://venue.test/e/1", base.Add(20*time.Hour))
	anchor := rawEvent("Jazz Night", "The Blue Room", "https://venue.test/e/1", base)

	scoreNear, _ := s.Score(anchor, near)
	scoreFar, _ := s.Score(anchor, far)
	assert.Greater(t, scoreNear, scoreFar)
}

func TestJaccardSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, jaccardSimilarity([]string{"a", "b"}, []string{"b", "a"}))
	assert.Equal(t, 0.0, jaccardSimilarity([]string{"a"}, []string{"b"}))
	assert.Equal(t, 0.0, jaccardSimilarity(nil, nil))
}
