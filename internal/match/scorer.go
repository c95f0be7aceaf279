// Package match is the duplicate-candidate engine (spec §4.I): it scores pairs of raw
// events observed from different sources and routes operator decisions (confirm/reject/
// merge) through to the canonical-event table.
package match

import (
	"net/url"
	"strings"
	"time"

	"github.com/eventscrape/core/internal/models"
)

// Scorer computes a duplicate-candidate score for a pair of raw events. Implementations
// must be monotone in agreement, symmetric (Score(a, b) == Score(b, a)), and idempotent
// (repeated calls on the same pair return the same result) — the exact similarity algorithm
// is explicitly out of scope per spec §4.I, only this contract is required.
type Scorer interface {
	Score(a, b *models.RawEvent) (float64, models.MatchReason)
}

// DefaultWindow is the default candidate-generation window Δ around a raw event's start
// time: [start-Δ, start+Δ].
const DefaultWindow = 24 * time.Hour

// DefaultThreshold is the minimum score at or above which a candidate pair is written as an
// open match.
const DefaultThreshold = 0.7

// WeightedScorer combines normalized title similarity, time proximity, venue similarity, and
// URL host equality into one [0,1] score. Weights and threshold are normative per spec's own
// note that the exact similarity algorithm is out of scope.
type WeightedScorer struct {
	WeightTitle float64
	WeightTime  float64
	WeightVenue float64
	WeightURL   float64
	Window      time.Duration
}

var _ Scorer = (*WeightedScorer)(nil)

// NewWeightedScorer builds a scorer with the default weights (title 0.4, time 0.3, venue
// 0.2, same-host 0.1) and the default candidate window.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{
		WeightTitle: 0.4,
		WeightTime:  0.3,
		WeightVenue: 0.2,
		WeightURL:   0.1,
		Window:      DefaultWindow,
	}
}

// Score implements Scorer.
func (s *WeightedScorer) Score(a, b *models.RawEvent) (float64, models.MatchReason) {
	titleSim := jaccardSimilarity(tokenize(a.Title), tokenize(b.Title))
	venueSim := jaccardSimilarity(tokenize(a.VenueName), tokenize(b.VenueName))
	timeProx := timeProximity(a.StartDatetime, b.StartDatetime, s.Window)
	sameHost := sameURLHost(a.URL, b.URL)

	urlComponent := 0.0
	if sameHost {
		urlComponent = 1.0
	}

	score := s.WeightTitle*titleSim + s.WeightTime*timeProx + s.WeightVenue*venueSim + s.WeightURL*urlComponent
	reason := models.MatchReason{
		TitleSimilarity: titleSim,
		TimeProximity:   timeProx,
		VenueSimilarity: venueSim,
		SameURLHost:     sameHost,
	}
	return score, reason
}

// timeProximity is 1 at zero gap, falling off linearly to 0 at window away.
func timeProximity(a, b time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	prox := 1 - float64(diff)/float64(window)
	if prox < 0 {
		return 0
	}
	return prox
}

func sameURLHost(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil || ua.Host == "" || ub.Host == "" {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host)
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// jaccardSimilarity is the |A∩B|/|A∪B| set similarity between two token lists.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, tok := range a {
		setA[tok] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, tok := range b {
		setB[tok] = struct{}{}
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
