package match

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/eventscrape/core/internal/queue"
)

func TestMatchHandler_GeneratesCandidatesForWindow(t *testing.T) {
	store := newFakeMatchStore()
	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)

	a := rawEvent("Jazz Night at the Blue Room", "The Blue Room", "https://venue.test/e/1", base)
	a.SourceID = uuid.New()
	b := rawEvent("Jazz Night — Blue Room", "Blue Room", "https://venue.test/e/1", base.Add(10*time.Minute))
	b.SourceID = uuid.New()
	store.addRaw(a)
	store.addRaw(b)

	engine := New(store, NewWeightedScorer(), DefaultThreshold)
	handler := NewMatchHandler(engine)

	payload := queue.MatchPayload{From: base.Add(-2 * time.Hour), To: base.Add(2 * time.Hour)}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	msg := message.NewMessage(uuid.NewString(), body)
	msg.SetContext(context.Background())

	require.NoError(t, handler.Handle(msg))
	require.Len(t, store.matches, 1)
}

func TestMatchHandler_DefaultsWindowWhenPayloadEmpty(t *testing.T) {
	store := newFakeMatchStore()
	engine := New(store, NewWeightedScorer(), DefaultThreshold)
	handler := NewMatchHandler(engine)

	msg := message.NewMessage(uuid.NewString(), []byte("{}"))
	msg.SetContext(context.Background())

	require.NoError(t, handler.Handle(msg))
}

func TestMatchHandler_InvalidPayloadReturnsError(t *testing.T) {
	store := newFakeMatchStore()
	engine := New(store, NewWeightedScorer(), DefaultThreshold)
	handler := NewMatchHandler(engine)

	msg := message.NewMessage(uuid.NewString(), []byte("not json"))
	msg.SetContext(context.Background())

	require.Error(t, handler.Handle(msg))
}
