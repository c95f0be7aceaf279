package match

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/eventscrape/core/internal/queue"
)

// MatchHandler adapts Engine to a watermill consumer for queue.TopicMatch: a (from, to, city)
// window re-run of candidate generation, fired after an ingestion batch or on a periodic
// schedule rather than only synchronously from the HTTP façade's /api/matches/generate.
type MatchHandler struct {
	engine *Engine
}

// NewMatchHandler builds a MatchHandler over engine.
func NewMatchHandler(engine *Engine) *MatchHandler {
	return &MatchHandler{engine: engine}
}

// Handle is a watermill message.NoPublishHandlerFunc for queue.TopicMatch.
func (h *MatchHandler) Handle(msg *message.Message) error {
	var payload queue.MatchPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode match payload: %w", err)
	}

	from, to := payload.From, payload.To
	if to.Before(from) {
		from, to = to, from
	}
	if from.IsZero() && to.IsZero() {
		to = time.Now()
		from = to.Add(-DefaultWindow)
	}

	center := from.Add(to.Sub(from) / 2)
	window := to.Sub(from) / 2
	if window <= 0 {
		window = DefaultWindow
	}

	_, err := h.engine.GenerateCandidates(msg.Context(), center, window, payload.City)
	return err
}
