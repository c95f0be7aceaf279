package export

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/queue"
)

// defaultWindowDays is the fallback export date window (spec §4.D's "compute date window
// (offset-based)") when a WordPress export schedule doesn't configure one.
const defaultWindowDays = 30

// wordPressRateLimitInterval paces WordPress uploads at roughly one every 500ms, per
// spec §4.J.
const wordPressRateLimitInterval = 500 * time.Millisecond

// ExportHandler adapts Engine to a watermill consumer for queue.TopicExport: a schedule's
// wordpress_export firing lands here, computes its date window, and runs synchronously to
// completion (export.Engine.Run, not Start — the job handler is already the async boundary).
type ExportHandler struct {
	engine *Engine
}

// NewExportHandler builds an ExportHandler over engine.
func NewExportHandler(engine *Engine) *ExportHandler {
	return &ExportHandler{engine: engine}
}

// Handle is a watermill message.NoPublishHandlerFunc for queue.TopicExport.
func (h *ExportHandler) Handle(msg *message.Message) error {
	var payload queue.ExportPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode export payload: %w", err)
	}

	windowDays := payload.WindowDays
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	now := time.Now()
	end := now.AddDate(0, 0, windowDays)

	req := Request{
		Filter: models.ExportFilter{
			StartDate: &now,
			EndDate:   &end,
			Status:    models.CanonicalStatus(payload.StatusFilter),
		},
		Format:              models.ExportWPRest,
		ScheduleID:          &payload.ScheduleID,
		WordPressSettingsID: &payload.WordPressSettingsID,
		RateLimitInterval:   wordPressRateLimitInterval,
	}

	_, err := h.engine.Run(msg.Context(), req)
	return err
}
