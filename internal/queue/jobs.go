package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// JobState names the lifecycle states of a job bookkeeping row in the relational store's jobs
// table. Neither Enqueue nor the Router writes those rows, and the HTTP façade has no
// job-status route, so job state is not tracked for jobs published through this package.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDead      JobState = "dead" // moved to the poison queue after exhausting retries
)

// ScrapePayload is the body of a job on TopicScrape or TopicInstagramScrape.
type ScrapePayload struct {
	RunID    uuid.UUID `json:"run_id"`
	SourceID uuid.UUID `json:"source_id"`
}

// MatchPayload is the body of a job on TopicMatch: re-run candidate generation over a window.
type MatchPayload struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	City string    `json:"city,omitempty"`
}

// SchedulePayload is the body of a job on TopicSchedule: a cron tick firing a schedule.
type SchedulePayload struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
}

// ExportPayload is the body of a job on TopicExport: a scheduled WordPress export.
type ExportPayload struct {
	ScheduleID          uuid.UUID `json:"schedule_id"`
	WordPressSettingsID uuid.UUID `json:"wordpress_settings_id"`
	StatusFilter        string    `json:"status_filter,omitempty"`
	WindowDays          int       `json:"window_days,omitempty"`
}

// Enqueue publishes a payload to topic with a fresh message UUID, returning that UUID as the
// job ID. It records no job row, so store.GetJob returns NotFound for that ID.
func Enqueue(ctx context.Context, pub message.Publisher, topic string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	msg := message.NewMessage(uuid.New().String(), body)
	if err := pub.Publish(topic, msg); err != nil {
		return "", fmt.Errorf("publish job to %s: %w", topic, err)
	}
	return msg.UUID, nil
}
