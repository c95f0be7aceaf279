// Package streamstore is the stream-store component (spec §4.B): Redis-backed durable log
// lines, run-cancellation flags, and the repeatable-job registry, all read by
// internal/logstream, internal/runs, and internal/scheduler respectively.
package streamstore

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store wraps a go-redis client with the key conventions used across the pipeline.
type Store struct {
	rdb *redis.Client
}

// Open parses redisURL ("redis://host:port/db") and returns a connected Store.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func logStreamKey(runID uuid.UUID) string {
	return fmt.Sprintf("eventscrape:logstream:%s", runID)
}

func cancelFlagKey(runID uuid.UUID) string {
	return fmt.Sprintf("eventscrape:cancel:%s", runID)
}

const repeatableJobsKey = "eventscrape:schedules:repeatable"

// LogLine is one structured log entry appended to a run's stream, matching spec.md §4.F's
// wire shape exactly: {timestamp_ms, level (10/20/30/40/50), msg, source, raw?}.
type LogLine struct {
	TimestampMs int64           `json:"timestamp_ms"`
	Level       int             `json:"level"`
	Msg         string          `json:"msg"`
	Source      string          `json:"source"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// logLineRetention is the per-run stream cap: trimmed to the last 2,000 entries on each
// reader open, not on every append.
const logLineRetention = 2000

// AppendLogLine writes one line to the run's stream with no cap applied at write time.
func (s *Store) AppendLogLine(ctx context.Context, runID uuid.UUID, line LogLine) error {
	payload, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: logStreamKey(runID),
		Values: map[string]any{"data": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd log line: %w", err)
	}
	return nil
}

// TrimLogStream caps a run's stream to logLineRetention entries. Called once per reader open
// (replay or SSE connect), not on every append, per spec.
func (s *Store) TrimLogStream(ctx context.Context, runID uuid.UUID) error {
	if err := s.rdb.XTrimMaxLen(ctx, logStreamKey(runID), logLineRetention).Err(); err != nil {
		return fmt.Errorf("trim log stream: %w", err)
	}
	return nil
}

// ReplayLogLines trims the stream to retention, then returns up to limit historical lines for
// a run, oldest first.
func (s *Store) ReplayLogLines(ctx context.Context, runID uuid.UUID, limit int64) ([]LogLine, error) {
	if err := s.TrimLogStream(ctx, runID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	msgs, err := s.rdb.XRevRangeN(ctx, logStreamKey(runID), "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange log lines: %w", err)
	}
	out := make([]LogLine, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		line, err := decodeLogLine(msgs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

// TailLogLines blocks until new lines are appended after lastID (use "$" to start from now),
// returning the new lines and the stream ID to resume from on the next call. It is meant to
// be called in a loop by the SSE handler's goroutine.
func (s *Store) TailLogLines(ctx context.Context, runID uuid.UUID, lastID string, block time.Duration) ([]LogLine, string, error) {
	res, err := s.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{logStreamKey(runID), lastID},
		Block:   block,
		Count:   100,
	}).Result()
	if err == redis.Nil {
		return nil, lastID, nil
	}
	if err != nil {
		return nil, lastID, fmt.Errorf("xread log lines: %w", err)
	}
	if len(res) == 0 {
		return nil, lastID, nil
	}

	var out []LogLine
	resumeID := lastID
	for _, msg := range res[0].Messages {
		line, err := decodeLogLine(msg)
		if err != nil {
			return nil, lastID, err
		}
		out = append(out, line)
		resumeID = msg.ID
	}
	return out, resumeID, nil
}

func decodeLogLine(msg redis.XMessage) (LogLine, error) {
	var line LogLine
	raw, _ := msg.Values["data"].(string)
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return LogLine{}, fmt.Errorf("unmarshal log line %s: %w", msg.ID, err)
	}
	return line, nil
}

// SetCancelFlag marks a run as cancellation-requested. The worker polls HasCancelFlag at
// every safe checkpoint (spec §4.G). ttl bounds how long the flag survives a run that never
// checks it (e.g. already finished).
func (s *Store) SetCancelFlag(ctx context.Context, runID uuid.UUID, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, cancelFlagKey(runID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("set cancel flag: %w", err)
	}
	return nil
}

// HasCancelFlag reports whether a run has been asked to cancel.
func (s *Store) HasCancelFlag(ctx context.Context, runID uuid.UUID) (bool, error) {
	n, err := s.rdb.Exists(ctx, cancelFlagKey(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("check cancel flag: %w", err)
	}
	return n > 0, nil
}

// ClearCancelFlag removes a run's cancellation flag once it has terminated.
func (s *Store) ClearCancelFlag(ctx context.Context, runID uuid.UUID) error {
	if err := s.rdb.Del(ctx, cancelFlagKey(runID)).Err(); err != nil {
		return fmt.Errorf("clear cancel flag: %w", err)
	}
	return nil
}

// RegisterRepeatable records a schedule's repeat key -> cron expression mapping so a
// restarted scheduler can recover its registrations without re-reading every schedule row.
func (s *Store) RegisterRepeatable(ctx context.Context, repeatKey, cronExpr string) error {
	if err := s.rdb.HSet(ctx, repeatableJobsKey, repeatKey, cronExpr).Err(); err != nil {
		return fmt.Errorf("register repeatable job: %w", err)
	}
	return nil
}

// RemoveRepeatable deletes a repeat key's registration.
func (s *Store) RemoveRepeatable(ctx context.Context, repeatKey string) error {
	if err := s.rdb.HDel(ctx, repeatableJobsKey, repeatKey).Err(); err != nil {
		return fmt.Errorf("remove repeatable job: %w", err)
	}
	return nil
}

// ListRepeatables returns the full repeat-key -> cron-expression registry.
func (s *Store) ListRepeatables(ctx context.Context) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, repeatableJobsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list repeatable jobs: %w", err)
	}
	return m, nil
}
