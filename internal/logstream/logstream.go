// Package logstream is the log stream component (spec §4.F): a per-run SSE fan-out hub
// backed by the stream store's Redis Streams, adapted from internal/websocket/hub.go's
// broadcast-hub shape (Register/Unregister channels, priority-select loop). Unlike the
// teacher's websocket hub this carries no upgrade handshake and no gorilla/websocket
// dependency — spec.md §4.F and §6 specify Server-Sent Events, not a bidirectional
// websocket, so that dependency is deliberately not carried (see DESIGN.md).
package logstream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/logging"
	"github.com/eventscrape/core/internal/streamstore"
)

// ReplayLimit bounds a single connect-time replay, per spec.md §4.F.
const ReplayLimit = 1000

// HeartbeatInterval is how often an idle SSE connection gets a heartbeat comment line.
const HeartbeatInterval = 15 * time.Second

// tailBlock is the XREAD BLOCK window used by the hub's per-run tailer goroutine.
const tailBlock = 5 * time.Second

// EventType distinguishes the three SSE payload shapes a client may receive.
type EventType string

const (
	EventConnected EventType = "connected"
	EventLog       EventType = "log"
	EventHeartbeat EventType = "heartbeat"
)

// Event is one SSE frame.
type Event struct {
	Type EventType
	Line *streamstore.LogLine
}

// Client is one subscriber to a single run's live tail.
type Client struct {
	id    uint64
	RunID uuid.UUID
	send  chan Event
}

// Send exposes the client's receive channel to the HTTP handler driving the SSE response.
func (c *Client) Send() <-chan Event { return c.send }

// runTailer is the shared state for one run with at least one connected client: a goroutine
// blocking on XREAD so N concurrent viewers of the same run share one Redis reader.
type runTailer struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
}

// Streams is the subset of internal/streamstore's *Store the hub reads: connect-time replay
// and the blocking tail. Narrowed to an interface so tests can drive the hub without Redis.
type Streams interface {
	ReplayLogLines(ctx context.Context, runID uuid.UUID, limit int64) ([]streamstore.LogLine, error)
	TailLogLines(ctx context.Context, runID uuid.UUID, lastID string, block time.Duration) ([]streamstore.LogLine, string, error)
}

// Hub fans out one run's live log tail to any number of connected SSE clients.
type Hub struct {
	store Streams

	mu     sync.Mutex
	runs   map[uuid.UUID]*runTailer
	runCtx context.Context
	nextID uint64

	Unregister chan *Client
}

// NewHub builds a Hub over the given stream store.
func NewHub(store Streams) *Hub {
	return &Hub{
		store:      store,
		runs:       make(map[uuid.UUID]*runTailer),
		Unregister: make(chan *Client),
	}
}

// Subscribe replays up to ReplayLimit historical lines for runID, then registers a client for
// the run's live tail, returning the client for the caller to read Send() from and eventually
// pass to Unregister. replay is returned oldest-first, matching the historical range API.
// Registration completes before Subscribe returns, so no line broadcast after the replay is
// missed by the new client.
func (h *Hub) Subscribe(ctx context.Context, runID uuid.UUID) (*Client, []streamstore.LogLine, error) {
	replay, err := h.store.ReplayLogLines(ctx, runID, ReplayLimit)
	if err != nil {
		return nil, nil, err
	}
	h.mu.Lock()
	h.nextID++
	client := &Client{id: h.nextID, RunID: runID, send: make(chan Event, 64)}
	h.mu.Unlock()
	h.addClient(client)
	return client, replay, nil
}

// Run starts the hub's dispatch loop, blocking until ctx is canceled. Designed for supervised
// operation alongside the worker/API process lifecycle. Tailer goroutines for runs subscribed
// to after startup inherit this ctx, so shutdown tears every tailer down.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	h.runCtx = ctx
	h.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case client := <-h.Unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.runs[client.RunID]
	if !ok {
		parent := h.runCtx
		if parent == nil {
			parent = context.Background()
		}
		tailCtx, cancel := context.WithCancel(parent)
		t = &runTailer{clients: make(map[*Client]bool), cancel: cancel}
		h.runs[client.RunID] = t
		go h.tailRun(tailCtx, client.RunID, t)
	}
	t.clients[client] = true
	logging.Debug().Str("run_id", client.RunID.String()).Int("clients", len(t.clients)).Msg("logstream client registered")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.runs[client.RunID]
	if !ok {
		return
	}
	if _, ok := t.clients[client]; ok {
		delete(t.clients, client)
		close(client.send)
	}
	if len(t.clients) == 0 {
		t.cancel()
		delete(h.runs, client.RunID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	runIDs := make([]uuid.UUID, 0, len(h.runs))
	for id := range h.runs {
		runIDs = append(runIDs, id)
	}
	sort.Slice(runIDs, func(i, j int) bool { return runIDs[i].String() < runIDs[j].String() })

	for _, id := range runIDs {
		t := h.runs[id]
		t.cancel()
		for c := range t.clients {
			close(c.send)
		}
	}
	h.runs = make(map[uuid.UUID]*runTailer)
	logging.Info().Msg("logstream hub stopped")
}

// broadcast delivers one event to every client currently attached to runID, dropping it for
// any client whose buffer is full rather than blocking the tailer goroutine.
func (h *Hub) broadcast(runID uuid.UUID, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.runs[runID]
	if !ok {
		return
	}
	clients := make([]*Client, 0, len(t.clients))
	for c := range t.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, c := range clients {
		select {
		case c.send <- ev:
		default:
			logging.Warn().Str("run_id", runID.String()).Msg("logstream client buffer full, dropping event")
		}
	}
}

// tailRun blocks on XREAD against the run's stream, broadcasting new lines as they arrive and
// a heartbeat whenever HeartbeatInterval elapses without one. Runs until ctx is canceled, which
// happens when the last client for this run disconnects.
func (h *Hub) tailRun(ctx context.Context, runID uuid.UUID, t *runTailer) {
	lastID := "$"
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lines, resumeID, err := h.store.TailLogLines(ctx, runID, lastID, tailBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn().Err(err).Str("run_id", runID.String()).Msg("logstream tail read failed")
			time.Sleep(time.Second)
			continue
		}
		lastID = resumeID

		if len(lines) == 0 {
			select {
			case <-heartbeat.C:
				h.broadcast(runID, Event{Type: EventHeartbeat})
			default:
			}
			continue
		}

		for i := range lines {
			h.broadcast(runID, Event{Type: EventLog, Line: &lines[i]})
		}
		heartbeat.Reset(HeartbeatInterval)
	}
}
