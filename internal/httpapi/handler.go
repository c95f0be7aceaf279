package httpapi

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/eventscrape/core/internal/export"
	"github.com/eventscrape/core/internal/logstream"
	"github.com/eventscrape/core/internal/match"
	"github.com/eventscrape/core/internal/runs"
	"github.com/eventscrape/core/internal/scheduler"
	"github.com/eventscrape/core/internal/scraper"
	"github.com/eventscrape/core/internal/store"
	"github.com/eventscrape/core/internal/streamstore"
)

// Handler holds every dependency the façade's resource-group handlers need. Its fields mirror
// the teacher's api.Handler{db, client, config, sync, startTime} shape, generalized from one
// data source + sync manager to this system's full component set.
type Handler struct {
	DB        *store.DB
	Streams   *streamstore.Store
	Runs      *runs.Registry
	Scheduler *scheduler.Scheduler
	Match     *match.Engine
	Export    *export.Engine
	Logs      *logstream.Hub
	Modules   *scraper.Registry
	Publisher message.Publisher

	ExportDir string
	startTime time.Time
}

// New builds a Handler. Call once at process startup and share it across every route.
func New(db *store.DB, streams *streamstore.Store, registry *runs.Registry, sched *scheduler.Scheduler,
	matchEngine *match.Engine, exportEngine *export.Engine, logs *logstream.Hub, modules *scraper.Registry,
	publisher message.Publisher, exportDir string) *Handler {
	return &Handler{
		DB:        db,
		Streams:   streams,
		Runs:      registry,
		Scheduler: sched,
		Match:     matchEngine,
		Export:    exportEngine,
		Logs:      logs,
		Modules:   modules,
		Publisher: publisher,
		ExportDir: exportDir,
		startTime: time.Now(),
	}
}
