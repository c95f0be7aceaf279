package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/logging"
	"github.com/eventscrape/core/internal/models"
)

// Store is the subset of *store.DB the export engine needs.
type Store interface {
	ListCanonicalEventsFiltered(ctx context.Context, f models.ExportFilter) ([]*models.CanonicalEvent, error)
	CreateExport(ctx context.Context, e *models.Export) (*models.Export, error)
	GetExport(ctx context.Context, id uuid.UUID) (*models.Export, error)
	CompleteExport(ctx context.Context, id uuid.UUID, status models.ExportStatus, itemCount int, filePath *string, errMsg *string) (*models.Export, error)
	MarkCanonicalExported(ctx context.Context, ids []uuid.UUID) error
	GetWordPressSettings(ctx context.Context, id uuid.UUID) (*models.WordPressSettings, error)
}

// Engine runs one export request end to end: query, encode (or upload), record the outcome.
type Engine struct {
	store     Store
	occSource WordPressOccurrenceSource
	outputDir string

	// cancels holds the cancel func for every export currently processing in the
	// background goroutine started by Start, keyed by export ID, so a later
	// Cancel call can reach it. Entries are removed once processing finishes.
	cancels sync.Map
}

// New builds an Engine writing file-format exports under outputDir.
func New(store Store, occSource WordPressOccurrenceSource, outputDir string) *Engine {
	return &Engine{store: store, occSource: occSource, outputDir: outputDir}
}

// Request describes one export invocation (spec §4.J): a filter, a target format, an optional
// field map for CSV/JSON, a schedule that triggered it (if any), and — for wp-rest — the
// configured WordPress site to upload to.
type Request struct {
	Filter              models.ExportFilter
	Format              models.ExportFormat
	FieldMap            []FieldMapping
	ScheduleID          *uuid.UUID
	WordPressSettingsID *uuid.UUID
	RateLimitInterval    time.Duration
}

// Run executes req and returns the recorded Export row. A per-event WordPress failure never
// fails the whole export (it is recorded as a "error" WPResult); the export's own status is
// "error" if the query or the encode/write step itself fails, or if a wp-rest export of a
// non-empty event set uploaded none of them. Used directly by the
// export-queue consumer, where the job handler is already the asynchronous boundary.
func (e *Engine) Run(ctx context.Context, req Request) (*models.Export, error) {
	exp, events, err := e.create(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.process(ctx, exp.ID, events, req)
}

// Start creates the export row and resolves its event set synchronously (so a caller gets an
// immediate error for a bad filter), then finishes processing in a detached goroutine and
// returns the still-"processing" row right away — the HTTP façade's `POST /exports` → `202`
// behavior (spec §4.K). The export row eventually reaches success/error asynchronously.
func (e *Engine) Start(ctx context.Context, req Request) (*models.Export, error) {
	exp, events, err := e.create(ctx, req)
	if err != nil {
		return nil, err
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	e.cancels.Store(exp.ID, cancel)
	go func() {
		defer func() {
			e.cancels.Delete(exp.ID)
			cancel()
		}()
		if _, err := e.process(bgCtx, exp.ID, events, req); err != nil {
			logging.Error().Err(err).Str("export_id", exp.ID.String()).Msg("async export failed")
		}
	}()
	return exp, nil
}

// Cancel requests cooperative cancellation of an in-flight export started via Start.
// A still-queued-for-upload/encode export stops at its next ctx check and is recorded
// as an error; an export that has already reached a terminal status is reported as a
// conflict rather than silently ignored.
func (e *Engine) Cancel(ctx context.Context, exportID uuid.UUID) error {
	exp, err := e.store.GetExport(ctx, exportID)
	if err != nil {
		return err
	}
	if exp.Status != models.ExportProcessing {
		return apperr.Conflict(fmt.Sprintf("export %s is already %s", exportID, exp.Status), nil)
	}
	if cancel, ok := e.cancels.Load(exportID); ok {
		cancel.(context.CancelFunc)()
		return nil
	}
	// No goroutine is tracking this export (e.g. it was started via the synchronous
	// Run path, used by the export-queue consumer). Record the cancellation directly.
	msg := "canceled by user"
	_, err = e.store.CompleteExport(ctx, exportID, models.ExportError, 0, nil, &msg)
	return err
}

func (e *Engine) create(ctx context.Context, req Request) (*models.Export, []*models.CanonicalEvent, error) {
	paramsJSON, err := json.Marshal(req.Filter)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal export params: %w", err)
	}
	exp, err := e.store.CreateExport(ctx, &models.Export{
		Format:     req.Format,
		Params:     paramsJSON,
		ScheduleID: req.ScheduleID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create export row: %w", err)
	}

	events, err := e.store.ListCanonicalEventsFiltered(ctx, req.Filter)
	if err != nil {
		_, failErr := e.fail(ctx, exp.ID, fmt.Errorf("query events: %w", err))
		return nil, nil, failErr
	}
	return exp, events, nil
}

func (e *Engine) process(ctx context.Context, exportID uuid.UUID, events []*models.CanonicalEvent, req Request) (*models.Export, error) {
	switch req.Format {
	case models.ExportWPRest:
		return e.runWordPress(ctx, exportID, events, req)
	default:
		return e.runFile(ctx, exportID, events, req)
	}
}

func (e *Engine) runFile(ctx context.Context, exportID uuid.UUID, events []*models.CanonicalEvent, req Request) (*models.Export, error) {
	if err := ctx.Err(); err != nil {
		return e.fail(ctx, exportID, err)
	}
	var buf bytes.Buffer
	var err error
	switch req.Format {
	case models.ExportCSV:
		err = EncodeCSV(&buf, events, req.FieldMap)
	case models.ExportJSON:
		err = EncodeJSON(&buf, events, req.FieldMap)
	case models.ExportICS:
		err = EncodeICS(&buf, events)
	default:
		err = fmt.Errorf("unsupported export format %q", req.Format)
	}
	if err != nil {
		return e.fail(ctx, exportID, fmt.Errorf("encode %s: %w", req.Format, err))
	}

	path, err := e.writeFile(exportID, req.Format, buf.Bytes())
	if err != nil {
		return e.fail(ctx, exportID, fmt.Errorf("write export file: %w", err))
	}

	if err := e.markExported(ctx, events); err != nil {
		return e.fail(ctx, exportID, err)
	}
	return e.store.CompleteExport(ctx, exportID, models.ExportSuccess, len(events), &path, nil)
}

func (e *Engine) runWordPress(ctx context.Context, exportID uuid.UUID, events []*models.CanonicalEvent, req Request) (*models.Export, error) {
	if req.WordPressSettingsID == nil {
		return e.fail(ctx, exportID, fmt.Errorf("wp-rest export requires wordpress_settings_id"))
	}
	settings, err := e.store.GetWordPressSettings(ctx, *req.WordPressSettingsID)
	if err != nil {
		return e.fail(ctx, exportID, fmt.Errorf("load wordpress settings: %w", err))
	}

	client := NewWordPressClient(settings, req.RateLimitInterval)
	summary, err := client.UploadAll(ctx, events, e.occSource)
	if err != nil {
		return e.fail(ctx, exportID, fmt.Errorf("wordpress upload: %w", err))
	}

	resultsJSON, err := json.Marshal(map[string]any{"wpResults": summary})
	if err != nil {
		return e.fail(ctx, exportID, fmt.Errorf("marshal wp results: %w", err))
	}

	status := models.ExportSuccess
	if summary.ItemCount == 0 && len(events) > 0 {
		status = models.ExportError
	}

	if status == models.ExportSuccess {
		if err := e.markExported(ctx, events); err != nil {
			return e.fail(ctx, exportID, err)
		}
	}

	exp, err := e.store.CompleteExport(ctx, exportID, status, summary.ItemCount, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("complete export: %w", err)
	}
	exp.Params = resultsJSON
	return exp, nil
}

func (e *Engine) markExported(ctx context.Context, events []*models.CanonicalEvent) error {
	ids := make([]uuid.UUID, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	if err := e.store.MarkCanonicalExported(ctx, ids); err != nil {
		return fmt.Errorf("mark canonical events exported: %w", err)
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, exportID uuid.UUID, cause error) (*models.Export, error) {
	msg := cause.Error()
	exp, completeErr := e.store.CompleteExport(ctx, exportID, models.ExportError, 0, nil, &msg)
	if completeErr != nil {
		return nil, fmt.Errorf("%w (and failed to record failure: %v)", cause, completeErr)
	}
	return exp, cause
}

func (e *Engine) writeFile(exportID uuid.UUID, format models.ExportFormat, data []byte) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s", exportID, format)
	path := filepath.Join(e.outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
