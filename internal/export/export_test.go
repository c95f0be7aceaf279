package export

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
)

// fakeExportStore is guarded by mu since TestEngine_Cancel_InFlightWordPressExport_StopsAndRecordsError
// drives Engine.Start's background goroutine concurrently with the test goroutine's Cancel/GetExport calls.
type fakeExportStore struct {
	mu          sync.Mutex
	events      []*models.CanonicalEvent
	exports     map[uuid.UUID]*models.Export
	wpSettings  map[uuid.UUID]*models.WordPressSettings
	exportedIDs []uuid.UUID
}

func newFakeExportStore() *fakeExportStore {
	return &fakeExportStore{
		exports:    make(map[uuid.UUID]*models.Export),
		wpSettings: make(map[uuid.UUID]*models.WordPressSettings),
	}
}

func (f *fakeExportStore) ListCanonicalEventsFiltered(ctx context.Context, filter models.ExportFilter) ([]*models.CanonicalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events, nil
}

func (f *fakeExportStore) CreateExport(ctx context.Context, e *models.Export) (*models.Export, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Status = models.ExportProcessing
	f.exports[e.ID] = e
	return e, nil
}

func (f *fakeExportStore) GetExport(ctx context.Context, id uuid.UUID) (*models.Export, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exports[id]
	if !ok {
		return nil, apperr.NotFound("export", id)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExportStore) CompleteExport(ctx context.Context, id uuid.UUID, status models.ExportStatus, itemCount int, filePath *string, errMsg *string) (*models.Export, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.exports[id]
	e.Status = status
	e.ItemCount = itemCount
	e.FilePath = filePath
	e.ErrorMessage = errMsg
	cp := *e
	return &cp, nil
}

func (f *fakeExportStore) MarkCanonicalExported(ctx context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportedIDs = append(f.exportedIDs, ids...)
	return nil
}

func (f *fakeExportStore) GetWordPressSettings(ctx context.Context, id uuid.UUID) (*models.WordPressSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wpSettings[id], nil
}

var _ Store = (*fakeExportStore)(nil)

type fakeOccurrenceSource struct{}

func (fakeOccurrenceSource) OccurrencesForCanonical(ctx context.Context, c *models.CanonicalEvent) ([]time.Time, uuid.UUID, error) {
	return []time.Time{c.StartDatetime}, uuid.Nil, nil
}

func TestEngine_RunCSV_WritesFileAndMarksExported(t *testing.T) {
	dir := t.TempDir()
	store := newFakeExportStore()
	store.events = []*models.CanonicalEvent{sampleCanonical()}
	engine := New(store, fakeOccurrenceSource{}, dir)

	exp, err := engine.Run(context.Background(), Request{Format: models.ExportCSV})
	require.NoError(t, err)
	assert.Equal(t, models.ExportSuccess, exp.Status)
	assert.Equal(t, 1, exp.ItemCount)
	require.NotNil(t, exp.FilePath)

	data, err := os.ReadFile(*exp.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Jazz")
	assert.ElementsMatch(t, []uuid.UUID{sampleCanonical().ID}, store.exportedIDs)
}

func TestEngine_RunWithUnknownFormat_RecordsFailure(t *testing.T) {
	dir := t.TempDir()
	store := newFakeExportStore()
	store.events = []*models.CanonicalEvent{sampleCanonical()}
	engine := New(store, fakeOccurrenceSource{}, dir)

	exp, err := engine.Run(context.Background(), Request{Format: models.ExportFormat("xml")})
	require.Error(t, err)
	require.NotNil(t, exp)
	assert.Equal(t, models.ExportError, exp.Status)
	assert.NotNil(t, exp.ErrorMessage)
}

func TestEngine_RunEmptyFilter_ZeroEventsStillSucceeds(t *testing.T) {
	dir := t.TempDir()
	store := newFakeExportStore()
	engine := New(store, fakeOccurrenceSource{}, dir)

	exp, err := engine.Run(context.Background(), Request{Format: models.ExportJSON})
	require.NoError(t, err)
	assert.Equal(t, models.ExportSuccess, exp.Status)
	assert.Equal(t, 0, exp.ItemCount)
}

func TestEngine_Cancel_UnknownExport_ReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	engine := New(newFakeExportStore(), fakeOccurrenceSource{}, dir)

	err := engine.Cancel(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestEngine_Cancel_AlreadyFinishedExport_ReturnsConflict(t *testing.T) {
	dir := t.TempDir()
	store := newFakeExportStore()
	engine := New(store, fakeOccurrenceSource{}, dir)

	exp, err := engine.Run(context.Background(), Request{Format: models.ExportJSON})
	require.NoError(t, err)
	require.Equal(t, models.ExportSuccess, exp.Status)

	err = engine.Cancel(context.Background(), exp.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestEngine_Cancel_InFlightWordPressExport_StopsAndRecordsError(t *testing.T) {
	dir := t.TempDir()
	var counter int32
	srv := newTestWPServer(t, nil, &counter)
	defer srv.Close()

	store := newFakeExportStore()
	store.events = []*models.CanonicalEvent{testCanonicalEvent(), testCanonicalEvent()}
	settingsID := uuid.New()
	store.wpSettings[settingsID] = &models.WordPressSettings{Name: "test", SiteURL: srv.URL, UpdateIfExists: true}
	engine := New(store, fakeOccurrenceSource{}, dir)

	exp, err := engine.Start(context.Background(), Request{
		Format:              models.ExportWPRest,
		WordPressSettingsID: &settingsID,
		RateLimitInterval:   200 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, models.ExportProcessing, exp.Status)

	cancelErr := engine.Cancel(context.Background(), exp.ID)
	require.NoError(t, cancelErr)

	require.Eventually(t, func() bool {
		got, _ := store.GetExport(context.Background(), exp.ID)
		return got.Status == models.ExportError
	}, time.Second, 5*time.Millisecond)
}
