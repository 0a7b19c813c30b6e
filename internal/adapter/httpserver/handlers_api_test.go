package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpulse/projectpulse/internal/adapter/metrics"
	"github.com/projectpulse/projectpulse/internal/domain"
	apperrors "github.com/projectpulse/projectpulse/internal/errors"
	"github.com/projectpulse/projectpulse/internal/platform/config"
	"github.com/projectpulse/projectpulse/internal/realtime"
)

// memoryStore is an in-memory ProjectStore plus ProjectCreator for handler
// tests.
type memoryStore struct {
	mu       sync.Mutex
	projects map[string]*domain.Project
	updates  map[string][]domain.ProgressEntry
	reports  map[string]json.RawMessage
	nextID   int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		projects: make(map[string]*domain.Project),
		updates:  make(map[string][]domain.ProgressEntry),
		reports:  make(map[string]json.RawMessage),
	}
}

func (m *memoryStore) CreateProject(_ context.Context, projectID, clientID, title string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	p := &domain.Project{ID: projectID, ClientID: clientID, Title: title, Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}
	m.projects[projectID] = p
	return p, nil
}

func (m *memoryStore) GetProject(_ context.Context, projectID string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memoryStore) UpdateProject(_ context.Context, projectID string, update domain.ProjectUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	if update.Status != nil {
		p.Status = *update.Status
	}
	if update.QualityScore != nil {
		p.QualityScore = update.QualityScore
	}
	if update.CompletedAt != nil {
		p.CompletedAt = update.CompletedAt
	}
	return nil
}

func (m *memoryStore) GetProgressUpdates(_ context.Context, projectID string, limit int) ([]domain.ProgressEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.updates[projectID]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *memoryStore) AddProgressUpdate(_ context.Context, projectID string, data json.RawMessage) (*domain.ProgressEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry := domain.ProgressEntry{ID: m.nextID, ProjectID: projectID, Data: data, CreatedAt: time.Now()}
	m.updates[projectID] = append([]domain.ProgressEntry{entry}, m.updates[projectID]...)
	return &entry, nil
}

func (m *memoryStore) SaveProjectReport(_ context.Context, projectID string, report json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[projectID] = report
	return nil
}

func (m *memoryStore) GetProjectReport(_ context.Context, projectID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[projectID]
	if !ok {
		return nil, domain.ErrReportNotFound
	}
	return report, nil
}

func newTestServer(t *testing.T, store *memoryStore) *Server {
	t.Helper()

	cfg := &config.Config{Port: "0", APIRatePerSecond: 100, APIBurst: 100, HeartbeatInterval: 30 * time.Second, MaxConnections: 100, RecentUpdatesLimit: 10}

	reg := prometheus.NewRegistry()
	m := metrics.NewRealtimeMetrics(reg)
	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry, store, nil, clockwork.NewRealClock(), m, 10)
	hub := realtime.NewHub(registry, broadcaster, clockwork.NewRealClock(), m, 30*time.Second, 100)
	t.Cleanup(hub.Stop)

	srv := NewServer(cfg, hub, broadcaster, store, AcceptAll, metrics.Handler(reg), nil)
	return srv
}

func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return apperrors.Middleware()(handler)(c)
}

func TestHandleCreateProject(t *testing.T) {
	store := newMemoryStore()
	srv := newTestServer(t, store)

	body := `{"projectId":"proj_1","clientId":"cli_9","title":"Market analysis"}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)

	require.NoError(t, callHandler(srv.handleCreateProject, c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var created domain.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "proj_1", created.ID)
	assert.Equal(t, domain.StatusPending, created.Status)
}

func TestHandleCreateProjectMissingID(t *testing.T) {
	srv := newTestServer(t, newMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(`{"title":"no id"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)

	_ = callHandler(srv.handleCreateProject, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePushProgress(t *testing.T) {
	store := newMemoryStore()
	srv := newTestServer(t, store)
	_, err := store.CreateProject(context.Background(), "proj_1", "", "")
	require.NoError(t, err)

	body := `{"progress":{"step":"analysis","percent":50}}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects/proj_1/progress", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("proj_1")

	require.NoError(t, callHandler(srv.handlePushProgress, c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, store.updates["proj_1"], 1)
}

func TestHandlePushProgressEmptyPayload(t *testing.T) {
	srv := newTestServer(t, newMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/api/projects/proj_1/progress", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("proj_1")

	_ = callHandler(srv.handlePushProgress, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePushStatus(t *testing.T) {
	store := newMemoryStore()
	srv := newTestServer(t, store)
	_, err := store.CreateProject(context.Background(), "proj_1", "", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/projects/proj_1/status", strings.NewReader(`{"status":"in_review"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("proj_1")

	require.NoError(t, callHandler(srv.handlePushStatus, c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusInReview, store.projects["proj_1"].Status)
}

func TestHandlePushStatusUnknownProject(t *testing.T) {
	srv := newTestServer(t, newMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/api/projects/ghost/status", strings.NewReader(`{"status":"in_review"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	_ = callHandler(srv.handlePushStatus, c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePushCompletion(t *testing.T) {
	store := newMemoryStore()
	srv := newTestServer(t, store)
	_, err := store.CreateProject(context.Background(), "proj_1", "cli_9", "")
	require.NoError(t, err)

	body := `{"report":{"summary":"done","qualityScore":4.2}}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects/proj_1/complete", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("proj_1")

	require.NoError(t, callHandler(srv.handlePushCompletion, c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusCompleted, store.projects["proj_1"].Status)
	assert.NotEmpty(t, store.reports["proj_1"])
}

func TestHandleGetReport(t *testing.T) {
	store := newMemoryStore()
	srv := newTestServer(t, store)
	_, err := store.CreateProject(context.Background(), "proj_1", "", "")
	require.NoError(t, err)
	require.NoError(t, store.SaveProjectReport(context.Background(), "proj_1", json.RawMessage(`{"summary":"done"}`)))

	req := httptest.NewRequest(http.MethodGet, "/api/projects/proj_1/report", nil)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("proj_1")

	require.NoError(t, callHandler(srv.handleGetReport, c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":"done"}`, rec.Body.String())
}

func TestHandleGetReportNotFound(t *testing.T) {
	srv := newTestServer(t, newMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/projects/ghost/report", nil)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	_ = callHandler(srv.handleGetReport, c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStats(t *testing.T) {
	srv := newTestServer(t, newMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)

	require.NoError(t, srv.handleStats(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats domain.ConnectionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.TotalConnections)
}
