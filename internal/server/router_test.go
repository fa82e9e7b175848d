package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/previewd/internal/errdefs"
	"github.com/loykin/previewd/internal/registry"
	"github.com/loykin/previewd/internal/supervisor"
)

type fakeService struct {
	mu       sync.Mutex
	started  map[string]supervisor.Info
	active   []string
	logs     []supervisor.LogLine
	since    time.Time
	limit    int
	startErr error
	scanned  []registry.ServerRecord
	cleaned  []registry.ServerRecord
}

func newFakeService() *fakeService {
	return &fakeService{started: map[string]supervisor.Info{}}
}

func (f *fakeService) Start(_ context.Context, id, root string, port int) (supervisor.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return supervisor.Info{}, f.startErr
	}
	if port == 0 {
		port = 4100
	}
	info := supervisor.Info{ServerRecord: registry.ServerRecord{
		ProjectID:   id,
		ProjectRoot: root,
		Port:        port,
		Status:      registry.StatusRunning,
	}}
	f.started[id] = info
	return info, nil
}

func (f *fakeService) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, id)
	return nil
}

func (f *fakeService) Status(id string) (supervisor.Info, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.started[id]
	return info, ok
}

func (f *fakeService) Logs(id string, since time.Time, limit int) ([]supervisor.LogLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.started[id]; !ok {
		return nil, errdefs.Wrap(errdefs.ErrNotFound, "no server for project %s", id)
	}
	f.since, f.limit = since, limit
	return f.logs, nil
}

func (f *fakeService) List() []registry.ServerRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]registry.ServerRecord, 0, len(f.started))
	for _, info := range f.started {
		out = append(out, info.ServerRecord)
	}
	return out
}

func (f *fakeService) Scan(context.Context) ([]registry.ServerRecord, error) {
	return f.scanned, nil
}

func (f *fakeService) Cleanup(context.Context) ([]registry.ServerRecord, error) {
	return f.cleaned, nil
}

func (f *fakeService) MarkActive(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = append(f.active, id)
}

func setupRouter(t *testing.T, svc Service, base string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(svc, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartStatusStop(t *testing.T) {
	svc := newFakeService()
	h := setupRouter(t, svc, "/api")

	rec := doReq(t, h, http.MethodPost, "/api/servers/shop/start", startReq{Root: "/home/dev/shop"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info supervisor.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "shop", info.ProjectID)
	assert.Equal(t, 4100, info.Port)

	rec = doReq(t, h, http.MethodGet, "/api/servers/shop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"shop"}, svc.active)

	rec = doReq(t, h, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []registry.ServerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = doReq(t, h, http.MethodPost, "/api/servers/shop/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = doReq(t, h, http.MethodGet, "/api/servers/shop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRejectsBadInput(t *testing.T) {
	h := setupRouter(t, newFakeService(), "")
	cases := []struct {
		name string
		path string
		body any
	}{
		{"relative root", "/servers/shop/start", startReq{Root: "shop"}},
		{"traversal root", "/servers/shop/start", startReq{Root: "/home/dev/../etc"}},
		{"privileged port", "/servers/shop/start", startReq{Root: "/home/dev/shop", Port: 80}},
		{"bad project id", "/servers/sh%20op/start", startReq{Root: "/home/dev/shop"}},
		{"no body", "/servers/shop/start", nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := doReq(t, h, http.MethodPost, c.path, c.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestStartMapsErrorKinds(t *testing.T) {
	svc := newFakeService()
	svc.startErr = errdefs.Wrap(errdefs.ErrResourceUnavailable, "port %d in use", 4100)
	h := setupRouter(t, svc, "")
	rec := doReq(t, h, http.MethodPost, "/servers/shop/start", startReq{Root: "/home/dev/shop", Port: 4100})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "port 4100 in use")
}

func TestLogsQuery(t *testing.T) {
	svc := newFakeService()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.logs = []supervisor.LogLine{{Time: now, Stream: supervisor.StreamStdout, Text: "ready"}}
	h := setupRouter(t, svc, "/api")

	rec := doReq(t, h, http.MethodGet, "/api/servers/shop/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	doReq(t, h, http.MethodPost, "/api/servers/shop/start", startReq{Root: "/home/dev/shop"})
	rec = doReq(t, h, http.MethodGet, "/api/servers/shop/logs?since=2026-01-02T00:00:00Z&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out logsResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "shop", out.Project)
	require.Len(t, out.Lines, 1)
	assert.Equal(t, "ready", out.Lines[0].Text)
	assert.Equal(t, 5, svc.limit)
	assert.True(t, svc.since.Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))

	rec = doReq(t, h, http.MethodGet, "/api/servers/shop/logs?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doReq(t, h, http.MethodGet, "/api/servers/shop/logs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanAndCleanup(t *testing.T) {
	svc := newFakeService()
	svc.scanned = []registry.ServerRecord{{ProjectID: "external:5173", Port: 5173, PID: 42}}
	svc.cleaned = []registry.ServerRecord{}
	h := setupRouter(t, svc, "/api")

	rec := doReq(t, h, http.MethodPost, "/api/discovery/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var added []registry.ServerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.Len(t, added, 1)
	assert.Equal(t, 5173, added[0].Port)

	rec = doReq(t, h, http.MethodPost, "/api/registry/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetricsEndpointOptIn(t *testing.T) {
	gin.SetMode(gin.TestMode)
	off := NewRouter(newFakeService(), "/api").Handler()
	assert.Equal(t, http.StatusNotFound, doReq(t, off, http.MethodGet, "/metrics", nil).Code)

	on := NewRouter(newFakeService(), "/api").WithMetrics(true).Handler()
	assert.Equal(t, http.StatusOK, doReq(t, on, http.MethodGet, "/metrics", nil).Code)
}
