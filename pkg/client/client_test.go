package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api", Timeout: 2 * time.Second})
}

func TestStartSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/servers/shop/start", r.URL.Path)
		var req StartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/home/dev/shop", req.Root)
		assert.Equal(t, 4321, req.Port)
		_ = json.NewEncoder(w).Encode(ServerStatus{Server: Server{ProjectID: "shop", Port: 4321, Status: "running"}})
	})
	st, err := c.Start(context.Background(), "shop", StartRequest{Root: "/home/dev/shop", Port: 4321})
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, 4321, st.Port)
}

func TestStatusNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "no server for project shop"})
	})
	_, err := c.Status(context.Background(), "shop")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "no server for project shop")
}

func TestLogsQuery(t *testing.T) {
	since := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/servers/shop/logs", r.URL.Path)
		assert.Equal(t, "2026-03-04T05:06:07Z", r.URL.Query().Get("since"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(LogsResponse{Project: "shop", Lines: []LogLine{{Stream: "stdout", Text: "ready"}}})
	})
	out, err := c.Logs(context.Background(), "shop", since, 20)
	require.NoError(t, err)
	require.Len(t, out.Lines, 1)
	assert.Equal(t, "ready", out.Lines[0].Text)
}

func TestErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := c.Stop(context.Background(), "shop")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestListScanCleanupAndReachability(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/servers":
			_ = json.NewEncoder(w).Encode([]Server{{ProjectID: "a"}, {ProjectID: "b"}})
		case "/api/discovery/scan":
			_ = json.NewEncoder(w).Encode([]Server{{ProjectID: "external:5173", Port: 5173}})
		case "/api/registry/cleanup":
			_, _ = w.Write([]byte("[]"))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()
	assert.True(t, c.IsReachable(ctx))

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	added, err := c.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, 5173, added[0].Port)

	removed, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 500 * time.Millisecond})
	assert.False(t, c.IsReachable(context.Background()))
}
