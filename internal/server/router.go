package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/registry"
	"github.com/loykin/previewd/internal/supervisor"
)

// Service is what the HTTP layer drives. previewd.Daemon implements it.
type Service interface {
	Start(ctx context.Context, projectID, root string, port int) (supervisor.Info, error)
	Stop(ctx context.Context, projectID string) error
	Status(projectID string) (supervisor.Info, bool)
	Logs(projectID string, since time.Time, limit int) ([]supervisor.LogLine, error)
	List() []registry.ServerRecord
	Scan(ctx context.Context) ([]registry.ServerRecord, error)
	Cleanup(ctx context.Context) ([]registry.ServerRecord, error)
	MarkActive(projectID string)
}

// Router provides embeddable HTTP handlers for the dev server supervisor.
// Endpoints, relative to basePath:
//
//	POST /servers/:project/start   body: {"root": "/abs/path", "port": 0}
//	POST /servers/:project/stop
//	GET  /servers/:project
//	GET  /servers/:project/logs    query: since=RFC3339&limit=N
//	GET  /servers
//	POST /discovery/scan
//	POST /registry/cleanup
//
// The router performs no authentication; bind it to loopback.
type Router struct {
	svc      Service
	basePath string
	metrics  bool
}

// NewRouter constructs a Router. Example basePath: "/api".
func NewRouter(svc Service, basePath string) *Router {
	return &Router{svc: svc, basePath: sanitizeBase(basePath)}
}

// WithMetrics also serves Prometheus metrics at /metrics.
func (r *Router) WithMetrics(on bool) *Router {
	r.metrics = on
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/servers", r.handleList)
	group.GET("/servers/:project", r.handleStatus)
	group.POST("/servers/:project/start", r.handleStart)
	group.POST("/servers/:project/stop", r.handleStop)
	group.GET("/servers/:project/logs", r.handleLogs)
	group.POST("/discovery/scan", r.handleScan)
	group.POST("/registry/cleanup", r.handleCleanup)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer wraps h in an http.Server with conservative timeouts. The
// caller runs ListenAndServe and Shutdown.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type startReq struct {
	Root string `json:"root"`
	Port int    `json:"port,omitempty"`
}

type logsResp struct {
	Project string               `json:"project"`
	Lines   []supervisor.LogLine `json:"lines"`
}

func (r *Router) project(c *gin.Context) (string, bool) {
	id := c.Param("project")
	if !isSafeProjectID(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid project id: allowed [A-Za-z0-9._:-] and no '..'"})
		return "", false
	}
	return id, true
}

func (r *Router) handleStart(c *gin.Context) {
	id, ok := r.project(c)
	if !ok {
		return
	}
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeAbsPath(req.Root) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid root: must be an absolute path without traversal"})
		return
	}
	if req.Port != 0 && (req.Port < 1024 || req.Port > 65535) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "port must be within 1024-65535"})
		return
	}
	info, err := r.svc.Start(c.Request.Context(), id, req.Root, req.Port)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleStop(c *gin.Context) {
	id, ok := r.project(c)
	if !ok {
		return
	}
	if err := r.svc.Stop(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	id, ok := r.project(c)
	if !ok {
		return
	}
	info, found := r.svc.Status(id)
	if !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no server for project " + id})
		return
	}
	r.svc.MarkActive(id)
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleLogs(c *gin.Context) {
	id, ok := r.project(c)
	if !ok {
		return
	}
	var since time.Time
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid since: want RFC3339"})
			return
		}
		since = t
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	lines, err := r.svc.Logs(id, since, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	r.svc.MarkActive(id)
	writeJSON(c, http.StatusOK, logsResp{Project: id, Lines: lines})
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.svc.List())
}

func (r *Router) handleScan(c *gin.Context) {
	added, err := r.svc.Scan(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, added)
}

func (r *Router) handleCleanup(c *gin.Context) {
	removed, err := r.svc.Cleanup(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, removed)
}
