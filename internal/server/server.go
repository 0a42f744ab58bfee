// Package server exposes a running pipeline over a JSON control API, a
// WebSocket view feed and a Prometheus endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/logging"
	"github.com/jmurray2011/skein/internal/pipeline"
	"github.com/jmurray2011/skein/pkg/timeutil"
)

const (
	// ShutdownTimeout bounds graceful shutdown in Run.
	ShutdownTimeout = 5 * time.Second

	// JobRetention is how long a finished backend export stays queryable.
	JobRetention = 15 * time.Minute
)

// Server holds the gin engine and the pipeline it controls.
type Server struct {
	engine   *gin.Engine
	p        *pipeline.Pipeline
	gatherer prometheus.Gatherer
	logger   logging.Logger
	ctx      context.Context
	hub      *hub

	mu           sync.Mutex
	jobs         map[string]*trackedJob
	jobRetention time.Duration
	now          func() time.Time
}

type trackedJob struct {
	job      *export.Job
	finished time.Time // zero while running
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer sets the registry served on /metrics. Without it /metrics
// serves the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithJobRetention sets how long finished backend export jobs are kept.
func WithJobRetention(d time.Duration) Option {
	return func(s *Server) { s.jobRetention = d }
}

// New creates a server for p. ctx bounds pipeline runs and backend export
// jobs started through the API, and the update fan-out.
func New(ctx context.Context, p *pipeline.Pipeline, opts ...Option) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	s := &Server{
		engine:   engine,
		p:        p,
		gatherer: prometheus.DefaultGatherer,
		logger:   logging.NopLogger{},
		ctx:      ctx,
		hub:      newHub(),
		jobs:     make(map[string]*trackedJob),

		jobRetention: JobRetention,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine.Use(s.requestLogger())
	s.setupRoutes()

	go s.hub.run(ctx, p.Updates())
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("Control API listening on %s", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down control API: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/ws", s.handleWebSocket)

	api := s.engine.Group("/api")
	api.GET("/events", s.handleEvents)
	api.GET("/filter", s.handleGetFilter)
	api.PUT("/filter", s.handlePutFilter)
	api.GET("/stats", s.handleStats)
	api.GET("/connection", s.handleConnection)
	api.POST("/connection/start", s.handleStart)
	api.POST("/connection/stop", s.handleStop)
	api.POST("/clear", s.handleClear)
	api.POST("/export", s.handleExport)
	api.GET("/export/:id", s.handleExportStatus)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"state":   s.p.ConnectionState(),
		"running": s.p.Running(),
	})
}

// handleEvents returns the visible view; ?limit=N keeps the newest N.
func (s *Server) handleEvents(c *gin.Context) {
	view := s.p.VisibleEvents()
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			abort(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		if n < len(view.Matches) {
			view.Matches = view.Matches[:n]
		}
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleGetFilter(c *gin.Context) {
	c.JSON(http.StatusOK, s.p.Filter())
}

// filterRequest accepts level aliases and relative or absolute bounds.
type filterRequest struct {
	Levels  []string `json:"levels"`
	Sources []string `json:"sources"`
	Search  string   `json:"search"`
	From    string   `json:"from"`
	To      string   `json:"to"`
}

func (r filterRequest) state() (filter.State, error) {
	var st filter.State
	for _, name := range r.Levels {
		lvl, err := logevent.ParseLevel(name)
		if err != nil {
			return filter.State{}, err
		}
		st.Levels = append(st.Levels, lvl)
	}
	st.Sources = r.Sources
	st.Search = r.Search

	var err error
	if st.Range.Start, err = timeutil.ParseBound(r.From); err != nil {
		return filter.State{}, fmt.Errorf("invalid from: %w", err)
	}
	if st.Range.End, err = timeutil.ParseBound(r.To); err != nil {
		return filter.State{}, fmt.Errorf("invalid to: %w", err)
	}
	if !st.Range.Start.IsZero() && !st.Range.End.IsZero() && st.Range.End.Before(st.Range.Start) {
		return filter.State{}, fmt.Errorf("to is before from")
	}
	return st, nil
}

func (s *Server) handlePutFilter(c *gin.Context) {
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	st, err := req.state()
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	s.p.SetFilter(st)
	c.JSON(http.StatusOK, s.p.Filter())
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.p.Statistics())
}

type connectionResponse struct {
	State     string            `json:"state"`
	LastError string            `json:"last_error,omitempty"`
	Running   bool              `json:"running"`
	Dropped   uint64            `json:"dropped"`
	Counters  pipeline.Counters `json:"counters"`
	Backend   string            `json:"backend,omitempty"`
}

func (s *Server) connection() connectionResponse {
	resp := connectionResponse{
		State:    s.p.ConnectionState().String(),
		Running:  s.p.Running(),
		Dropped:  s.p.Dropped(),
		Counters: s.p.Counters(),
	}
	if err := s.p.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if b, ok := s.p.Backend().(fmt.Stringer); ok {
		resp.Backend = b.String()
	}
	return resp
}

func (s *Server) handleConnection(c *gin.Context) {
	c.JSON(http.StatusOK, s.connection())
}

func (s *Server) handleStart(c *gin.Context) {
	s.p.Start(s.ctx)
	c.JSON(http.StatusOK, s.connection())
}

func (s *Server) handleStop(c *gin.Context) {
	s.p.Stop()
	c.JSON(http.StatusOK, s.connection())
}

func (s *Server) handleClear(c *gin.Context) {
	s.p.Clear()
	c.Status(http.StatusNoContent)
}

type exportRequest struct {
	Format string `json:"format"`
	Mode   string `json:"mode"`
}

func (s *Server) handleExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	mode, err := export.ParseMode(req.Mode)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	// Backend jobs outlive the request.
	ctx := c.Request.Context()
	if mode == export.ModeBackend {
		ctx = s.ctx
	}
	res, err := s.p.Export(ctx, format, mode, export.Options{})
	switch {
	case errors.Is(err, export.ErrUnsupported):
		abort(c, http.StatusNotImplemented, err)
		return
	case err != nil:
		abort(c, http.StatusBadRequest, err)
		return
	}

	if res.Artifact != nil {
		a := res.Artifact
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
		c.Header("X-Skein-Count", strconv.Itoa(a.Count))
		c.Data(http.StatusOK, a.ContentType, a.Data)
		return
	}

	s.trackJob(res.Job)
	s.logger.Info("Started backend export %s", res.Job.ID())
	c.JSON(http.StatusAccepted, gin.H{"id": res.Job.ID()})
}

type jobResponse struct {
	ID          string       `json:"id"`
	State       export.State `json:"state"`
	RemoteID    string       `json:"remote_id,omitempty"`
	DownloadURL string       `json:"download_url,omitempty"`
	Error       string       `json:"error,omitempty"`
	Created     time.Time    `json:"created"`
}

func (s *Server) handleExportStatus(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	s.pruneJobsLocked()
	tracked, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		abort(c, http.StatusNotFound, fmt.Errorf("no export job %q", id))
		return
	}

	job := tracked.job
	resp := jobResponse{
		ID:       job.ID(),
		State:    job.State(),
		RemoteID: job.RemoteID(),
		Created:  job.Created(),
	}
	if resp.State.Terminal() {
		r := job.Result()
		resp.DownloadURL = r.DownloadURL
		if r.Err != nil {
			resp.Error = r.Err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// trackJob registers job for status lookups and records when it finishes.
func (s *Server) trackJob(job *export.Job) {
	tracked := &trackedJob{job: job}
	s.mu.Lock()
	s.pruneJobsLocked()
	s.jobs[job.ID()] = tracked
	s.mu.Unlock()

	go func() {
		select {
		case <-job.Done():
		case <-s.ctx.Done():
			return
		}
		s.mu.Lock()
		tracked.finished = s.now()
		s.mu.Unlock()
	}()
}

// pruneJobsLocked drops jobs that finished more than jobRetention ago.
func (s *Server) pruneJobsLocked() {
	now := s.now()
	for id, tracked := range s.jobs {
		if !tracked.finished.IsZero() && now.Sub(tracked.finished) > s.jobRetention {
			delete(s.jobs, id)
		}
	}
}
