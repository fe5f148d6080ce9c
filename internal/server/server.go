// Package server exposes the dispatch API: manual runs, schedule preview, run
// history, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/history"
	"github.com/sells-group/license-watch/internal/model"
	"github.com/sells-group/license-watch/internal/trigger"
	"github.com/sells-group/license-watch/internal/workflow"
)

// Dispatcher starts manual runs and reports the schedule.
type Dispatcher interface {
	Dispatch(ctx context.Context) (string, error)
	NextFire() time.Time
	Schedule() *trigger.Schedule
}

// RunStore reads run history.
type RunStore interface {
	Get(ctx context.Context, runID string) (*model.Run, error)
	List(ctx context.Context, limit int) ([]model.Run, error)
	LastSuccess(ctx context.Context) (*model.Run, error)
}

// Options configures the server.
type Options struct {
	CORSOrigins []string
	// Metrics serves /metrics. Nil disables the route.
	Metrics http.Handler
	// Running reports whether a run is active.
	Running func() bool
}

// Server wires HTTP handlers to the scheduler and run history.
type Server struct {
	router     chi.Router
	base       context.Context
	dispatcher Dispatcher
	runs       RunStore
	opts       Options
	now        func() time.Time
}

const maxScheduleCount = 100

// New builds the router. Manual runs are started with base, so they outlive
// the request that dispatched them.
func New(base context.Context, d Dispatcher, runs RunStore, opts Options) *Server {
	s := &Server{
		base:       base,
		dispatcher: d,
		runs:       runs,
		opts:       opts,
		now:        time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/schedule", s.schedule)
		r.Post("/dispatch", s.dispatch)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthResponse struct {
	Status      string     `json:"status"`
	Running     bool       `json:"running"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	NextFire    *time.Time `json:"next_fire,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.opts.Running != nil {
		resp.Running = s.opts.Running()
	}
	if next := s.dispatcher.NextFire(); !next.IsZero() {
		resp.NextFire = &next
	}
	last, err := s.runs.LastSuccess(r.Context())
	if err != nil {
		zap.L().Warn("health: last success lookup failed", zap.Error(err))
	} else if last != nil {
		resp.LastSuccess = last.FinishedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

type scheduleResponse struct {
	Enabled  bool        `json:"enabled"`
	Cron     string      `json:"cron,omitempty"`
	Timezone string      `json:"timezone,omitempty"`
	Next     []time.Time `json:"next"`
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	count := 1
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxScheduleCount {
			writeError(w, http.StatusBadRequest, "count must be between 1 and 100")
			return
		}
		count = n
	}

	sched := s.dispatcher.Schedule()
	if sched == nil {
		writeJSON(w, http.StatusOK, scheduleResponse{Next: []time.Time{}})
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		Enabled:  true,
		Cron:     sched.String(),
		Timezone: sched.Location().String(),
		Next:     sched.NextN(s.now(), count),
	})
}

func (s *Server) dispatch(w http.ResponseWriter, _ *http.Request) {
	id, err := s.dispatcher.Dispatch(s.base)
	switch {
	case errors.Is(err, workflow.ErrRunInProgress):
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	case err != nil:
		zap.L().Error("dispatch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	w.Header().Set("Location", "/v1/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": string(model.RunStatusRunning)})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "run_id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case err != nil:
		zap.L().Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write json failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
