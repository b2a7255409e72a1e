package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/lifecycle"
	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// Server wires HTTP handlers to the lifecycle manager and stores.
type Server struct {
	router  chi.Router
	manager *lifecycle.Manager
	jobs    store.JobStore
	logs    store.LogStore
	queue   store.Queue
	bus     store.Bus
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	manager *lifecycle.Manager,
	jobs store.JobStore,
	logs store.LogStore,
	queue store.Queue,
	bus store.Bus,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager: manager,
		jobs:    jobs,
		logs:    logs,
		queue:   queue,
		bus:     bus,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/stream", s.stream)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{ident}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/log", s.getJobLog)
				r.Post("/abort", s.abortJob)
				r.Post("/settings", s.updateSettings)
				r.Post("/ignores", s.addIgnores)
				r.Delete("/ignores/{pattern}", s.removeIgnore)
				r.Post("/claim", s.claimJob)
				r.Post("/events", s.ingestEvent)
				r.Post("/heartbeat", s.heartbeat)
				r.Post("/aborted", s.markAborted)
				r.Post("/done", s.markDone)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.List(r.Context(), store.QueueWorking); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	URL         string `json:"url"`
	Depth       string `json:"depth"`
	StartedBy   string `json:"started_by"`
	StartedIn   string `json:"started_in"`
	UserAgent   string `json:"user_agent"`
	Destination string `json:"destination"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	ident, err := s.manager.Register(r.Context(), lifecycle.RegisterRequest{
		URL:       req.URL,
		Depth:     job.Depth(req.Depth),
		StartedBy: req.StartedBy,
		StartedIn: req.StartedIn,
		UserAgent: req.UserAgent,
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"ident": ident.String(),
			"error": "job already archived or in progress",
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.manager.Queue(r.Context(), ident, req.Destination); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"ident": ident.String()})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	rec, err := s.jobs.Get(r.Context(), ident)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":         rec.AsJSON(),
		"state":       string(rec.State()),
		"status_text": rec.StatusText(),
	})
}

func (s *Server) getJobLog(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	count := 20
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		count = n
	}
	if _, err := s.jobs.Get(r.Context(), ident); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries, err := s.logs.ReadTail(r.Context(), ident, count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) abortJob(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	n := lifecycle.NewNotifier(s.bus)
	if err := s.manager.Abort(r.Context(), n, ident); err != nil {
		writeManagerError(w, err)
		return
	}
	if err := n.Flush(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ident": ident.String(), "status": "abort requested"})
}

type settingsRequest struct {
	DelayMin       *float64 `json:"delay_min"`
	DelayMax       *float64 `json:"delay_max"`
	Concurrency    *int64   `json:"concurrency"`
	IgnoresEnabled *bool    `json:"ignores_enabled"`
}

// updateSettings applies any combination of tuning changes. settings_age is
// bumped per change but subscribers see a single notification per request.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	n := lifecycle.NewNotifier(s.bus)
	if req.DelayMin != nil || req.DelayMax != nil {
		if req.DelayMin == nil || req.DelayMax == nil || *req.DelayMin > *req.DelayMax {
			writeError(w, http.StatusBadRequest, "delay_min and delay_max must be set together, min <= max")
			return
		}
		if err := s.manager.SetDelay(r.Context(), n, ident, *req.DelayMin, *req.DelayMax); err != nil {
			writeManagerError(w, err)
			return
		}
	}
	if req.Concurrency != nil {
		if *req.Concurrency < 1 {
			writeError(w, http.StatusBadRequest, "concurrency must be positive")
			return
		}
		if err := s.manager.SetConcurrency(r.Context(), n, ident, *req.Concurrency); err != nil {
			writeManagerError(w, err)
			return
		}
	}
	if req.IgnoresEnabled != nil {
		if err := s.manager.ToggleIgnores(r.Context(), n, ident, *req.IgnoresEnabled); err != nil {
			writeManagerError(w, err)
			return
		}
	}
	if err := n.Flush(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ident": ident.String(), "status": "updated"})
}

type ignoresRequest struct {
	Patterns []string `json:"patterns"`
}

func (s *Server) addIgnores(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	var req ignoresRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Patterns) == 0 {
		writeError(w, http.StatusBadRequest, "missing patterns")
		return
	}
	n := lifecycle.NewNotifier(s.bus)
	if err := s.manager.AddIgnorePatterns(r.Context(), n, ident, req.Patterns...); err != nil {
		writeManagerError(w, err)
		return
	}
	if err := n.Flush(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ident": ident.String(), "status": "updated"})
}

func (s *Server) removeIgnore(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	pattern := chi.URLParam(r, "pattern")
	n := lifecycle.NewNotifier(s.bus)
	if err := s.manager.RemoveIgnorePattern(r.Context(), n, ident, pattern); err != nil {
		writeManagerError(w, err)
		return
	}
	if err := n.Flush(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ident": ident.String(), "status": "updated"})
}

type claimRequest struct {
	PipelineID string `json:"pipeline_id"`
}

func (s *Server) claimJob(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PipelineID == "" {
		writeError(w, http.StatusBadRequest, "missing pipeline_id")
		return
	}
	if err := s.manager.Claim(r.Context(), ident, req.PipelineID); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ident": ident.String(), "status": "claimed"})
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	accepted := 0
	for {
		var entry job.LogEntry
		if err := dec.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			writeError(w, http.StatusBadRequest, "invalid event payload")
			return
		}
		if err := s.manager.AppendEvent(r.Context(), ident, entry); err != nil {
			writeManagerError(w, err)
			return
		}
		accepted++
	}
	if accepted == 0 {
		writeError(w, http.StatusBadRequest, "empty event payload")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	if err := s.manager.Heartbeat(r.Context(), ident); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) markAborted(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	if err := s.manager.MarkAborted(r.Context(), ident); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ident": ident.String(), "status": "aborted"})
}

type doneRequest struct {
	WARCSize int64 `json:"warc_size"`
}

func (s *Server) markDone(w http.ResponseWriter, r *http.Request) {
	ident := job.Ident(chi.URLParam(r, "ident"))
	var req doneRequest
	// Body is optional; an empty body means no size report.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.manager.MarkDone(r.Context(), ident, req.WARCSize); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ident": ident.String(), "status": "done"})
}

func writeManagerError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
