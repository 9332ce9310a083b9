package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"eligo/app/core/dialog"
	"eligo/app/core/guideline"
	"eligo/app/core/store"
	"eligo/app/pkg/types"
)

const defaultCleanupAgeSec = 3600

// Server exposes the run lifecycle API and guidelines management over
// HTTP. Frames stream as NDJSON; everything else is plain JSON.
type Server struct {
	port            int
	orch            *dialog.Orchestrator
	registry        *dialog.Registry
	guidelines      *store.GuidelineStore
	subjects        types.FactsProvider
	defaults        dialog.Options
	shutdownTimeout time.Duration

	server      *http.Server
	startedUnix atomic.Int64
}

func NewServer(port int, orch *dialog.Orchestrator, registry *dialog.Registry, guidelines *store.GuidelineStore) *Server {
	return &Server{
		port:            port,
		orch:            orch,
		registry:        registry,
		guidelines:      guidelines,
		shutdownTimeout: 5 * time.Second,
	}
}

// SetSubjectProvider wires the external clinical-data lookup used when a
// start request names a subject id instead of inline facts.
func (s *Server) SetSubjectProvider(p types.FactsProvider) {
	s.subjects = p
}

// SetDialogDefaults overrides the per-run option defaults.
func (s *Server) SetDialogDefaults(opts dialog.Options) {
	s.defaults = opts
}

func (s *Server) SetShutdownTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.shutdownTimeout = timeout
	}
}

// Router builds the chi route tree. Exposed for httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/api/status", s.handleStatus)

	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", s.handleStartRun)
		r.Get("/", s.handleListRuns)
		r.Post("/cleanup", s.handleCleanup)
		r.Get("/{runID}", s.handleGetRun)
		r.Get("/{runID}/stream", s.handleStreamRun)
		r.Post("/{runID}/cancel", s.handleCancelRun)
	})

	r.Route("/api/guidelines", func(r chi.Router) {
		r.Get("/", s.handleListGuidelines)
		r.Get("/{version}", s.handleGetGuidelines)
		r.Put("/{version}", s.handlePutGuidelines)
	})
	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.startedUnix.Store(time.Now().Unix())
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}()

	log.Printf("[HTTP] Listening on port %d...", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type startRunRequest struct {
	Scenario          string       `json:"scenario"`
	SubjectID         string       `json:"subject_id,omitempty"`
	Facts             *types.Facts `json:"facts,omitempty"`
	GuidelinesVersion string       `json:"guidelines_version,omitempty"`
	Options           struct {
		MaxTurns         int  `json:"max_turns,omitempty"`
		PerTurnTimeoutMs int  `json:"per_turn_timeout_ms,omitempty"`
		DryRun           bool `json:"dry_run,omitempty"`
	} `json:"options"`
}

type startRunResponse struct {
	RunID     string `json:"run_id"`
	State     string `json:"state"`
	StatusURL string `json:"status_url"`
	StreamURL string `json:"stream_url"`
	CancelURL string `json:"cancel_url"`
	StartedAt string `json:"started_at"`
}

type runListResponse struct {
	Runs []dialog.Run `json:"runs"`
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

type statusResponse struct {
	StartedAt string `json:"started_at,omitempty"`
	UptimeSec int64  `json:"uptime_sec"`
	Runs      int    `json:"runs"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	facts, ok := s.resolveFacts(w, r, req)
	if !ok {
		return
	}

	version := strings.TrimSpace(req.GuidelinesVersion)
	if version == "" {
		version = "default"
	}
	g, err := s.guidelines.Get(r.Context(), version)
	if err != nil {
		if errors.Is(err, store.ErrVersionNotFound) {
			http.Error(w, fmt.Sprintf("no such guidelines version %q", version), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	opts := s.defaults
	if req.Options.MaxTurns > 0 {
		opts.MaxTurns = req.Options.MaxTurns
	}
	if req.Options.PerTurnTimeoutMs > 0 {
		opts.PerTurnTimeout = time.Duration(req.Options.PerTurnTimeoutMs) * time.Millisecond
	}
	opts.DryRun = req.Options.DryRun

	run, err := s.orch.Start(dialog.StartRequest{
		Scenario:   req.Scenario,
		Facts:      facts,
		Guidelines: g,
		Options:    opts,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := startRunResponse{
		RunID:     run.ID,
		State:     string(run.State),
		StatusURL: "/api/runs/" + run.ID,
		StreamURL: "/api/runs/" + run.ID + "/stream",
		CancelURL: "/api/runs/" + run.ID + "/cancel",
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) resolveFacts(w http.ResponseWriter, r *http.Request, req startRunRequest) (types.Facts, bool) {
	if req.Facts != nil {
		return *req.Facts, true
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		http.Error(w, "facts or subject_id is required", http.StatusBadRequest)
		return types.Facts{}, false
	}
	if s.subjects == nil {
		http.Error(w, "subject lookup unavailable", http.StatusServiceUnavailable)
		return types.Facts{}, false
	}
	facts, err := s.subjects.Fetch(r.Context(), req.SubjectID)
	if err != nil {
		http.Error(w, fmt.Sprintf("subject lookup failed: %v", err), http.StatusBadGateway)
		return types.Facts{}, false
	}
	return facts, true
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.registry.Get(chi.URLParam(r, "runID"))
	if err != nil {
		http.Error(w, "no such run", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	state := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	limit := parseListLimit(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, runListResponse{Runs: s.registry.List(state, limit)})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.registry.Cancel(chi.URLParam(r, "runID"))
	if err != nil {
		http.Error(w, "no such run", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"run_id": run.ID,
		"state":  string(run.State),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ageSec, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("max_age_sec")))
	if err != nil || ageSec <= 0 {
		ageSec = defaultCleanupAgeSec
	}
	removed := s.registry.Cleanup(time.Duration(ageSec) * time.Second)
	writeJSON(w, http.StatusOK, cleanupResponse{Removed: removed})
}

// handleStreamRun replays the run's frame sequence as NDJSON. The
// sequence is finite and non-restartable: a second stream request for the
// same run is refused.
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	frames, err := s.registry.ClaimStream(runID)
	if err != nil {
		switch {
		case errors.Is(err, dialog.ErrStreamConsumed):
			http.Error(w, "run stream already consumed", http.StatusConflict)
		default:
			http.Error(w, "no such run", http.StatusNotFound)
		}
		return
	}
	defer s.registry.ReleaseStream(runID)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	for frame := range frames {
		if err := encoder.Encode(frame); err != nil {
			log.Printf("[HTTP] Stream write for run %s failed: %v", runID, err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleGetGuidelines(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	g, err := s.guidelines.Get(r.Context(), version)
	if err != nil {
		if errors.Is(err, store.ErrVersionNotFound) {
			http.Error(w, fmt.Sprintf("no such guidelines version %q", version), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handlePutGuidelines(w http.ResponseWriter, r *http.Request) {
	var g types.Guidelines
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	version := chi.URLParam(r, "version")
	if err := s.guidelines.Put(r.Context(), version, g); err != nil {
		var vErr *guideline.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	g.Version = version
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleListGuidelines(w http.ResponseWriter, r *http.Request) {
	versions, err := s.guidelines.List(r.Context(), parseListLimit(r.URL.Query().Get("limit")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"versions": versions})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Runs: len(s.registry.List("all", 0))}
	if started := s.startedUnix.Load(); started > 0 {
		startAt := time.Unix(started, 0).UTC()
		resp.StartedAt = startAt.Format(time.RFC3339)
		resp.UptimeSec = int64(time.Since(startAt).Seconds())
		if resp.UptimeSec < 0 {
			resp.UptimeSec = 0
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseListLimit(raw string) int {
	const (
		defaultLimit = 20
		maxLimit     = 100
	)
	size, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || size <= 0 {
		return defaultLimit
	}
	if size > maxLimit {
		return maxLimit
	}
	return size
}
