package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/curator-discovery/internal/automation"
	"github.com/JakeFAU/curator-discovery/internal/config"
	"github.com/JakeFAU/curator-discovery/internal/curator"
	"github.com/JakeFAU/curator-discovery/internal/metrics"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxSeedBatch     = 1000
)

// Runner triggers and reports automation runs.
type Runner interface {
	Start(ctx context.Context) (string, error)
	Status() automation.Status
}

// SeedWriter registers seed curators.
type SeedWriter interface {
	UpsertSeeds(ctx context.Context, seeds []curator.SeedCurator) error
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Runner Runner
	Reader curator.Reader
	Seeds  SeedWriter
	// Ready reports downstream readiness; nil means always ready.
	Ready func(ctx context.Context) error
	// RunContext parents background runs so they outlive the triggering request.
	RunContext context.Context
}

// Server wires HTTP handlers to the orchestrator and store.
type Server struct {
	router  chi.Router
	deps    Deps
	trigger *rate.Limiter
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.RunContext == nil {
		deps.RunContext = context.Background()
	}
	rps, burst := cfg.Automation.TriggerRPS, cfg.Automation.TriggerBurst
	if rps <= 0 {
		rps = 0.1
	}
	if burst <= 0 {
		burst = 1
	}
	s := &Server{
		deps:    deps,
		trigger: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/automation", func(r chi.Router) {
			r.Post("/run", s.triggerRun)
			r.Get("/status", s.runStatus)
		})
		r.Get("/seeds", s.listSeeds)
		r.Post("/seeds", s.upsertSeeds)
		r.Get("/curators", s.listCurators)
		r.Get("/curators/{id}", s.getCurator)
		r.Get("/summary", s.summary)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) triggerRun(w http.ResponseWriter, _ *http.Request) {
	if !s.trigger.Allow() {
		w.Header().Set("Retry-After", "10")
		s.writeError(w, http.StatusTooManyRequests, "run trigger throttled")
		return
	}
	runID, err := s.deps.Runner.Start(s.deps.RunContext)
	switch {
	case errors.Is(err, automation.ErrRunInProgress):
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":  err.Error(),
			"run_id": s.deps.Runner.Status().RunID,
		})
		return
	case err != nil:
		s.logger.Error("start automation run failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "started"})
}

func (s *Server) runStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Runner.Status())
}

func (s *Server) listSeeds(w http.ResponseWriter, r *http.Request) {
	seeds, err := s.deps.Reader.ListSeeds(r.Context())
	if err != nil {
		s.logger.Error("list seeds failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list seeds")
		return
	}
	if seeds == nil {
		seeds = []curator.SeedCurator{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"seeds": seeds})
}

type seedRequest struct {
	Seeds []struct {
		ID     string `json:"id"`
		Handle string `json:"handle"`
	} `json:"seeds"`
}

func (s *Server) upsertSeeds(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Seeds) == 0 {
		s.writeError(w, http.StatusBadRequest, "seeds required")
		return
	}
	if len(req.Seeds) > maxSeedBatch {
		s.writeError(w, http.StatusBadRequest, "too many seeds in one request")
		return
	}
	seeds := make([]curator.SeedCurator, 0, len(req.Seeds))
	for _, in := range req.Seeds {
		id := strings.TrimSpace(in.ID)
		if id == "" {
			s.writeError(w, http.StatusBadRequest, "seed id required")
			return
		}
		seeds = append(seeds, curator.SeedCurator{ID: id, Handle: strings.TrimSpace(in.Handle)})
	}
	if err := s.deps.Seeds.UpsertSeeds(r.Context(), seeds); err != nil {
		s.logger.Error("upsert seeds failed", zap.Int("count", len(seeds)), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store seeds")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"upserted": len(seeds)})
}

func (s *Server) listCurators(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCuratorFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	curators, err := s.deps.Reader.ListCurators(r.Context(), filter)
	if err != nil {
		s.logger.Error("list curators failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list curators")
		return
	}
	if curators == nil {
		curators = []curator.DiscoveredCurator{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"curators": curators})
}

func (s *Server) getCurator(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Reader.GetCurator(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, curator.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "curator not found")
		return
	}
	if err != nil {
		s.logger.Error("get curator failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load curator")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Reader.Summary(r.Context())
	if err != nil {
		s.logger.Error("summary failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to compute summary")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func parseCuratorFilter(r *http.Request) (curator.CuratorFilter, error) {
	q := r.URL.Query()
	filter := curator.CuratorFilter{Limit: defaultListLimit, Category: strings.TrimSpace(q.Get("category"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = min(n, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return filter, errors.New("min_score must be a non-negative number")
		}
		filter.MinScore = f
	}
	return filter, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
