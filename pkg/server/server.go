// Package server exposes the router, cache and energy reports over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/budget"
	"github.com/greencache-ai/greencache/pkg/cache/sqlite"
	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/energy"
	"github.com/greencache-ai/greencache/pkg/logging"
	"github.com/greencache-ai/greencache/pkg/metrics"
	"github.com/greencache-ai/greencache/pkg/models"
	"github.com/greencache-ai/greencache/pkg/router"
	"github.com/greencache-ai/greencache/pkg/tracker"
)

const maxBodyBytes = 1 << 20

// Server is the greencache HTTP API.
type Server struct {
	cfg      *config.Config
	router   *router.Router
	tracker  tracker.Tracker
	enforcer *budget.Enforcer
	store    *sqlite.Store
	platform energy.Platform
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	mux      *http.ServeMux
}

// Option configures optional collaborators. Endpoints whose collaborator is
// missing answer 503.
type Option func(*Server)

// WithTracker serves events and energy summaries from t.
func WithTracker(t tracker.Tracker) Option { return func(s *Server) { s.tracker = t } }

// WithBudget serves budget status from e.
func WithBudget(e *budget.Enforcer) Option { return func(s *Server) { s.enforcer = e } }

// WithSnapshotStore clears the persisted snapshot along with the cache.
func WithSnapshotStore(st *sqlite.Store) Option { return func(s *Server) { s.store = st } }

// WithPlatform reports host details on the health endpoint.
func WithPlatform(p energy.Platform) Option { return func(s *Server) { s.platform = p } }

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = logging.OrNop(l) } }

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, r *router.Router, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		router: r,
		logger: zap.NewNop(),
		mux:    http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}

	s.mux.HandleFunc("POST /v1/query", s.handleQuery)
	s.mux.HandleFunc("POST /v1/compare", s.handleCompare)
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("GET /v1/cache", s.handleCacheSnapshot)
	s.mux.HandleFunc("DELETE /v1/cache", s.handleCacheClear)
	s.mux.HandleFunc("GET /v1/events", s.handleEvents)
	s.mux.HandleFunc("GET /v1/energy/summary", s.handleEnergySummary)
	s.mux.HandleFunc("GET /v1/budget", s.handleBudget)
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("greencache listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type queryRequest struct {
	Query string `json:"query"`
	Model string `json:"model,omitempty"`
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return req, false
	}
	return req, true
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	ev := s.router.Handle(r.Context(), req.Query, req.Model)
	writeJSON(w, statusFor(ev), ev)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	cmp, err := s.router.Compare(r.Context(), req.Query, req.Model)
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
		s.logger.Warn("compare failed", zap.Error(err))
	}
	writeJSON(w, status, cmp)
}

type cacheSnapshot struct {
	Stats     models.CacheStats     `json:"stats"`
	HitRate   float64               `json:"hit_rate"`
	Threshold float64               `json:"threshold"`
	Entries   []models.EntrySummary `json:"entries"`
}

func (s *Server) handleCacheSnapshot(w http.ResponseWriter, _ *http.Request) {
	c := s.router.Cache()
	stats := c.Stats()
	writeJSON(w, http.StatusOK, cacheSnapshot{
		Stats:     stats,
		HitRate:   stats.HitRate(),
		Threshold: c.Threshold(),
		Entries:   c.Snapshot(),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	n := s.router.Cache().Clear()
	if s.store != nil {
		if err := s.store.Clear(r.Context()); err != nil {
			s.logger.Error("clear snapshot store", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "failed to clear snapshot")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event tracking disabled")
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.tracker.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent events", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		events = []models.EventRecord{}
	}
	writeJSON(w, http.StatusOK, events)
}

type energySummary struct {
	Since     time.Time              `json:"since"`
	Summaries []models.EnergySummary `json:"summaries"`
	Totals    models.EnergySummary   `json:"totals"`
}

func (s *Server) handleEnergySummary(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event tracking disabled")
		return
	}
	days, err := intParam(r, "days", 7)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	summaries, err := s.tracker.Summary(r.Context(), since)
	if err != nil {
		s.logger.Error("energy summary", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	if summaries == nil {
		summaries = []models.EnergySummary{}
	}
	writeJSON(w, http.StatusOK, energySummary{Since: since, Summaries: summaries, Totals: Totals(summaries)})
}

// Totals folds per-model summaries into one row.
func Totals(summaries []models.EnergySummary) models.EnergySummary {
	var t models.EnergySummary
	var latency float64
	for _, s := range summaries {
		t.Queries += s.Queries
		t.Failures += s.Failures
		t.EnergyWh += s.EnergyWh
		t.CarbonG += s.CarbonG
		t.SavedWh += s.SavedWh
		t.SavedCarbonG += s.SavedCarbonG
		latency += s.AvgLatencyMs * float64(s.Queries)
	}
	if t.Queries > 0 {
		t.AvgLatencyMs = latency / float64(t.Queries)
	}
	return t
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if s.enforcer == nil {
		writeJSON(w, http.StatusOK, []models.BudgetStatus{})
		return
	}
	statuses, err := s.enforcer.Status(r.Context())
	if err != nil {
		s.logger.Error("budget status", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "budget check failed")
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

type health struct {
	Status   string          `json:"status"`
	Entries  int             `json:"entries"`
	Platform energy.Platform `json:"platform"`
	Profile  energy.Profile  `json:"profile"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, health{
		Status:   "ok",
		Entries:  s.router.Cache().Len(),
		Platform: s.platform,
		Profile:  s.router.Estimator().Profile(),
	})
}

// statusFor maps a failed event to an HTTP status; the event is still the body.
func statusFor(ev models.QueryEvent) int {
	if !ev.Failed() {
		return http.StatusOK
	}
	switch ev.Reason {
	case models.ReasonTimeout:
		return http.StatusGatewayTimeout
	case models.ReasonBudget:
		return http.StatusTooManyRequests
	case models.ReasonInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.Newf("%s must be a positive integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"greencache_error","code":%d}}`, message, code)
}
