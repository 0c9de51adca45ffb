package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazz-dev/livewatch/internal/detector"
	"github.com/hazz-dev/livewatch/internal/policy"
	"github.com/hazz-dev/livewatch/internal/storage"
)

// StatusSource reports the monitor's current state.
type StatusSource interface {
	Status() policy.Status
}

// TickStore defines the storage queries the server needs.
type TickStore interface {
	LatestTick(ctx context.Context) (*storage.Tick, error)
	History(ctx context.Context, limit, offset int) ([]storage.Tick, int, error)
	Trips(ctx context.Context, limit int) ([]storage.Tick, error)
	LivePercent(ctx context.Context, last int) (float64, error)
}

// Server holds the chi router and its dependencies.
type Server struct {
	monitor StatusSource
	store   TickStore
	metrics http.Handler
	router  chi.Router
	logger  *slog.Logger
}

// Options configures optional parts of the API.
type Options struct {
	// Store backs /api/ticks and /api/trips. Nil disables history.
	Store TickStore
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// New creates a new Server and registers all routes.
func New(monitor StatusSource, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		monitor: monitor,
		store:   opts.Store,
		metrics: opts.Metrics,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/ticks", s.handleTicks)
	r.Get("/api/trips", s.handleTrips)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type strategyDetail struct {
	Strategy   string   `json:"strategy"`
	Live       bool     `json:"live"`
	Entries    int      `json:"entries"`
	Titles     []string `json:"titles,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

type tickDetail struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	DurationMs int64            `json:"duration_ms"`
	Live       bool             `json:"live"`
	Label      string           `json:"label"`
	Failures   int              `json:"failures"`
	Tripped    bool             `json:"tripped"`
	Reboot     string           `json:"reboot,omitempty"`
	Count      int              `json:"count"`
	Errors     string           `json:"errors,omitempty"`
	Strategies []strategyDetail `json:"strategies"`
	// Stored is set when the tick was read back from history rather than
	// observed by this process.
	Stored bool `json:"stored,omitempty"`
}

type statusDetail struct {
	Channel     string      `json:"channel"`
	Count       int         `json:"count"`
	Max         int         `json:"max"`
	LivePercent *float64    `json:"live_percent,omitempty"`
	LastTick    *tickDetail `json:"last_tick"`
}

func newTickDetail(t policy.TickResult) *tickDetail {
	d := &tickDetail{
		ID:         t.ID,
		StartedAt:  t.StartedAt,
		DurationMs: t.Duration.Milliseconds(),
		Live:       t.Live,
		Label:      t.Label,
		Failures:   t.Failures,
		Tripped:    t.Tripped,
		Reboot:     string(t.Reboot),
		Count:      t.Count,
		Strategies: make([]strategyDetail, 0, len(t.Strategies)),
	}
	for _, sr := range t.Strategies {
		d.Strategies = append(d.Strategies, newStrategyDetail(sr))
	}
	return d
}

func newStoredTickDetail(t storage.Tick) *tickDetail {
	return &tickDetail{
		ID:         t.TickID,
		StartedAt:  t.StartedAt,
		DurationMs: t.DurationMs,
		Live:       t.Live,
		Label:      t.Label,
		Failures:   t.Failures,
		Tripped:    t.Tripped,
		Reboot:     t.Reboot,
		Count:      t.Count,
		Errors:     t.Errors,
		Strategies: []strategyDetail{},
		Stored:     true,
	}
}

func newStrategyDetail(sr detector.StrategyResult) strategyDetail {
	return strategyDetail{
		Strategy:   sr.Strategy,
		Live:       sr.Live,
		Entries:    sr.Entries,
		Titles:     sr.Titles,
		Error:      sr.Error,
		DurationMs: sr.Duration.Milliseconds(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Status()

	d := statusDetail{
		Channel: st.Channel,
		Count:   st.Count,
		Max:     st.Max,
	}
	if st.LastTick != nil {
		d.LastTick = newTickDetail(*st.LastTick)
	} else if s.store != nil {
		// Nothing observed since start; fall back to the last persisted tick.
		latest, err := s.store.LatestTick(r.Context())
		if err != nil {
			s.logger.Error("LatestTick", "error", err)
		} else if latest != nil {
			d.LastTick = newStoredTickDetail(*latest)
		}
	}
	if s.store != nil {
		pct, err := s.store.LivePercent(r.Context(), 100)
		if err != nil {
			s.logger.Error("LivePercent", "error", err)
		} else {
			d.LivePercent = &pct
		}
	}

	writeJSON(w, http.StatusOK, d)
}

type historyResponse struct {
	Ticks []storage.Tick `json:"ticks"`
	Total int            `json:"total"`
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "tick history is disabled")
		return
	}

	const maxLimit = 1000

	limit := 50
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset parameter")
			return
		}
		offset = n
	}

	ticks, total, err := s.store.History(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("History", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ticks == nil {
		ticks = []storage.Tick{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Ticks: ticks,
		Total: total,
	})
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "tick history is disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	trips, err := s.store.Trips(r.Context(), limit)
	if err != nil {
		s.logger.Error("Trips", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if trips == nil {
		trips = []storage.Tick{}
	}
	writeJSON(w, http.StatusOK, trips)
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
