package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ratesim/internal/config"
	"ratesim/internal/engine"
	"ratesim/internal/logging"
	"ratesim/internal/model"
	"ratesim/internal/report"
)

// Engine is the part of the simulator the admin API reads from. Requests
// are never submitted over HTTP.
type Engine interface {
	Status() engine.Status
	Clients() []string
	Known(clientID string) bool
	Stats(clientID string) model.ClientStats
	Activity(clientID string) model.ActivitySnapshot
	Analyze(ctx context.Context, clientID string) model.ReportRecord
	RemainingQuota(clientID string) int
	TimeUntilReset(clientID string) time.Duration
	Clear(clientID string)
	Alerts(limit int) []model.ReportRecord
	AlertsSince(ts time.Time) []model.ReportRecord
	ClearAlerts() int
	History(ctx context.Context, clientID string, limit int) ([]model.ReportRecord, error)
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	engine  Engine
	cfg     *config.Manager
	metrics http.Handler
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"config_path,omitempty"`
	Engine     engine.Status `json:"engine"`
}

type quotaResponse struct {
	ClientID  string `json:"client_id"`
	Remaining int    `json:"remaining"`
	ResetIn   string `json:"reset_in"`
	ResetInMS int64  `json:"reset_in_ms"`
}

// NewServer wires the admin routes. cfg and metricsHandler may be nil.
func NewServer(eng Engine, cfg *config.Manager, metricsHandler http.Handler, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{engine: eng, cfg: cfg, metrics: metricsHandler, logger: logger, version: version}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/status", s.handleStatus)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/alerts", s.handleAlerts)
	r.Delete("/alerts", s.handleClearAlerts)
	r.Get("/clients", s.handleClients)
	r.Get("/config/limiter", s.handleGetLimiter)
	r.Post("/config/limiter", s.handleSetLimiter)
	r.Route("/clients/{id}", func(r chi.Router) {
		r.Get("/", s.handleStats)
		r.Get("/activity", s.handleActivity)
		r.Get("/report", s.handleReport)
		r.Get("/quota", s.handleQuota)
		r.Get("/history", s.handleHistory)
		r.Post("/clear", s.handleClear)
	})
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api enabled", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"route", routePattern(r),
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Engine:  s.engine.Status(),
	}
	if s.cfg != nil {
		resp.ConfigPath = s.cfg.Path()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var list []model.ReportRecord
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = s.engine.AlertsSince(ts)
	} else {
		list = s.engine.Alerts(queryLimit(r))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": s.engine.ClearAlerts()})
}

type limiterRequest struct {
	MaxRequests int    `json:"max_requests"`
	Window      string `json:"window"`
}

func (s *Server) handleGetLimiter(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, limiterRequest{MaxRequests: st.MaxRequests, Window: st.Window.String()})
}

// handleSetLimiter changes the enforcer limits, saves them to the config file
// and applies them. Ledgers are kept.
func (s *Server) handleSetLimiter(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		writeError(w, http.StatusConflict, "no config file in use")
		return
	}
	var req limiterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	next := *s.cfg.Get()
	if req.MaxRequests != 0 {
		next.Limiter.MaxRequests = req.MaxRequests
	}
	if req.Window != "" {
		window, err := time.ParseDuration(req.Window)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		next.Limiter.Window = window
	}
	if err := config.Validate(&next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Update(&next); err != nil {
		s.logger.Error("config update failed", "path", s.cfg.Path(), "err", err)
		writeError(w, http.StatusInternalServerError, "config not saved")
		return
	}
	s.engine.UpdateConfig(&next)
	writeJSON(w, http.StatusOK, limiterRequest{MaxRequests: next.Limiter.MaxRequests, Window: next.Limiter.Window.String()})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := s.engine.Clients()
	writeJSON(w, http.StatusOK, map[string]any{
		"clients": clients,
		"count":   len(clients),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.client(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Stats(id))
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.client(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Activity(id))
}

// handleReport runs a fresh analysis. format=text returns the printable
// report instead of JSON.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.client(w, r)
	if !ok {
		return
	}
	rec := s.engine.Analyze(r.Context(), id)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.Violation(rec)))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := s.client(w, r)
	if !ok {
		return
	}
	reset := s.engine.TimeUntilReset(id)
	writeJSON(w, http.StatusOK, quotaResponse{
		ClientID:  id,
		Remaining: s.engine.RemainingQuota(id),
		ResetIn:   reset.String(),
		ResetInMS: reset.Milliseconds(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.client(w, r)
	if !ok {
		return
	}
	list, err := s.engine.History(r.Context(), id, queryLimit(r))
	if err != nil {
		s.logger.Warn("history query failed", "client_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": list,
		"count":   len(list),
	})
}

// handleClear is idempotent and accepts unknown clients.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.engine.Clear(id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "client_id": id})
}

func (s *Server) client(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !s.engine.Known(id) {
		writeError(w, http.StatusNotFound, "unknown client")
		return "", false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
