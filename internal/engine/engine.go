package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ratesim/internal/alerts"
	"ratesim/internal/analyzer"
	"ratesim/internal/config"
	"ratesim/internal/ledger"
	"ratesim/internal/limiter"
	"ratesim/internal/logging"
	"ratesim/internal/metrics"
	"ratesim/internal/model"
	"ratesim/internal/policy"
	"ratesim/internal/stats"
)

// Archive receives every decision and analysis result. storage.Store
// satisfies it.
type Archive interface {
	SaveDecision(ctx context.Context, d model.Decision) error
	SaveReport(ctx context.Context, rec model.ReportRecord) error
}

type historyReader interface {
	RecentReports(ctx context.Context, clientID string, limit int) ([]model.ReportRecord, error)
}

// Publisher streams decisions and results to an external bus.
type Publisher interface {
	PublishDecision(ctx context.Context, d model.Decision) error
	PublishReport(ctx context.Context, rec model.ReportRecord) error
}

type Options struct {
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Alerts    *alerts.Store
	Archive   Archive
	Publisher Publisher
	Clock     func() time.Time
}

// Engine is the single entry point of the simulator. It owns the ledgers,
// admits requests, runs analyses and fans results out to the optional sinks.
// Sink failures are logged and never change a decision.
type Engine struct {
	logger    *slog.Logger
	metrics   *metrics.Recorder
	alerts    *alerts.Store
	archive   Archive
	publisher Publisher
	clock     func() time.Time

	cfg      atomic.Pointer[config.Config]
	loc      atomic.Pointer[time.Location]
	registry *ledger.Registry
	analyzer *analyzer.Analyzer

	// mu makes clamp, admit and track one step per request and keeps
	// analyses from seeing a half-applied submission.
	mu       sync.Mutex
	enforcer *limiter.Enforcer

	started  time.Time
	cooldown *Cooldown
	deDupe   *DedupeCache
}

type Status struct {
	Started     time.Time     `json:"started"`
	Clients     int           `json:"clients"`
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
	Policies    []string      `json:"policies"`
	Alerts      int           `json:"alerts"`
}

func NewEngine(cfg *config.Config, opts Options) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	alertStore := opts.Alerts
	if alertStore == nil {
		alertStore = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	registry := ledger.NewRegistry()
	e := &Engine{
		logger:    logger,
		metrics:   opts.Metrics,
		alerts:    alertStore,
		archive:   opts.Archive,
		publisher: opts.Publisher,
		clock:     clock,
		registry:  registry,
		analyzer:  analyzer.New(registry, policy.FromConfig(cfg.Policies, policy.Clock(clock))...),
		enforcer:  limiter.New(cfg.Limiter.MaxRequests, cfg.Limiter.Window, registry, limiter.Clock(clock)),
		started:   clock().UTC(),
		cooldown:  NewCooldown(),
		deDupe:    NewDedupeCache(),
	}
	e.cfg.Store(cfg)
	e.loc.Store(locationOf(cfg))
	return e
}

func locationOf(cfg *config.Config) *time.Location {
	if loc, err := cfg.Location(); err == nil {
		return loc
	}
	return time.Local
}

// UpdateConfig swaps limits and policies. Ledgers are kept.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.mu.Lock()
	e.enforcer = limiter.New(cfg.Limiter.MaxRequests, cfg.Limiter.Window, e.registry, limiter.Clock(e.clock))
	e.mu.Unlock()
	e.analyzer.SetPolicies(policy.FromConfig(cfg.Policies, policy.Clock(e.clock))...)
	e.cfg.Store(cfg)
	e.loc.Store(locationOf(cfg))
	e.logger.Info("config applied",
		"max_requests", cfg.Limiter.MaxRequests,
		"window", cfg.Limiter.Window.String(),
		"policies", e.analyzer.Policies(),
	)
}

func (e *Engine) config() *config.Config {
	if cfg := e.cfg.Load(); cfg != nil {
		return cfg
	}
	return config.DefaultConfig()
}

// Submit admits or rejects one request. A zero timestamp takes the clock in
// the configured timezone and a timestamp older than the client's last one is
// moved up to it, so the ledgers stay in order.
func (e *Engine) Submit(ctx context.Context, req model.Request) model.Decision {
	if req.Timestamp.IsZero() {
		req.Timestamp = e.clock().In(e.loc.Load())
	}

	e.mu.Lock()
	if last, ok := e.registry.LastTimestamp(req.ClientID); ok && req.Timestamp.Before(last) {
		e.logger.Debug("timestamp clamped",
			"client_id", req.ClientID,
			"timestamp", req.Timestamp,
			"clamped_to", last,
		)
		req.Timestamp = last
	}
	d := e.enforcer.Process(req)
	e.registry.Track(req, d.Outcome)
	e.mu.Unlock()

	e.metrics.ObserveDecision(d)
	e.metrics.SetClients(len(e.registry.Clients()))
	if d.Admitted() {
		e.logger.Debug("request admitted", "client_id", req.ClientID, "category", req.Category, "remaining", d.Remaining)
	} else {
		e.logger.Info("request rejected", "client_id", req.ClientID, "category", req.Category)
	}

	if e.archive != nil {
		if err := e.archive.SaveDecision(ctx, d); err != nil {
			e.logger.Warn("archive decision failed", "client_id", req.ClientID, "err", err)
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishDecision(ctx, d); err != nil {
			e.logger.Warn("publish decision failed", "client_id", req.ClientID, "err", err)
		}
	}
	return d
}

// Analyze runs the policy pipeline for one client and records the result.
func (e *Engine) Analyze(ctx context.Context, clientID string) model.ReportRecord {
	e.mu.Lock()
	report := e.analyzer.Analyze(clientID)
	clientStats := stats.ForClient(e.registry, clientID)
	e.mu.Unlock()

	now := e.clock()
	rec := model.ReportRecord{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		Level:      report.Level,
		Violations: report.Violations,
		AnalyzedAt: now.UTC(),
		Stats:      clientStats,
	}
	e.metrics.ObserveReport(rec.Level)

	if rec.Level != model.LevelNormal {
		e.raise(rec, now)
	}
	if e.archive != nil {
		if err := e.archive.SaveReport(ctx, rec); err != nil {
			e.logger.Warn("archive report failed", "client_id", clientID, "err", err)
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishReport(ctx, rec); err != nil {
			e.logger.Warn("publish report failed", "client_id", clientID, "err", err)
		}
	}
	return rec
}

func (e *Engine) raise(rec model.ReportRecord, now time.Time) {
	cfg := e.config()
	if e.deDupe.Seen(fingerprint(rec.ClientID, rec.Level, rec.Violations), now, cfg.Alerts.DedupeWindow) {
		return
	}
	// the ring keeps its own copy so callers may modify what Analyze returned
	rec.Violations = slices.Clone(rec.Violations)
	e.alerts.Add(rec)
	if e.cooldown.Allow(rec.ClientID, rec.Level, now, cfg.Alerts.Cooldown) {
		e.logger.Warn("abuse detected",
			"client_id", rec.ClientID,
			"level", rec.Level.String(),
			"violations", len(rec.Violations),
		)
	}
}

func (e *Engine) Stats(clientID string) model.ClientStats {
	return stats.ForClient(e.registry, clientID)
}

func (e *Engine) Compare() []model.ClientStats {
	return stats.Compare(e.registry)
}

func (e *Engine) Clients() []string {
	return e.registry.Clients()
}

func (e *Engine) Known(clientID string) bool {
	return e.registry.Known(clientID)
}

func (e *Engine) Activity(clientID string) model.ActivitySnapshot {
	return e.registry.Activity(clientID)
}

func (e *Engine) AllActivity() map[string]model.ActivitySnapshot {
	return e.registry.AllActivity()
}

func (e *Engine) RemainingQuota(clientID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enforcer.RemainingQuota(clientID)
}

func (e *Engine) TimeUntilReset(clientID string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enforcer.TimeUntilReset(clientID)
}

// Clear truncates both ledgers of a client. The client stays known.
func (e *Engine) Clear(clientID string) {
	e.mu.Lock()
	e.registry.Clear(clientID)
	e.mu.Unlock()
	e.cooldown.Forget(clientID)
	e.metrics.ForgetClient(clientID)
	e.logger.Info("client cleared", "client_id", clientID)
}

func (e *Engine) Alerts(limit int) []model.ReportRecord {
	return e.alerts.List(limit)
}

func (e *Engine) AlertsSince(ts time.Time) []model.ReportRecord {
	return e.alerts.Since(ts)
}

// ClearAlerts empties the alerts ring and forgets dedupe fingerprints, so the
// next matching analysis is kept again. It returns how many alerts were dropped.
func (e *Engine) ClearAlerts() int {
	n := e.alerts.Len()
	e.alerts.Clear()
	e.deDupe.Reset()
	e.logger.Info("alerts cleared", "count", n)
	return n
}

// History returns archived results for a client, newest first. Without a
// queryable archive it falls back to the in-memory alerts.
func (e *Engine) History(ctx context.Context, clientID string, limit int) ([]model.ReportRecord, error) {
	if h, ok := e.archive.(historyReader); ok {
		return h.RecentReports(ctx, clientID, limit)
	}
	kept := e.alerts.ForClient(clientID)
	out := make([]model.ReportRecord, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	maxRequests, window := e.enforcer.Limits()
	e.mu.Unlock()
	return Status{
		Started:     e.started,
		Clients:     len(e.registry.Clients()),
		MaxRequests: maxRequests,
		Window:      window,
		Policies:    e.analyzer.Policies(),
		Alerts:      e.alerts.Len(),
	}
}
