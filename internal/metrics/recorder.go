package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ratesim/internal/model"
)

const namespace = "ratesim"

// Recorder exposes simulator counters on its own registry so tests and
// multiple engines never collide on the global one.
type Recorder struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	reports   *prometheus.CounterVec
	clients   prometheus.Gauge
	remaining *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Enforcer decisions by outcome.",
		}, []string{"outcome"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Abuse analyses by resulting level.",
		}, []string{"level"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients",
			Help:      "Clients known to the ledgers.",
		}),
		remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remaining_quota",
			Help:      "Remaining quota reported with the last decision per client.",
		}, []string{"client_id"}),
	}
	r.registry.MustRegister(
		r.decisions,
		r.reports,
		r.clients,
		r.remaining,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) ObserveDecision(d model.Decision) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(string(d.Outcome)).Inc()
	r.remaining.WithLabelValues(d.Request.ClientID).Set(float64(d.Remaining))
}

func (r *Recorder) ObserveReport(level model.Level) {
	if r == nil {
		return
	}
	r.reports.WithLabelValues(level.String()).Inc()
}

func (r *Recorder) SetClients(n int) {
	if r == nil {
		return
	}
	r.clients.Set(float64(n))
}

// ForgetClient drops per-client series after a clear.
func (r *Recorder) ForgetClient(clientID string) {
	if r == nil {
		return
	}
	r.remaining.DeleteLabelValues(clientID)
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
