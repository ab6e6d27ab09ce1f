package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder collects orchestration counters on a private registry. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	turns            *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	externalTimeouts *prometheus.CounterVec
	checkpoints      *prometheus.CounterVec
	handoffs         *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

func New(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Recognized user turns handled, by persona.",
		}, []string{"persona"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations, by tool and outcome code.",
		}, []string{"tool", "outcome"}),
		externalTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_timeouts_total",
			Help:      "Timed out calls to external collaborators.",
		}, []string{"collaborator"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Durable record saves, by kind and result.",
		}, []string{"kind", "result"}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Persona handoffs, by source and target persona.",
		}, []string{"from", "to"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently open.",
		}),
	}
	reg.MustRegister(r.turns, r.toolCalls, r.externalTimeouts, r.checkpoints, r.handoffs, r.activeSessions)
	return r
}

func (r *Recorder) Turn(persona string) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(persona).Inc()
}

func (r *Recorder) ToolCall(tool, outcome string) {
	if r == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	r.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (r *Recorder) ExternalTimeout(collaborator string) {
	if r == nil {
		return
	}
	r.externalTimeouts.WithLabelValues(collaborator).Inc()
}

func (r *Recorder) Checkpoint(kind string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.checkpoints.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) Handoff(from, to string) {
	if r == nil {
		return
	}
	r.handoffs.WithLabelValues(from, to).Inc()
}

func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.activeSessions.Inc()
}

func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.activeSessions.Dec()
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
