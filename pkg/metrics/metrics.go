// Package metrics provides Prometheus-based metrics recording for plan,
// approval and clarification activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the orchestration metrics. Construct one per process and
// pass it to the components that record.
type Recorder struct {
	registry *prometheus.Registry

	plansTotal          *prometheus.CounterVec
	approvalsTotal      *prometheus.CounterVec
	approvalWaitSeconds prometheus.Histogram
	clarificationsTotal *prometheus.CounterVec
	stepsTotal          *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	tokensTotal         *prometheus.CounterVec
	liveSessions        prometheus.Gauge
}

// NewRecorder creates a recorder on its own registry so parallel instances
// (tests) never collide.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		plansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magentic_plans_total",
				Help: "Total orchestrated plans by terminal status",
			},
			[]string{"status"},
		),
		approvalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magentic_approvals_total",
				Help: "Total approval resolutions by decision",
			},
			[]string{"decision"},
		),
		approvalWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "magentic_approval_wait_seconds",
				Help:    "Time between approval request and resolution",
				Buckets: []float64{1, 5, 15, 60, 300, 900},
			},
		),
		clarificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magentic_clarifications_total",
				Help: "Total clarification requests by outcome",
			},
			[]string{"outcome"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magentic_steps_total",
				Help: "Total executed plan steps by agent and status",
			},
			[]string{"agent", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magentic_step_duration_seconds",
				Help:    "Duration of plan step execution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magentic_llm_tokens_total",
				Help: "Approximate LLM tokens by agent and direction",
			},
			[]string{"agent", "direction"},
		),
		liveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "magentic_live_sessions",
				Help: "Currently installed orchestration sessions",
			},
		),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObservePlan records a plan reaching a terminal status.
func (r *Recorder) ObservePlan(status string) {
	r.plansTotal.WithLabelValues(status).Inc()
}

// ObserveApproval records an approval resolution and how long the user took.
func (r *Recorder) ObserveApproval(decision string, wait time.Duration) {
	r.approvalsTotal.WithLabelValues(decision).Inc()
	r.approvalWaitSeconds.Observe(wait.Seconds())
}

// ObserveClarification records a clarification outcome ("answered",
// "abandoned").
func (r *Recorder) ObserveClarification(outcome string) {
	r.clarificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStep records one executed plan step.
func (r *Recorder) ObserveStep(agent, status string, duration time.Duration) {
	r.stepsTotal.WithLabelValues(agent, status).Inc()
	r.stepDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// ObserveTokens records approximate prompt and completion token counts for
// one agent invocation.
func (r *Recorder) ObserveTokens(agent string, prompt, completion int) {
	r.tokensTotal.WithLabelValues(agent, "prompt").Add(float64(prompt))
	r.tokensTotal.WithLabelValues(agent, "completion").Add(float64(completion))
}

// SetLiveSessions updates the live session gauge.
func (r *Recorder) SetLiveSessions(n int) {
	r.liveSessions.Set(float64(n))
}
