package agent

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for classification turns.
//
// Metrics:
//   - pulsecheck_model_attempts_total{schema,outcome} - structured invoker attempts
//   - pulsecheck_turns_total{outcome} - orchestrator turns by result
//   - pulsecheck_turn_duration_seconds - end-to-end turn latency
//   - pulsecheck_questions_total{field} - follow-up questions surfaced
//   - pulsecheck_model_tokens_total{direction} - provider token usage
type Metrics struct {
	AttemptsTotal  *prometheus.CounterVec
	TurnsTotal     *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	QuestionsTotal *prometheus.CounterVec
	TokensTotal    *prometheus.CounterVec
}

// NewMetrics registers the metrics once per process and returns the shared set.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			AttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulsecheck_model_attempts_total",
					Help: "Structured model invocation attempts",
				},
				[]string{"schema", "outcome"}, // "ok", "schema_error", "transport_error"
			),
			TurnsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulsecheck_turns_total",
					Help: "Classification turns by outcome",
				},
				[]string{"outcome"}, // "final", "questions", "invalid", "unavailable"
			),
			TurnDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pulsecheck_turn_duration_seconds",
					Help:    "Duration of a classification turn in seconds",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
				},
			),
			QuestionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulsecheck_questions_total",
					Help: "Follow-up questions surfaced to users",
				},
				[]string{"field"},
			),
			TokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulsecheck_model_tokens_total",
					Help: "Model tokens consumed",
				},
				[]string{"direction"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) recordAttempt(schema, outcome string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(schema, outcome).Inc()
}

func (m *Metrics) recordTurn(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) recordQuestions(fields []string) {
	if m == nil {
		return
	}
	for _, f := range fields {
		m.QuestionsTotal.WithLabelValues(f).Inc()
	}
}

func (m *Metrics) recordTokens(in, out int64) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input").Add(float64(in))
	m.TokensTotal.WithLabelValues("output").Add(float64(out))
}
