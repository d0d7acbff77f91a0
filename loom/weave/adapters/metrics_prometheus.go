package adapters

import (
	"strconv"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics groups the Prometheus instruments recorded per turn.
type PrometheusMetrics struct {
	Turns        *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec
	Tokens       *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the instruments with reg.
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome and whether the history was compacted.",
		}, []string{"outcome", "compacted"}),
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn latency including compaction and generation.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		Tokens: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tokens",
			Help:      "Token counts by kind: incoming, summary, output_ceiling.",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 12),
		}, []string{"kind"}),
	}
}

func (m *PrometheusMetrics) ObserveTurn(outcome string, compacted bool, elapsed time.Duration) {
	m.Turns.WithLabelValues(outcome, strconv.FormatBool(compacted)).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) ObserveTokens(kind string, tokens int) {
	m.Tokens.WithLabelValues(kind).Observe(float64(tokens))
}

var _ ports.Metrics = (*PrometheusMetrics)(nil)
