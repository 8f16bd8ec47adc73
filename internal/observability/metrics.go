package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	ActiveGenerations  prometheus.Gauge
	EngineErrors       *prometheus.CounterVec
	ArtifactBytes      *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		GenerationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation requests by kind and outcome.",
		}, []string{"kind", "status"}),
		GenerationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock duration of the full pipeline per request.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160, 320},
		}, []string{"kind"}),
		ActiveGenerations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_generations",
			Help:      "Number of generation requests currently in flight.",
		}),
		EngineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Inference engine failures by provider.",
		}, []string{"provider"}),
		ArtifactBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes of produced artifacts by format.",
		}, []string{"format"}),
	}
}

func (m *Metrics) ObserveGeneration(kind string, d time.Duration) {
	m.GenerationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
