package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authorizer"

// Recorder holds the service's collectors on its own registry.
type Recorder struct {
	registry    *prometheus.Registry
	decisions   *prometheus.CounterVec
	jwksFetches *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Authorization decisions by effect and failure kind.",
		}, []string{"effect", "kind"}),
		jwksFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_fetches_total",
			Help:      "Signing key set fetches by source and result.",
		}, []string{"source", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "authorize_duration_seconds",
			Help:      "Time spent producing a decision.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"transport"}),
	}

	r.registry.MustRegister(
		r.decisions,
		r.jwksFetches,
		r.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Decision(effect, kind string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(effect, kind).Inc()
}

func (r *Recorder) JWKSFetch(source, result string) {
	if r == nil {
		return
	}
	r.jwksFetches.WithLabelValues(source, result).Inc()
}

func (r *Recorder) ObserveAuthorize(transport string, seconds float64) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(transport).Observe(seconds)
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}
