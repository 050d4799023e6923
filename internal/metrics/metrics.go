// Package metrics exports evaluation activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docfold/docbench/internal/evaluation"
	"github.com/docfold/docbench/internal/report"
)

const namespace = "docbench"

// Recorder owns a private registry so several recorders can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	pairs          *prometheus.CounterVec
	pairDuration   *prometheus.HistogramVec
	inFlight       *prometheus.GaugeVec
	runs           *prometheus.CounterVec
	backendAverage *prometheus.GaugeVec
	cacheLookups   *prometheus.CounterVec
	busPublishes   *prometheus.CounterVec
	busLatency     *prometheus.HistogramVec
}

// NewRecorder registers all collectors, including Go runtime and process
// metrics.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_total",
			Help:      "Document/backend pairs by final status.",
		}, []string{"backend", "status"}),
		pairDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Wall time of extraction plus scoring per pair.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"backend"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pairs_in_flight",
			Help:      "Pairs currently being extracted.",
		}, []string{"backend"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Evaluation runs by outcome.",
		}, []string{"outcome"}),
		backendAverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_average",
			Help:      "Per-backend metric averages of the most recent run.",
		}, []string{"backend", "metric"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Extraction cache lookups.",
		}, []string{"engine", "result"}),
		busPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_total",
			Help:      "Progress events published.",
		}, []string{"topic", "result"}),
		busLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_duration_seconds",
			Help:      "Publish latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.pairs, r.pairDuration, r.inFlight, r.runs, r.backendAverage,
		r.cacheLookups, r.busPublishes, r.busLatency,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Observe implements evaluation.Observer.
func (r *Recorder) Observe(p evaluation.Progress) {
	switch p.Status {
	case evaluation.StatusStarted:
		r.inFlight.WithLabelValues(p.BackendName).Inc()
		return
	case evaluation.StatusCompleted, evaluation.StatusFailed:
		r.pairDuration.WithLabelValues(p.BackendName).Observe(p.Duration.Seconds())
		r.inFlight.WithLabelValues(p.BackendName).Dec()
	case evaluation.StatusCancelled:
		// A pair cancelled before it started carries no duration.
		if p.Duration > 0 {
			r.inFlight.WithLabelValues(p.BackendName).Dec()
		}
	}
	r.pairs.WithLabelValues(p.BackendName, string(p.Status)).Inc()
}

// RunFinished counts a run and, for completed runs, publishes its averages.
func (r *Recorder) RunFinished(rep *report.Report, err error) {
	if err != nil {
		r.runs.WithLabelValues("error").Inc()
		return
	}
	r.runs.WithLabelValues("completed").Inc()
	if rep == nil {
		return
	}

	for _, s := range rep.BackendSummaries {
		for metric, v := range map[string]*float64{
			"cer":                 s.AvgCER,
			"wer":                 s.AvgWER,
			"table_f1":            s.AvgTableF1,
			"heading_f1":          s.AvgHeadingF1,
			"reading_order_score": s.AvgReadingOrderScore,
		} {
			if v == nil {
				r.backendAverage.DeleteLabelValues(s.BackendName, metric)
				continue
			}
			r.backendAverage.WithLabelValues(s.BackendName, metric).Set(*v)
		}
	}
}

// RecordCacheLookup matches cache.HitRecorder.
func (r *Recorder) RecordCacheLookup(engine string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(engine, result).Inc()
}

// RecordBusPublish implements bus.MetricsRecorder.
func (r *Recorder) RecordBusPublish(topic string, latency time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.busPublishes.WithLabelValues(topic, result).Inc()
	r.busLatency.WithLabelValues(topic).Observe(latency.Seconds())
}
