// Package metrics exposes Prometheus collectors for target selection, event
// ingestion, the HTTP API and the callbot. A nil *Recorder is valid and
// records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
)

const namespace = "targeting"

// Recorder holds every collector the service reports.
type Recorder struct {
	registry prometheus.Gatherer

	selections        *prometheus.CounterVec
	selectionDuration prometheus.Histogram
	targetsReturned   *prometheus.CounterVec
	eventsIngested    *prometheus.CounterVec
	candidatesLoaded  prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	callsScheduled    prometheus.Counter
	callsSkipped      *prometheus.CounterVec
	callsPlaced       *prometheus.CounterVec
	pendingCalls      prometheus.Gauge
}

// New registers the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Recorder {
	auto := promauto.With(reg)
	return &Recorder{
		registry: g,
		selections: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Target selections by outcome.",
		}, []string{"outcome"}),
		selectionDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_duration_seconds",
			Help:      "Wall time of a target selection including the store read.",
			Buckets:   prometheus.DefBuckets,
		}),
		targetsReturned: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_returned_total",
			Help:      "Targets returned by risk tier.",
		}, []string{"tier"}),
		eventsIngested: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events upserted by kind.",
		}, []string{"kind"}),
		candidatesLoaded: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_imported_total",
			Help:      "Candidate rows upserted by imports.",
		}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		callsScheduled: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "callbot",
			Name:      "scheduled_total",
			Help:      "Verification calls scheduled.",
		}),
		callsSkipped: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "callbot",
			Name:      "skipped_total",
			Help:      "Verification calls skipped by reason.",
		}, []string{"reason"}),
		callsPlaced: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "callbot",
			Name:      "placed_total",
			Help:      "Verification calls attempted by result.",
		}, []string{"result"}),
		pendingCalls: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "callbot",
			Name:      "pending_timers",
			Help:      "Timers waiting to fire.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path in the text exposition format,
// for one-shot commands scraped through a textfile collector. An empty path
// writes nothing.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return eris.Wrapf(prometheus.WriteToTextfile(path, r.registry), "metrics: write %s", path)
}

// ObserveSelection records one Select call. tiers maps tier name to count.
func (r *Recorder) ObserveSelection(d time.Duration, tiers map[string]int, err error) {
	if r == nil {
		return
	}
	r.selectionDuration.Observe(d.Seconds())
	if err != nil {
		r.selections.WithLabelValues("error").Inc()
		return
	}
	r.selections.WithLabelValues("ok").Inc()
	for tier, n := range tiers {
		r.targetsReturned.WithLabelValues(tier).Add(float64(n))
	}
}

// EventsIngested adds n upserted events of the given kind.
func (r *Recorder) EventsIngested(kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.eventsIngested.WithLabelValues(kind).Add(float64(n))
}

// CandidatesImported adds n imported candidate rows.
func (r *Recorder) CandidatesImported(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.candidatesLoaded.Add(float64(n))
}

// ObserveHTTP records one request.
func (r *Recorder) ObserveHTTP(route, method string, code int, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// CallScheduled records a new timer.
func (r *Recorder) CallScheduled() {
	if r == nil {
		return
	}
	r.callsScheduled.Inc()
}

// CallSkipped records a call not placed and why.
func (r *Recorder) CallSkipped(reason string) {
	if r == nil {
		return
	}
	r.callsSkipped.WithLabelValues(reason).Inc()
}

// CallPlaced records a call attempt. result is "ok" or "error".
func (r *Recorder) CallPlaced(result string) {
	if r == nil {
		return
	}
	r.callsPlaced.WithLabelValues(result).Inc()
}

// SetPendingCalls reports the number of armed timers.
func (r *Recorder) SetPendingCalls(n int) {
	if r == nil {
		return
	}
	r.pendingCalls.Set(float64(n))
}
