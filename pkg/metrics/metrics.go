// Package metrics holds the Prometheus series exported by noticewatch.
package metrics

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "noticewatch"

// Metrics holds all collectors. It satisfies the aggregation recorder and
// the HTTP client observer.
type Metrics struct {
	SourceRecords   *prometheus.CounterVec
	SourceErrors    *prometheus.CounterVec
	SourceDuration  *prometheus.HistogramVec
	Resolutions     *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	FeedItems       *prometheus.GaugeVec
	FeedLastRun     *prometheus.GaugeVec
	RefreshSkipped  *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	SinkErrors      *prometheus.CounterVec
	registry        prometheus.Gatherer
}

// New registers every collector on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.SourceRecords = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "source", Name: "records_total",
		Help: "Raw records fetched per source.",
	}, []string{"feed", "source"})
	m.SourceErrors = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "source", Name: "errors_total",
		Help: "Source failures by kind (config, fetch).",
	}, []string{"feed", "source", "kind"})
	m.SourceDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace, Subsystem: "source", Name: "duration_seconds",
		Help:    "Time spent fetching and processing one source.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	}, []string{"feed", "source"})
	m.Resolutions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "resolve", Name: "outcomes_total",
		Help: "Link resolution outcomes by candidate type.",
	}, []string{"feed", "type", "outcome"})
	m.Dropped = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "feed", Name: "dropped_total",
		Help: "Notices dropped before publication, by reason.",
	}, []string{"feed", "reason"})
	m.FeedItems = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: "feed", Name: "items",
		Help: "Items in the last persisted bundle.",
	}, []string{"feed"})
	m.FeedLastRun = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: "feed", Name: "last_run_timestamp_seconds",
		Help: "Unix time of the last completed run.",
	}, []string{"feed"})
	m.RefreshSkipped = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "feed", Name: "refresh_skipped_total",
		Help: "Refresh requests rejected because a run was in progress.",
	}, []string{"feed"})
	m.HTTPRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "http", Name: "requests_total",
		Help: "Outbound HTTP attempts by host and status code.",
	}, []string{"host", "code"})
	m.HTTPDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "Outbound HTTP attempt latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"host"})
	m.SinkErrors = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "sink", Name: "errors_total",
		Help: "Post-persist sink failures.",
	}, []string{"feed", "sink"})
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SourceDone records one finished source. errKind is empty on success.
func (m *Metrics) SourceDone(feed, source string, records int, errKind string, elapsed time.Duration) {
	m.SourceRecords.WithLabelValues(feed, source).Add(float64(records))
	m.SourceDuration.WithLabelValues(feed, source).Observe(elapsed.Seconds())
	if errKind != "" {
		m.SourceErrors.WithLabelValues(feed, source, errKind).Inc()
	}
}

// Resolved records a link resolution outcome.
func (m *Metrics) Resolved(feed, linkType string, kept bool) {
	outcome := "kept"
	if !kept {
		outcome = "skipped"
	}
	m.Resolutions.WithLabelValues(feed, linkType, outcome).Inc()
}

// Drop records a notice removed from a feed.
func (m *Metrics) Drop(feed, reason string) {
	m.Dropped.WithLabelValues(feed, reason).Inc()
}

// RunDone records a completed run.
func (m *Metrics) RunDone(feed string, items int, at time.Time) {
	m.FeedItems.WithLabelValues(feed).Set(float64(items))
	m.FeedLastRun.WithLabelValues(feed).Set(float64(at.Unix()))
}

// RunSkipped records a refresh rejected by the run guard.
func (m *Metrics) RunSkipped(feed string) {
	m.RefreshSkipped.WithLabelValues(feed).Inc()
}

// SinkFailed records a sink error.
func (m *Metrics) SinkFailed(feed, sink string) {
	m.SinkErrors.WithLabelValues(feed, sink).Inc()
}

// ObserveRequest records one outbound HTTP attempt.
func (m *Metrics) ObserveRequest(host string, status int, err error, elapsed time.Duration) {
	code := strconv.Itoa(status)
	if err != nil {
		code = "error"
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			code = "timeout"
		}
	}
	m.HTTPRequests.WithLabelValues(host, code).Inc()
	m.HTTPDuration.WithLabelValues(host).Observe(elapsed.Seconds())
}
