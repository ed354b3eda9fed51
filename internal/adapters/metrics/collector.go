// Package metrics exposes runner activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "session_runner"

type Collector struct {
	calls         *prometheus.CounterVec
	backoff       *prometheus.HistogramVec
	renewals      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cycleRecords  *prometheus.CounterVec
	lastCycle     prometheus.Gauge
	keepAlives    *prometheus.CounterVec
}

var _ ports.Metrics = (*Collector)(nil)

// NewCollector registers every metric on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Remote call attempts by operation and failure category.",
		}, []string{"op", "category"}),
		backoff: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Delays slept before retrying a call.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 180},
		}, []string{"category"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_renewals_total",
			Help:      "Session renewals by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time from cycle start until every account settled.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		}),
		cycleRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_records_total",
			Help:      "Per-account cycle outcomes.",
		}, []string{"outcome"}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished.",
		}),
		keepAlives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keep_alives_total",
			Help:      "Heartbeat keep-alive pings by success.",
		}, []string{"ok"}),
	}

	reg.MustRegister(
		c.calls,
		c.backoff,
		c.renewals,
		c.cycleDuration,
		c.cycleRecords,
		c.lastCycle,
		c.keepAlives,
	)

	return c
}

func (c *Collector) ObserveCall(op string, category domain.Category) {
	c.calls.WithLabelValues(op, category.String()).Inc()
}

func (c *Collector) ObserveBackoff(category domain.Category, delay time.Duration) {
	c.backoff.WithLabelValues(category.String()).Observe(delay.Seconds())
}

func (c *Collector) ObserveRenewal(result string) {
	c.renewals.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveCycle(duration time.Duration, records []domain.StatRecord) {
	c.cycleDuration.Observe(duration.Seconds())
	for _, record := range records {
		c.cycleRecords.WithLabelValues(string(record.Outcome)).Inc()
	}
	c.lastCycle.SetToCurrentTime()
}

func (c *Collector) ObserveKeepAlive(ok bool) {
	c.keepAlives.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// Handler serves /metrics for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
