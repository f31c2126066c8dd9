package telemetry

import (
	"context"
	"net/http"
	"time"

	"browseragent-core/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide Prometheus registry for tool executions,
// cache hits, pool occupancy, and perception timings. Grounded on
// cklxx-elephant.ai's client_golang wiring: one
// collector set built once at startup, fed by an EventBus subscription
// rather than calls scattered through internal/core, so core stays free
// of a metrics import.
type Metrics struct {
	toolExecutions *prometheus.CounterVec
	cacheHits      prometheus.Counter
	poolCheckouts  prometheus.Counter
	poolSize       prometheus.Gauge
	poolIdle       prometheus.Gauge
	perceptionDur  *prometheus.HistogramVec
}

// NewMetrics registers the collector set against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tool_executions_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "tool_cache_hits_total",
			Help: "Tool executions served from the multi-level cache.",
		}),
		poolCheckouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_checkouts_total",
			Help: "Browser instances checked out of the pool.",
		}),
		poolSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pool_current_size",
			Help: "Live browser instances currently held by the pool.",
		}),
		poolIdle: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pool_current_idle",
			Help: "Idle browser instances currently available for reuse.",
		}),
		perceptionDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perception_duration_seconds",
			Help:    "Layered perception engine pass duration by tier.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
	}
}

// Handler serves prometheus.DefaultGatherer over HTTP in the standard
// Prometheus text-exposition format; collectors registered against any
// other registry passed to NewMetrics are not exposed by it.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Subscribe drains bus until ctx is cancelled, folding ToolCompleted and
// AnalysisCompleted events into the counters/histograms above. Run as a
// single long-lived goroutine from main; unsubscribes on return.
func (m *Metrics) Subscribe(ctx context.Context, bus *core.EventBus) {
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			m.observe(evt)
		}
	}
}

func (m *Metrics) observe(evt core.Event) {
	switch evt.Kind {
	case core.EventToolCompleted:
		outcome := "success"
		if !evt.Success {
			outcome = "failure"
		}
		m.toolExecutions.WithLabelValues(evt.ToolName, outcome).Inc()
		if evt.CacheHit {
			m.cacheHits.Inc()
		}
	case core.EventAnalysisCompleted:
		m.perceptionDur.WithLabelValues(evt.Mode.String()).Observe(evt.Duration.Seconds())
	}
}

// PollPool samples pool stats every interval until ctx is cancelled,
// updating the size/idle gauges and accumulating checkout deltas into the
// checkout counter. Pool.Stats() already accumulates monotonically, so
// this reports a delta against the last observed total rather than
// re-adding the whole running count each tick.
func (m *Metrics) PollPool(ctx context.Context, pool *core.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastCheckouts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pool.Stats()
			m.poolSize.Set(float64(stats.CurrentSize))
			m.poolIdle.Set(float64(stats.CurrentIdle))
			if delta := stats.TotalCheckouts - lastCheckouts; delta > 0 {
				m.poolCheckouts.Add(float64(delta))
			}
			lastCheckouts = stats.TotalCheckouts
		}
	}
}
