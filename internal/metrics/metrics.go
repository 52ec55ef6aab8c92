// Package metrics exposes Prometheus instrumentation for expansions, layout
// passes, sessions and HTTP requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyuha/vyuha-explorer/internal/expand"
	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/layout"
)

const namespace = "vyuha"

// Collector owns a private registry so tests and multiple servers in one
// process do not collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	expansions        *prometheus.CounterVec
	expansionDuration prometheus.Histogram
	nodesAdded        prometheus.Counter
	edgesAdded        prometheus.Counter
	edgesDropped      prometheus.Counter
	layoutDuration    *prometheus.HistogramVec
	activeSessions    prometheus.Gauge
	httpRequests      *prometheus.CounterVec
}

// New creates a Collector with Go runtime and process collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		expansions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansions_total",
			Help:      "Expansions that reached the fetcher, by outcome",
		}, []string{"status"}),
		expansionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expansion_duration_seconds",
			Help:      "Time from fetch start to merge",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		nodesAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_nodes_added_total",
			Help:      "Nodes added to session graphs by merges",
		}),
		edgesAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_edges_added_total",
			Help:      "Edges added to session graphs by merges",
		}),
		edgesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_edges_dropped_total",
			Help:      "Edges dropped by merges because an endpoint was missing",
		}),
		layoutDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "layout_duration_seconds",
			Help:      "Layout pass duration by algorithm",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open exploration sessions",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "status"}),
	}
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveExpansion implements expand.Observer.
func (c *Collector) ObserveExpansion(status expand.Status, elapsed time.Duration, merged graph.MergeResult) {
	c.expansions.WithLabelValues(status.String()).Inc()
	c.expansionDuration.Observe(elapsed.Seconds())
	c.nodesAdded.Add(float64(len(merged.AddedNodes)))
	c.edgesAdded.Add(float64(len(merged.AddedEdges)))
	c.edgesDropped.Add(float64(merged.DroppedEdges))
}

// ObserveLayout records one layout pass.
func (c *Collector) ObserveLayout(kind layout.Kind, elapsed time.Duration) {
	c.layoutDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

// SetActiveSessions sets the open session gauge.
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// ObserveRequest counts one HTTP request.
func (c *Collector) ObserveRequest(method string, status int) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
