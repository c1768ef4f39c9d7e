package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/devlens-io/devlens/internal/audit"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Init registers the HTTP collectors plus the pipeline collector.
func Init(service *audit.Service) {
	prometheus.MustRegister(httpReqs, httpDur)
	if service != nil {
		prometheus.MustRegister(&pipelineCollector{service: service})
	}
}

// pipelineCollector exposes the pipeline's atomic counters as prometheus
// metrics, snapshotted at scrape time.
type pipelineCollector struct {
	service *audit.Service
}

var (
	descAccepted = prometheus.NewDesc(
		"audit_events_accepted_total", "Events admitted to the main queue", nil, nil)
	descDroppedNewest = prometheus.NewDesc(
		"audit_events_dropped_newest_total", "Submissions rejected on a full queue", nil, nil)
	descDroppedOldest = prometheus.NewDesc(
		"audit_events_dropped_oldest_total", "Queue-head evictions under drop_oldest", nil, nil)
	descPublished = prometheus.NewDesc(
		"audit_sink_published_total", "Events published per sink", []string{"sink"}, nil)
	descTransient = prometheus.NewDesc(
		"audit_sink_transient_failures_total", "Transient publish failures per sink", []string{"sink"}, nil)
	descPermanent = prometheus.NewDesc(
		"audit_sink_permanent_failures_total", "Permanently failed events per sink", []string{"sink"}, nil)
	descDroppedFull = prometheus.NewDesc(
		"audit_sink_dropped_full_total", "Events dropped on a full sink channel", []string{"sink"}, nil)
	descDropShutdown = prometheus.NewDesc(
		"audit_sink_drop_shutdown_total", "Events dropped at the drain deadline", []string{"sink"}, nil)
	descDepth = prometheus.NewDesc(
		"audit_sink_channel_depth", "Current sink channel depth", []string{"sink"}, nil)
	descHealthy = prometheus.NewDesc(
		"audit_sink_healthy", "1 when the sink health gate is open", []string{"sink"}, nil)
)

func (c *pipelineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descAccepted
	ch <- descDroppedNewest
	ch <- descDroppedOldest
	ch <- descPublished
	ch <- descTransient
	ch <- descPermanent
	ch <- descDroppedFull
	ch <- descDropShutdown
	ch <- descDepth
	ch <- descHealthy
}

func (c *pipelineCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.service.Stats()
	ch <- prometheus.MustNewConstMetric(descAccepted, prometheus.CounterValue, float64(stats.Accepted))
	ch <- prometheus.MustNewConstMetric(descDroppedNewest, prometheus.CounterValue, float64(stats.DroppedNewest))
	ch <- prometheus.MustNewConstMetric(descDroppedOldest, prometheus.CounterValue, float64(stats.DroppedOldest))
	for _, s := range stats.Sinks {
		ch <- prometheus.MustNewConstMetric(descPublished, prometheus.CounterValue, float64(s.Published), s.Name)
		ch <- prometheus.MustNewConstMetric(descTransient, prometheus.CounterValue, float64(s.TransientFailures), s.Name)
		ch <- prometheus.MustNewConstMetric(descPermanent, prometheus.CounterValue, float64(s.PermanentFailures), s.Name)
		ch <- prometheus.MustNewConstMetric(descDroppedFull, prometheus.CounterValue, float64(s.DroppedFull), s.Name)
		ch <- prometheus.MustNewConstMetric(descDropShutdown, prometheus.CounterValue, float64(s.DropShutdown), s.Name)
		ch <- prometheus.MustNewConstMetric(descDepth, prometheus.GaugeValue, float64(s.Depth), s.Name)
		healthy := 0.0
		if s.Healthy {
			healthy = 1.0
		}
		ch <- prometheus.MustNewConstMetric(descHealthy, prometheus.GaugeValue, healthy, s.Name)
	}
}

// Middleware records request counts and latencies per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// The route pattern is only known once the router has matched.
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
