// Package metrics exposes login and session counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and middleware report to.
type Recorder interface {
	RecordLogin(method, outcome string)
	RecordSessionIssued()
	RecordRevocation(scope string)
	RecordEmailLinkSent()
	RecordHTTPRequest(statusCode int, duration time.Duration)
	RecordStorageUp(up bool)
}

// Collector records into Prometheus metrics.
type Collector struct {
	logins         *prometheus.CounterVec
	sessionsIssued prometheus.Counter
	revocations    *prometheus.CounterVec
	emailLinks     prometheus.Counter
	httpStatus     *prometheus.CounterVec
	httpLatency    prometheus.Histogram
	storageUp      prometheus.Gauge
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_logins_total",
			Help: "Completed login attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_sessions_issued_total",
			Help: "Session secrets issued.",
		}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_session_revocations_total",
			Help: "Session revocations by scope (single or all).",
		}, []string{"scope"}),
		emailLinks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_email_links_sent_total",
			Help: "Magic login links handed to the mailer.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tessera_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		storageUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tessera_storage_up",
			Help: "1 if the last storage check succeeded.",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.sessionsIssued,
		c.revocations,
		c.emailLinks,
		c.httpStatus,
		c.httpLatency,
		c.storageUp,
	)

	return c
}

func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

func (c *Collector) RecordRevocation(scope string) {
	c.revocations.WithLabelValues(scope).Inc()
}

func (c *Collector) RecordEmailLinkSent() {
	c.emailLinks.Inc()
}

func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordStorageUp(up bool) {
	if up {
		c.storageUp.Set(1)
		return
	}
	c.storageUp.Set(0)
}

// Handler serves the registry for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything. Used where no registry is configured.
type Nop struct{}

func (Nop) RecordLogin(string, string) {}
func (Nop) RecordSessionIssued() {}
func (Nop) RecordRevocation(string) {}
func (Nop) RecordEmailLinkSent() {}
func (Nop) RecordHTTPRequest(int, time.Duration) {}
func (Nop) RecordStorageUp(bool) {}
