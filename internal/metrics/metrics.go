// Package metrics exposes the daemon's Prometheus collectors. All methods are
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MetricPrefix = "recommerce_"

// Admission results.
const (
	ResultStarted  = "started"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	admissions        *prometheus.CounterVec
	containersStarted prometheus.Counter
	exitsObserved     prometheus.Counter
	subscribers       prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	clockOffset       prometheus.Gauge
	hostSamples       prometheus.Counter
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "admissions_total",
			Help: "Admission requests by result",
		}, []string{"result"}),
		containersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "containers_started_total",
			Help: "Containers started by admissions",
		}),
		exitsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "exits_observed_total",
			Help: "Container exits recorded by the reaper",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPrefix + "notifier_subscribers",
			Help: "Connected exit-event subscribers",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		clockOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPrefix + "clock_offset_seconds",
			Help: "Last measured offset between the host clock and NTP",
		}),
		hostSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "host_samples_total",
			Help: "Host resource samples written",
		}),
	}
	reg.MustRegister(
		m.admissions,
		m.containersStarted,
		m.exitsObserved,
		m.subscribers,
		m.httpRequests,
		m.clockOffset,
		m.hostSamples,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Admission(result string, started int) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
	m.containersStarted.Add(float64(started))
}

func (m *Metrics) ExitsObserved(n int) {
	if m == nil {
		return
	}
	m.exitsObserved.Add(float64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) SetClockOffset(seconds float64) {
	if m == nil {
		return
	}
	m.clockOffset.Set(seconds)
}

func (m *Metrics) HostSample() {
	if m == nil {
		return
	}
	m.hostSamples.Inc()
}
