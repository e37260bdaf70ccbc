package telemetry

import (
	"net/http"

	"github.com/maxpert/termlog/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var registry *prometheus.Registry

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
	SetToCurrentTime()
}

// Vec types for labeled metrics
type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
	Reset()
}

// NoopStat stands in for every metric while telemetry is disabled
type NoopStat struct{}

type noopCounterVec struct{}
type noopGaugeVec struct{}

func (n noopCounterVec) With(labels ...string) Counter { return NoopStat{} }
func (n noopGaugeVec) With(labels ...string) Gauge     { return NoopStat{} }
func (n noopGaugeVec) Reset()                          {}

func (n NoopStat) Observe(float64)   {}
func (n NoopStat) Set(float64)       {}
func (n NoopStat) Inc()              {}
func (n NoopStat) Dec()              {}
func (n NoopStat) Add(float64)       {}
func (n NoopStat) Sub(float64)       {}
func (n NoopStat) SetToCurrentTime() {}

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

type prometheusGaugeVec struct {
	vec *prometheus.GaugeVec
}

func (p *prometheusGaugeVec) With(labelValues ...string) Gauge {
	return p.vec.WithLabelValues(labelValues...)
}

func (p *prometheusGaugeVec) Reset() {
	p.vec.Reset()
}

const (
	namespace = "termlog"
	subsystem = "client"
)

// register adds c to the registry and returns it
func register[C prometheus.Collector](c C) C {
	registry.MustRegister(c)
	return c
}

func NewCounter(name string, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}))
}

func NewGauge(name string, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}))
}

func NewHistogramWithBuckets(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: constLabels(),
	}))
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	return &prometheusCounterVec{vec: register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}, labels))}
}

func NewGaugeVec(name, help string, labels []string) GaugeVec {
	if registry == nil {
		return noopGaugeVec{}
	}
	return &prometheusGaugeVec{vec: register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}, labels))}
}

// constLabels tags every metric with the client name
func constLabels() prometheus.Labels {
	return prometheus.Labels{"client": cfg.Config.ClientName}
}

// InitializeTelemetry creates the registry when metrics are enabled. Metrics
// created before this call, or while disabled, are no-ops.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()

	// Register process and Go runtime collectors for CPU/memory metrics
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Msg("Prometheus metrics enabled - will be served on admin port at /metrics")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics
// Returns nil if Prometheus is not enabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
