package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromObserver mirrors pipeline events into Prometheus collectors so
// the gateway can expose them on /metrics.
type PromObserver struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	values   map[string]*prometheus.HistogramVec
}

func NewPromObserver(registry *prometheus.Registry) *PromObserver {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxline_events_total",
		Help: "Count of pipeline events by name and source.",
	}, []string{"name", "source"})
	registry.MustRegister(events)
	return &PromObserver{
		registry: registry,
		events:   events,
		values:   make(map[string]*prometheus.HistogramVec),
	}
}

func (o *PromObserver) Registry() *prometheus.Registry { return o.registry }

func (o *PromObserver) RecordEvent(ev MetricsEvent) {
	source := ev.Tags["source"]
	o.events.WithLabelValues(ev.Name, source).Inc()
	if ev.Value == 0 {
		return
	}
	o.histogram(ev.Name).WithLabelValues(source).Observe(ev.Value)
}

func (o *PromObserver) histogram(name string) *prometheus.HistogramVec {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.values[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxline_" + name,
			Help:    "Observed values for " + name + ".",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"source"})
		o.registry.MustRegister(h)
		o.values[name] = h
	}
	return h
}
