package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsClient implements MetricsClient using Prometheus
type PrometheusMetricsClient struct {
	namespace string

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	mu sync.RWMutex
}

// NewPrometheusMetricsClient creates a new Prometheus metrics client
func NewPrometheusMetricsClient(namespace string) *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// IncrementCounter increments a counter without labels
func (c *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	c.IncrementCounterWithLabels(name, value, nil)
}

// IncrementCounterWithLabels increments a counter with labels
func (c *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	counter := c.getOrCreateCounter(name, labelNames(labels))
	counter.With(prometheus.Labels(labels)).Add(value)
}

// RecordGauge records a gauge metric
func (c *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	gauge := c.getOrCreateGauge(name, labelNames(labels))
	gauge.With(prometheus.Labels(labels)).Set(value)
}

// RecordHistogram records a histogram metric
func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	histogram := c.getOrCreateHistogram(name, labelNames(labels))
	histogram.With(prometheus.Labels(labels)).Observe(value)
}

// RecordTimer records a duration as a histogram observation in seconds
func (c *PrometheusMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	c.RecordHistogram(name, duration.Seconds(), labels)
}

// Close implements MetricsClient.Close
func (c *PrometheusMetricsClient) Close() error { return nil }

func (c *PrometheusMetricsClient) getOrCreateCounter(name string, names []string) *prometheus.CounterVec {
	c.mu.RLock()
	counter, ok := c.counters[name]
	c.mu.RUnlock()
	if ok {
		return counter
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if counter, ok = c.counters[name]; ok {
		return counter
	}
	counter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      fmt.Sprintf("Counter for %s", name),
	}, names)
	c.counters[name] = counter
	return counter
}

func (c *PrometheusMetricsClient) getOrCreateGauge(name string, names []string) *prometheus.GaugeVec {
	c.mu.RLock()
	gauge, ok := c.gauges[name]
	c.mu.RUnlock()
	if ok {
		return gauge
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gauge, ok = c.gauges[name]; ok {
		return gauge
	}
	gauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      fmt.Sprintf("Gauge for %s", name),
	}, names)
	c.gauges[name] = gauge
	return gauge
}

func (c *PrometheusMetricsClient) getOrCreateHistogram(name string, names []string) *prometheus.HistogramVec {
	c.mu.RLock()
	histogram, ok := c.histograms[name]
	c.mu.RUnlock()
	if ok {
		return histogram
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if histogram, ok = c.histograms[name]; ok {
		return histogram
	}
	histogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      fmt.Sprintf("Histogram for %s", name),
		Buckets:   prometheus.DefBuckets,
	}, names)
	c.histograms[name] = histogram
	return histogram
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
