package cqlstore

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prometheusNamespace = "cqlstore"

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
// If registry is nil, uses the default Prometheus registry
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer.(*prometheus.Registry)
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

// registerDefaultMetrics registers the operation metrics emitted by Store,
// MediaStore and ConnectionManager
func (p *PrometheusMetrics) registerDefaultMetrics() {
	collection := []string{"collection"}

	ops := []struct {
		name, subsystem, metric, help string
	}{
		{MetricGetSuccess, "get", "success_total", "Successful reads"},
		{MetricGetError, "get", "errors_total", "Failed reads"},
		{MetricSetSuccess, "set", "success_total", "Successful writes"},
		{MetricSetError, "set", "errors_total", "Failed writes"},
		{MetricDeleteSuccess, "delete", "success_total", "Successful deletes"},
		{MetricDeleteError, "delete", "errors_total", "Failed deletes"},
		{MetricProvisionRun, "provision", "runs_total", "CREATE TABLE round-trips issued"},
		{MetricProvisionSkip, "provision", "skips_total", "Provisioning calls answered from the registry"},
		{MetricProvisionError, "provision", "errors_total", "Failed provisioning attempts"},
	}
	for _, op := range ops {
		p.counters[op.name] = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusNamespace,
				Subsystem: op.subsystem,
				Name:      op.metric,
				Help:      op.help,
			},
			collection,
		)
	}

	for _, name := range []string{MetricConnectAttempt, MetricConnectSuccess, MetricConnectFailure} {
		p.counters[name] = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusNamespace,
				Subsystem: "connect",
				Name:      name[len("cqlstore.connect."):] + "_total",
				Help:      "Connection lifecycle events: " + name,
			},
			[]string{},
		)
	}

	for _, name := range []string{MetricMediaSaved, MetricMediaSent, MetricMediaNotFound} {
		p.counters[name] = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusNamespace,
				Subsystem: "media",
				Name:      name[len("cqlstore.media."):] + "_total",
				Help:      "Media store events: " + name,
			},
			[]string{},
		)
	}

	// Timing histograms
	latency := []struct {
		name, subsystem string
	}{
		{MetricGetDuration, "get"},
		{MetricSetDuration, "set"},
		{MetricDeleteDuration, "delete"},
	}
	for _, l := range latency {
		p.histograms[l.name] = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: prometheusNamespace,
				Subsystem: l.subsystem,
				Name:      "duration_seconds",
				Help:      "Operation duration in seconds, including connection wait and provisioning",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			collection,
		)
	}

	p.histograms[MetricConnectDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: "connect",
			Name:      "duration_seconds",
			Help:      "Time taken by the shared connection attempt",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{},
	)

	// Result counts
	p.histograms[MetricSelectResults] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: "select",
			Name:      "results",
			Help:      "Number of records returned by multi-key and scan reads",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
		collection,
	)

	p.histograms[MetricMediaBytes] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: "media",
			Name:      "payload_bytes",
			Help:      "Size of stored and served media payloads",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"direction"},
	)

	// Gauge metrics
	p.gauges[MetricConnectState] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Subsystem: "connect",
			Name:      "state",
			Help:      "Connection state (0 uninitialized, 1 connecting, 2 ready, 3 failed)",
		},
		[]string{},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		// Create dynamic counter if it doesn't exist
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusNamespace,
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(p.extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: prometheusNamespace,
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(p.extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: prometheusNamespace,
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(p.extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}

// sanitizeMetricName turns "cqlstore.some.name" into "some_name"
func sanitizeMetricName(name string) string {
	out := make([]byte, 0, len(name))
	start := 0
	if len(name) > len(prometheusNamespace)+1 && name[:len(prometheusNamespace)+1] == prometheusNamespace+"." {
		start = len(prometheusNamespace) + 1
	}
	for i := start; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
