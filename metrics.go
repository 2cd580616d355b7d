package cqlstore

import (
	"sync"
	"time"
)

// Metrics provides observability for cqlstore operations
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing.
// Safe for concurrent use; read the maps only after operations finished.
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], duration)
}

// Count returns a counter value under the lock
func (m *InMemoryMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// Common metric names
const (
	MetricGetSuccess     = "cqlstore.get.success"
	MetricGetError       = "cqlstore.get.error"
	MetricGetDuration    = "cqlstore.get.duration"
	MetricSelectResults  = "cqlstore.select.results"
	MetricSetSuccess     = "cqlstore.set.success"
	MetricSetError       = "cqlstore.set.error"
	MetricSetDuration    = "cqlstore.set.duration"
	MetricDeleteSuccess  = "cqlstore.delete.success"
	MetricDeleteError    = "cqlstore.delete.error"
	MetricDeleteDuration = "cqlstore.delete.duration"

	MetricConnectAttempt  = "cqlstore.connect.attempt"
	MetricConnectSuccess  = "cqlstore.connect.success"
	MetricConnectFailure  = "cqlstore.connect.failure"
	MetricConnectDuration = "cqlstore.connect.duration"
	MetricConnectState    = "cqlstore.connect.state"

	MetricProvisionRun   = "cqlstore.provision.run"
	MetricProvisionSkip  = "cqlstore.provision.skip"
	MetricProvisionError = "cqlstore.provision.error"

	MetricMediaSaved    = "cqlstore.media.saved"
	MetricMediaSent     = "cqlstore.media.sent"
	MetricMediaNotFound = "cqlstore.media.not_found"
	MetricMediaBytes    = "cqlstore.media.bytes"
)
