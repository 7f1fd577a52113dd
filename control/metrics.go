// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for reactor monitoring.
// Exposes counters in a thread-safe map and as a Prometheus collector.

package control

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric keys maintained by the reactor.
const (
	MetricWakeups       = "reactor_wakeups"
	MetricEvents        = "reactor_events"
	MetricAccepts       = "reactor_accepts"
	MetricRegistrations = "reactor_registrations"
	MetricDisconnects   = "reactor_disconnects"
)

// MetricsRegistry holds numeric metrics keyed by name.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]float64
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]float64),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value float64) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Add increments a metric key by delta. A nil registry is a no-op.
func (mr *MetricsRegistry) Add(key string, delta float64) {
	if mr == nil {
		return
	}
	mr.mu.Lock()
	mr.metrics[key] += delta
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Get returns the value of key, zero if unset.
func (mr *MetricsRegistry) Get(key string) float64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.metrics[key]
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]float64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]float64, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Updated returns the time of the last write.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// Collector exports a MetricsRegistry to Prometheus. Every key becomes a
// gauge named <namespace>_<key>.
type Collector struct {
	namespace string
	registry  *MetricsRegistry
}

// NewCollector wraps registry for prometheus.Register.
func NewCollector(namespace string, registry *MetricsRegistry) *Collector {
	return &Collector{namespace: namespace, registry: registry}
}

// Describe sends no descriptors, making the collector unchecked; the key set
// grows as the reactor runs.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect emits one gauge per key, in key order.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.GetSnapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		desc := prometheus.NewDesc(c.metricName(k), "hioload-sock runtime metric "+k, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, snap[k])
	}
}

func (c *Collector) metricName(key string) string {
	name := strings.NewReplacer(".", "_", "-", "_").Replace(key)
	if c.namespace == "" {
		return name
	}
	return c.namespace + "_" + name
}
