package webguard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// InMemoryMetricsCollector is the default MetricsCollector: plain
// maps behind a mutex with a Prometheus text export. Swap in a real
// client by implementing the interface.
type InMemoryMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]map[string]int64
	gauges     map[string]map[string]float64
	histograms map[string][]float64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters:   make(map[string]map[string]int64),
		gauges:     make(map[string]map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[string]int64)
	}
	m.counters[name][labelKey(labels)]++
}

func (m *InMemoryMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges[name] == nil {
		m.gauges[name] = make(map[string]float64)
	}
	m.gauges[name][labelKey(labels)] = value
}

// CounterValue reads a counter back, mostly for tests.
func (m *InMemoryMetricsCollector) CounterValue(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if counters, exists := m.counters[name]; exists {
		return counters[labelKey(labels)]
	}
	return 0
}

func (m *InMemoryMetricsCollector) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_ = len(m.counters)
	return nil
}

func (m *InMemoryMetricsCollector) ExportPrometheus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out strings.Builder
	for name, labelMap := range m.counters {
		out.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
		for labels, value := range labelMap {
			if labels == "" {
				out.WriteString(fmt.Sprintf("%s %d\n", name, value))
			} else {
				out.WriteString(fmt.Sprintf("%s{%s} %d\n", name, labels, value))
			}
		}
	}
	for name, labelMap := range m.gauges {
		out.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
		for labels, value := range labelMap {
			if labels == "" {
				out.WriteString(fmt.Sprintf("%s %f\n", name, value))
			} else {
				out.WriteString(fmt.Sprintf("%s{%s} %f\n", name, labels, value))
			}
		}
	}
	for name, values := range m.histograms {
		if len(values) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		out.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
		out.WriteString(fmt.Sprintf("%s_sum %f\n", name, sum))
		out.WriteString(fmt.Sprintf("%s_count %d\n", name, len(values)))
	}
	return out.String()
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}
