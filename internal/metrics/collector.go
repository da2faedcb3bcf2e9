// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the gateway. It renders text/plain in Prometheus exposition
// format without pulling in the full prometheus/client_golang dependency;
// the observability surface here is a handful of counters and one gauge.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters and gauges.
type MetricsCollector struct {
	counters  sync.Map // key -> *Counter
	gauges    sync.Map // key -> *Gauge
	startTime time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down. SetFunc gauges read their value
// from a callback at render time instead.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
	fn     func() int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	if g.fn != nil {
		return g.fn()
	}
	return g.value.Load()
}

// Counter returns or creates a counter with the given name and label set.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name and label set.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// GaugeFunc registers a gauge whose value is read from fn at render time.
// Used to expose live values like the task tracker's active count.
func (c *MetricsCollector) GaugeFunc(name, help, labels string, fn func() int64) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels, fn: fn}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Handler returns an http.HandlerFunc rendering metrics in Prometheus text
// format. Entries are rendered in sorted key order so output is stable.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render produces the Prometheus text exposition of all metrics.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP inlet_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE inlet_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "inlet_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	writeFamily := func(m *sync.Map, typ string, value func(any) int64, name func(any) (string, string, string)) {
		var keys []string
		byKey := make(map[string]any)
		m.Range(func(key, v any) bool {
			keys = append(keys, key.(string))
			byKey[key.(string)] = v
			return true
		})
		sort.Strings(keys)

		helpWritten := make(map[string]bool)
		for _, key := range keys {
			v := byKey[key]
			n, help, labels := name(v)
			if !helpWritten[n] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", n, help)
				fmt.Fprintf(&sb, "# TYPE %s %s\n", n, typ)
				helpWritten[n] = true
			}
			if labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", n, labels, value(v))
			} else {
				fmt.Fprintf(&sb, "%s %d\n", n, value(v))
			}
		}
	}

	writeFamily(&c.counters, "counter",
		func(v any) int64 { return v.(*Counter).Value() },
		func(v any) (string, string, string) { ctr := v.(*Counter); return ctr.name, ctr.help, ctr.labels })
	writeFamily(&c.gauges, "gauge",
		func(v any) int64 { return v.(*Gauge).Value() },
		func(v any) (string, string, string) { g := v.(*Gauge); return g.name, g.help, g.labels })

	return sb.String()
}

// --- Pre-defined metrics used across the gateway ---

var (
	OverflowEvents  = Collector.Counter("inlet_overflow_events_total", "Inbound events refused past buffer capacity", "")
	CleanupFailures = Collector.Counter("inlet_asset_cleanup_failures_total", "Managed asset removals that failed", "")
	FlushesTotal    = Collector.Counter("inlet_flushes_total", "Conversation buffer flushes", "")
)

// RoutedOutcome returns the counter for one routed-outcome kind.
func RoutedOutcome(kind string) *Counter {
	return Collector.Counter("inlet_routed_total", "Messages routed, by outcome kind", fmt.Sprintf("outcome=%q", kind))
}
