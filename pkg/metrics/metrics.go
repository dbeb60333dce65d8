// Metrics collection for the stage controller
//
// Counters, gauges and histograms keyed by label set, rendered in the
// Prometheus text exposition format.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	}
	return "untyped"
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// key identifies a label set inside one metric.
func (l Labels) key() string {
	var sb strings.Builder
	for _, k := range l.sortedKeys() {
		sb.WriteString(k)
		sb.WriteByte(0)
		sb.WriteString(l[k])
		sb.WriteByte(0)
	}
	return sb.String()
}

// String renders {k="v",...} with keys sorted; empty labels render as "".
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	parts := make([]string, 0, len(l))
	for _, k := range l.sortedKeys() {
		parts = append(parts, k+`="`+escapeLabel(l[k])+`"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (l Labels) with(k, v string) Labels {
	out := make(Labels, len(l)+1)
	for lk, lv := range l {
		out[lk] = lv
	}
	out[k] = v
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string { return labelEscaper.Replace(s) }

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is the interface for all metric types
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family holds the per-label-set series of one metric.
type family[T any] struct {
	name   string
	help   string
	mu     sync.Mutex
	series map[string]*T
	labels map[string]Labels
}

func newFamily[T any](name, help string) family[T] {
	return family[T]{name: name, help: help, series: map[string]*T{}, labels: map[string]Labels{}}
}

// get returns the series for labels, creating it with init. Callers hold mu.
func (f *family[T]) get(labels Labels, init func() *T) *T {
	k := labels.key()
	s, ok := f.series[k]
	if !ok {
		s = init()
		f.series[k] = s
		f.labels[k] = labels
	}
	return s
}

// each visits series in label order. Callers hold mu.
func (f *family[T]) each(fn func(Labels, *T)) {
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(f.labels[k], f.series[k])
	}
}

func (f *family[T]) header(sb *strings.Builder, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, t)
}

// Counter is a monotonically increasing metric
type Counter struct {
	family[float64]
}

// NewCounter creates a new counter metric
func NewCounter(name, help string) *Counter {
	return &Counter{newFamily[float64](name, help)}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add increments the counter; negative deltas are ignored.
func (c *Counter) Add(labels Labels, delta float64) {
	if delta < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.get(labels, func() *float64 { return new(float64) }) += delta
}

// Get returns the current counter value for labels
func (c *Counter) Get(labels Labels) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.series[labels.key()]; ok {
		return *v
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header(sb, TypeCounter)
	c.each(func(l Labels, v *float64) {
		fmt.Fprintf(sb, "%s%s %s\n", c.name, l, formatFloat(*v))
	})
}

// Gauge is a metric that can go up and down
type Gauge struct {
	family[float64]
}

// NewGauge creates a new gauge metric
func NewGauge(name, help string) *Gauge {
	return &Gauge{newFamily[float64](name, help)}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

// Set sets the gauge to the given value
func (g *Gauge) Set(labels Labels, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	*g.get(labels, func() *float64 { return new(float64) }) = value
}

// Add adds the given value to the gauge
func (g *Gauge) Add(labels Labels, delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	*g.get(labels, func() *float64 { return new(float64) }) += delta
}

// Get returns the current gauge value for labels
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.series[labels.key()]; ok {
		return *v
	}
	return 0
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.header(sb, TypeGauge)
	g.each(func(l Labels, v *float64) {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, l, formatFloat(*v))
	})
}

// Histogram tracks the distribution of observations
type Histogram struct {
	family[histogramValue]
	buckets []float64
}

type histogramValue struct {
	count  uint64
	sum    float64
	counts []uint64 // per bucket, not cumulative
}

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{family: newFamily[histogramValue](name, help), buckets: sorted}
}

// DefaultBuckets returns default histogram buckets for latency metrics
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records a value in the histogram
func (h *Histogram) Observe(labels Labels, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hv := h.get(labels, func() *histogramValue {
		return &histogramValue{counts: make([]uint64, len(h.buckets))}
	})
	hv.count++
	hv.sum += value
	if i := sort.SearchFloat64s(h.buckets, value); i < len(h.buckets) {
		hv.counts[i]++
	}
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(labels Labels, d time.Duration) {
	h.Observe(labels, d.Seconds())
}

// HistogramSnapshot contains a point-in-time snapshot of histogram values
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64 // cumulative
}

// Snapshot returns the state of the series for labels.
func (h *Histogram) Snapshot(labels Labels) HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.buckets))}
	hv, ok := h.series[labels.key()]
	if !ok {
		return snap
	}
	snap.Count, snap.Sum = hv.count, hv.sum
	var cum uint64
	for i, b := range h.buckets {
		cum += hv.counts[i]
		snap.Buckets[b] = cum
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.header(sb, TypeHistogram)
	h.each(func(l Labels, hv *histogramValue) {
		var cum uint64
		for i, b := range h.buckets {
			cum += hv.counts[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.with("le", formatFloat(b)), cum)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.with("le", "+Inf"), hv.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, l, formatFloat(hv.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, l, hv.count)
	})
}

// Registry holds all registered metrics
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string // Preserve registration order
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric to the registry
func (r *Registry) Register(metric Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := metric.Name()
	if _, exists := r.metrics[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.metrics[name] = metric
	r.order = append(r.order, name)
	return nil
}

// MustRegister adds a metric and panics on error
func (r *Registry) MustRegister(metrics ...Metric) {
	for _, m := range metrics {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Get returns a metric by name
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather collects all metrics in Prometheus text format
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
