// Package metrics exposes questd counters in the Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Quest holds the backend and live page metrics.
type Quest struct {
	// Backend operations by op (fragment, set_version, previous, autosave, submit).
	Requests *CounterVec
	Errors   *CounterVec
	Latency  *Histogram

	// Submits by outcome (accepted, rejected, duplicate).
	Submits *CounterVec

	registry *Registry
}

// NewQuest registers the quest metrics under namespace.
func NewQuest(namespace string) *Quest {
	r := NewRegistry(namespace)
	return &Quest{
		Requests: r.CounterVec("backend_requests_total", "Backend operations handled.", "op"),
		Errors:   r.CounterVec("backend_errors_total", "Backend operations that failed.", "op"),
		Latency:  r.Histogram("backend_duration_seconds", "Backend operation latency."),
		Submits:  r.CounterVec("submits_total", "Submit attempts by outcome.", "outcome"),
		registry: r,
	}
}

// Registry returns the registry the metrics live in.
func (q *Quest) Registry() *Registry { return q.registry }

// Observe records one backend operation.
func (q *Quest) Observe(op string, start time.Time, err error) {
	q.Requests.Inc(op)
	q.Latency.ObserveDuration(time.Since(start))
	if err != nil {
		q.Errors.Inc(op)
	}
}

// Handler serves the registry.
func (q *Quest) Handler() http.Handler { return q.registry.Handler() }

type metric interface {
	write(w io.Writer, name string)
}

type entry struct {
	name   string
	help   string
	kind   string
	metric metric
}

// Registry holds named metrics and writes them in registration order.
type Registry struct {
	namespace string

	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates a registry whose metric names carry namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{namespace: namespace}
}

func (r *Registry) add(name, help, kind string, m metric) {
	if r.namespace != "" {
		name = r.namespace + "_" + name
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry{name: name, help: help, kind: kind, metric: m})
	r.mu.Unlock()
}

// Counter registers a counter.
func (r *Registry) Counter(name, help string) *Counter {
	c := &Counter{}
	r.add(name, help, "counter", c)
	return c
}

// CounterVec registers a counter with one label.
func (r *Registry) CounterVec(name, help, label string) *CounterVec {
	cv := &CounterVec{label: label, values: make(map[string]*Counter)}
	r.add(name, help, "counter", cv)
	return cv
}

// Histogram registers a summary of observed values.
func (r *Registry) Histogram(name, help string) *Histogram {
	h := &Histogram{min: -1}
	r.add(name, help, "summary", h)
	return h
}

// GaugeFunc registers a gauge read from fn at scrape time.
func (r *Registry) GaugeFunc(name, help string, fn func() float64) {
	r.add(name, help, "gauge", gaugeFunc(fn))
}

// Expose writes every metric.
func (r *Registry) Expose(w io.Writer) {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()
	for _, e := range entries {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", e.name, e.help, e.name, e.kind)
		e.metric.write(w, e.name)
	}
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.Expose(w)
	})
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds delta, which must not be negative.
func (c *Counter) Add(delta int64) {
	if delta > 0 {
		c.value.Add(delta)
	}
}

// Value returns the current value.
func (c *Counter) Value() float64 { return float64(c.value.Load()) }

func (c *Counter) write(w io.Writer, name string) {
	fmt.Fprintf(w, "%s %g\n", name, c.Value())
}

// CounterVec is a counter keyed by one label value.
type CounterVec struct {
	label string

	mu     sync.RWMutex
	values map[string]*Counter
}

// WithLabel returns the counter for value.
func (cv *CounterVec) WithLabel(value string) *Counter {
	cv.mu.RLock()
	c, ok := cv.values[value]
	cv.mu.RUnlock()
	if ok {
		return c
	}
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if c, ok = cv.values[value]; !ok {
		c = &Counter{}
		cv.values[value] = c
	}
	return c
}

// Inc increments the counter for value.
func (cv *CounterVec) Inc(value string) { cv.WithLabel(value).Inc() }

// Values returns a snapshot of every labelled value.
func (cv *CounterVec) Values() map[string]float64 {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	out := make(map[string]float64, len(cv.values))
	for label, c := range cv.values {
		out[label] = c.Value()
	}
	return out
}

func (cv *CounterVec) write(w io.Writer, name string) {
	values := cv.Values()
	labels := make([]string, 0, len(values))
	for l := range values {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Fprintf(w, "%s{%s=%q} %g\n", name, cv.label, l, values[l])
	}
}

// Histogram tracks the count, sum and range of observed values.
type Histogram struct {
	mu    sync.Mutex
	sum   float64
	count int64
	min   float64
	max   float64
}

// Observe records a value.
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += value
	h.count++
	if h.min < 0 || value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Stats returns a snapshot.
func (h *Histogram) Stats() HistogramStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := HistogramStats{Count: h.count, Sum: h.sum, Min: h.min, Max: h.max}
	if h.count > 0 {
		st.Avg = h.sum / float64(h.count)
	} else {
		st.Min = 0
	}
	return st
}

func (h *Histogram) write(w io.Writer, name string) {
	st := h.Stats()
	fmt.Fprintf(w, "%s_sum %g\n%s_count %d\n%s_min %g\n%s_max %g\n",
		name, st.Sum, name, st.Count, name, st.Min, name, st.Max)
}

// HistogramStats summarizes a Histogram.
type HistogramStats struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64
}

type gaugeFunc func() float64

func (g gaugeFunc) write(w io.Writer, name string) {
	fmt.Fprintf(w, "%s %g\n", name, g())
}
