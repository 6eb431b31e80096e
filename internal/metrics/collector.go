// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for Hyfa. It outputs text/plain in Prometheus exposition format
// without requiring the prometheus/client_golang dependency.
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

// Collector aggregates counters and histograms.
type Collector struct {
	namespace  string
	mu         sync.Mutex
	counters   map[string]*Counter   // name{labels} -> counter
	histograms map[string]*Histogram // name{labels} -> histogram
	startTime  time.Time
}

// NewCollector creates a collector whose uptime metric is prefixed by namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		namespace:  namespace,
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }

func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks the distribution of values. Bucket counts are cumulative.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns or creates the counter identified by name and labels.
func (c *Collector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

// Histogram returns or creates the histogram identified by name and labels.
func (c *Collector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[key]; ok {
		return h
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	c.histograms[key] = h
	return h
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns the exposition text, series sorted by name then labels.
func (c *Collector) Render() string {
	var sb strings.Builder

	uptime := c.namespace + "_uptime_seconds"
	fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n", uptime)
	fmt.Fprintf(&sb, "# TYPE %s gauge\n", uptime)
	fmt.Fprintf(&sb, "%s %d\n\n", uptime, int64(c.Uptime().Seconds()))

	c.mu.Lock()
	counters := make([]*Counter, 0, len(c.counters))
	for _, ctr := range c.counters {
		counters = append(counters, ctr)
	}
	histograms := make([]*Histogram, 0, len(c.histograms))
	for _, h := range c.histograms {
		histograms = append(histograms, h)
	}
	c.mu.Unlock()

	sort.Slice(counters, func(i, j int) bool {
		if counters[i].name != counters[j].name {
			return counters[i].name < counters[j].name
		}
		return counters[i].labels < counters[j].labels
	})
	sort.Slice(histograms, func(i, j int) bool {
		if histograms[i].name != histograms[j].name {
			return histograms[i].name < histograms[j].name
		}
		return histograms[i].labels < histograms[j].labels
	})

	helpWritten := make(map[string]bool)
	for _, ctr := range counters {
		if !helpWritten[ctr.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			helpWritten[ctr.name] = true
		}
		fmt.Fprintf(&sb, "%s%s %d\n", ctr.name, braced(ctr.labels), ctr.Value())
	}

	for _, h := range histograms {
		if !helpWritten[h.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			helpWritten[h.name] = true
		}
		prefix := "{"
		if h.labels != "" {
			prefix += h.labels + ","
		}

		h.mu.Lock()
		for _, b := range h.buckets {
			fmt.Fprintf(&sb, "%s_bucket%sle=\"%g\"} %d\n", h.name, prefix, b.le, b.count)
		}
		fmt.Fprintf(&sb, "%s_bucket%sle=\"+Inf\"} %d\n", h.name, prefix, h.count)
		fmt.Fprintf(&sb, "%s_sum%s %f\n", h.name, braced(h.labels), h.sum)
		fmt.Fprintf(&sb, "%s_count%s %d\n", h.name, braced(h.labels), h.count)
		h.mu.Unlock()
	}

	return sb.String()
}

func braced(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}
