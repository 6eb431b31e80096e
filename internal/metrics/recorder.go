package metrics

import (
	"fmt"

	"hyfa/internal/agent"
)

var latencyBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120}

// Recorder turns per-event outcomes into counters and latency histograms.
// It implements agent.OutcomeRecorder.
type Recorder struct {
	collector *Collector
}

func NewRecorder() *Recorder {
	return &Recorder{collector: NewCollector("hyfa")}
}

// Collector exposes the underlying collector, e.g. for its HTTP handler.
func (r *Recorder) Collector() *Collector { return r.collector }

// Record counts the outcome by kind and status and observes its latencies.
func (r *Recorder) Record(out agent.Outcome) {
	labels := fmt.Sprintf("kind=%q,status=%q", out.Kind.String(), string(out.Status))
	r.collector.Counter("hyfa_events_total", "Inbound events by kind and terminal status", labels).Inc()

	if out.Status == agent.StatusDropped {
		return
	}

	kind := fmt.Sprintf("kind=%q", out.Kind.String())
	r.collector.Histogram("hyfa_event_duration_seconds", "Time to handle one event in seconds", kind, latencyBuckets).
		Observe(out.Duration.Seconds())
	if out.LLMLatency > 0 {
		r.collector.Histogram("hyfa_llm_latency_seconds", "LLM request latency in seconds", kind, latencyBuckets).
			Observe(out.LLMLatency.Seconds())
	}
}
