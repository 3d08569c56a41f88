// Package metrics exposes Prometheus collectors for a running pipeline graph:
// queue levels, dataflow counters, bus traffic and state transitions. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediagraph"

// Metrics holds the collectors shared by every element of a pipeline.
type Metrics struct {
	// Queue levels, by element
	queueBuffers   *prometheus.GaugeVec
	queueBytes     *prometheus.GaugeVec
	queueTime      *prometheus.GaugeVec
	queueOverruns  *prometheus.CounterVec
	queueUnderruns *prometheus.CounterVec
	queueDropped   *prometheus.CounterVec

	// Dataflow, by element and pad
	buffersPushed *prometheus.CounterVec
	bytesPushed   *prometheus.CounterVec
	flowErrors    *prometheus.CounterVec // By element and flow return

	// Control plane
	busPosted    *prometheus.CounterVec // By message type
	busDropped   prometheus.Counter
	stateChanges *prometheus.CounterVec // By element, transition and result
}

// New creates the collectors and registers them with reg. A nil reg
// registers with a fresh private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		queueBuffers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "level_buffers",
			Help:      "Buffers currently held by the queue",
		}, []string{"element"}),

		queueBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "level_bytes",
			Help:      "Payload bytes currently held by the queue",
		}, []string{"element"}),

		queueTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "level_seconds",
			Help:      "Media time currently held by the queue",
		}, []string{"element"}),

		queueOverruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "overruns_total",
			Help:      "Times the queue became full",
		}, []string{"element"}),

		queueUnderruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "underruns_total",
			Help:      "Times the queue ran empty",
		}, []string{"element"}),

		queueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_buffers_total",
			Help:      "Buffers dropped by a leaky queue",
		}, []string{"element"}),

		buffersPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pad",
			Name:      "buffers_total",
			Help:      "Buffers pushed across a link",
		}, []string{"element", "pad"}),

		bytesPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pad",
			Name:      "bytes_total",
			Help:      "Payload bytes pushed across a link",
		}, []string{"element", "pad"}),

		flowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pad",
			Name:      "flow_errors_total",
			Help:      "Pushes that returned a non-ok flow result",
		}, []string{"element", "flow"}),

		busPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "messages_total",
			Help:      "Messages posted on a pipeline bus",
		}, []string{"type"}),

		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Messages dropped because the bus was full",
		}),

		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "element",
			Name:      "state_changes_total",
			Help:      "State transitions by element, transition and result",
		}, []string{"element", "transition", "result"}),
	}

	reg.MustRegister(
		m.queueBuffers, m.queueBytes, m.queueTime,
		m.queueOverruns, m.queueUnderruns, m.queueDropped,
		m.buffersPushed, m.bytesPushed, m.flowErrors,
		m.busPosted, m.busDropped, m.stateChanges,
	)
	return m
}

// QueueLevel records the current fill of a queue. t is in nanoseconds.
func (m *Metrics) QueueLevel(element string, buffers, bytes int, t uint64) {
	if m == nil {
		return
	}
	m.queueBuffers.WithLabelValues(element).Set(float64(buffers))
	m.queueBytes.WithLabelValues(element).Set(float64(bytes))
	m.queueTime.WithLabelValues(element).Set(float64(t) / 1e9)
}

// QueueOverrun counts a queue reaching one of its limits.
func (m *Metrics) QueueOverrun(element string) {
	if m == nil {
		return
	}
	m.queueOverruns.WithLabelValues(element).Inc()
}

// QueueUnderrun counts a queue running empty.
func (m *Metrics) QueueUnderrun(element string) {
	if m == nil {
		return
	}
	m.queueUnderruns.WithLabelValues(element).Inc()
}

// QueueDropped counts buffers discarded by a leaky queue.
func (m *Metrics) QueueDropped(element string, n int) {
	if m == nil {
		return
	}
	m.queueDropped.WithLabelValues(element).Add(float64(n))
}

// BufferPushed counts one buffer crossing a link from element's pad.
func (m *Metrics) BufferPushed(element, pad string, size int) {
	if m == nil {
		return
	}
	m.buffersPushed.WithLabelValues(element, pad).Inc()
	m.bytesPushed.WithLabelValues(element, pad).Add(float64(size))
}

// FlowError counts a push that returned flow.
func (m *Metrics) FlowError(element, flow string) {
	if m == nil {
		return
	}
	m.flowErrors.WithLabelValues(element, flow).Inc()
}

// BusPosted counts a message of the given type.
func (m *Metrics) BusPosted(msgType string) {
	if m == nil {
		return
	}
	m.busPosted.WithLabelValues(msgType).Inc()
}

// BusDropped counts a message dropped by a full bus.
func (m *Metrics) BusDropped() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}

// StateChange counts a transition attempt and its result.
func (m *Metrics) StateChange(element, transition, result string) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(element, transition, result).Inc()
}
