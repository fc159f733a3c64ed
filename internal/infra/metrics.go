package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsProcessed  atomic.Uint64
	commandsRouted   atomic.Uint64
	commandsRejected atomic.Uint64
	ordersFilled     atomic.Uint64
	errorsTotal      atomic.Uint64
	reconcilePasses  atomic.Uint64
	reconcileFailed  atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	queueDepth        atomic.Int32
	activeConnections atomic.Int32
	degraded          atomic.Int32 // 1 = commands rejected pending reconcile
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordCommand records a command routed to a client.
func (m *Metrics) RecordCommand() {
	m.commandsRouted.Add(1)
}

// RecordCommandRejected records a command answered with a rejection.
func (m *Metrics) RecordCommandRejected() {
	m.commandsRejected.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordReconcilePass records one reconciliation resolution pass.
func (m *Metrics) RecordReconcilePass() {
	m.reconcilePasses.Add(1)
}

// RecordReconcileFailure records a reconciliation timeout.
func (m *Metrics) RecordReconcileFailure() {
	m.reconcileFailed.Add(1)
}

// SetQueueDepth sets the current engine queue depth.
func (m *Metrics) SetQueueDepth(depth int32) {
	m.queueDepth.Store(depth)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetDegraded sets the degraded-mode gauge (true = rejecting commands).
func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.degraded.Store(1)
	} else {
		m.degraded.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed   uint64
	CommandsRouted    uint64
	CommandsRejected  uint64
	OrdersFilled      uint64
	ErrorsTotal       uint64
	ReconcilePasses   uint64
	ReconcileFailed   uint64
	AvgLatencyNs      int64
	QueueDepth        int32
	ActiveConnections int32
	Degraded          bool
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsProcessed:   m.eventsProcessed.Load(),
		CommandsRouted:    m.commandsRouted.Load(),
		CommandsRejected:  m.commandsRejected.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		ReconcilePasses:   m.reconcilePasses.Load(),
		ReconcileFailed:   m.reconcileFailed.Load(),
		AvgLatencyNs:      avgLatency,
		QueueDepth:        m.queueDepth.Load(),
		ActiveConnections: m.activeConnections.Load(),
		Degraded:          m.degraded.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsProcessed.Store(0)
	m.commandsRouted.Store(0)
	m.commandsRejected.Store(0)
	m.ordersFilled.Store(0)
	m.errorsTotal.Store(0)
	m.reconcilePasses.Store(0)
	m.reconcileFailed.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.queueDepth.Store(0)
	m.activeConnections.Store(0)
	m.degraded.Store(0)
}
