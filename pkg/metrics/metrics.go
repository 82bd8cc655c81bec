package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics from authentication sessions and the backend.
type Collector struct {
	// Session metrics
	sessionsActive atomic.Uint64
	sessionsTotal  atomic.Uint64
	sessionsFailed atomic.Uint64
	sessionLatency *Histogram

	// Verdict metrics
	verdictsAccepted atomic.Uint64
	verdictsDenied   atomic.Uint64

	// Protocol error metrics
	desyncs       atomic.Uint64
	invalidKeys   atomic.Uint64
	channelErrors atomic.Uint64

	// Quantum channel metrics
	qubitsSent        atomic.Uint64
	qubitsReceived    atomic.Uint64
	classicalMessages atomic.Uint64

	// Backend link metrics
	linksAccepted    atomic.Uint64
	linksRejected    atomic.Uint64
	requestsServed   atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	replaysBlocked   atomic.Uint64
	decryptErrors    atomic.Uint64
	handshakeLatency *Histogram

	// Creation time for uptime tracking
	createdAt time.Time

	// Labels for this collector instance
	labels Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	return &Collector{
		sessionLatency:   NewHistogram(SessionLatencyBuckets),
		handshakeLatency: NewHistogram(HandshakeLatencyBuckets),
		createdAt:        time.Now(),
		labels:           labels,
	}
}

// --- Session Metrics ---

// SessionStarted increments active and total session counters.
func (c *Collector) SessionStarted() {
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionEnded decrements the active session counter and records latency.
func (c *Collector) SessionEnded(d time.Duration) {
	for {
		current := c.sessionsActive.Load()
		if current == 0 {
			break
		}
		if c.sessionsActive.CompareAndSwap(current, current-1) {
			break
		}
	}
	c.sessionLatency.ObserveDuration(d)
}

// SessionFailed records a session that ended with an error.
func (c *Collector) SessionFailed() {
	c.sessionsFailed.Add(1)
}

// --- Verdict Metrics ---

// RecordVerdict counts an authentication verdict.
func (c *Collector) RecordVerdict(accepted bool) {
	if accepted {
		c.verdictsAccepted.Add(1)
	} else {
		c.verdictsDenied.Add(1)
	}
}

// RecordDesync counts a channel desynchronization.
func (c *Collector) RecordDesync() {
	c.desyncs.Add(1)
}

// RecordInvalidKey counts a key rejected before any channel I/O.
func (c *Collector) RecordInvalidKey() {
	c.invalidKeys.Add(1)
}

// RecordChannelError counts a provider failure other than a desync.
func (c *Collector) RecordChannelError() {
	c.channelErrors.Add(1)
}

// --- Quantum Channel Metrics ---

// RecordQubits adds to the qubit transfer counters.
func (c *Collector) RecordQubits(sent, received int) {
	if sent > 0 {
		c.qubitsSent.Add(uint64(sent))
	}
	if received > 0 {
		c.qubitsReceived.Add(uint64(received))
	}
}

// RecordClassicalMessage counts a classical message exchanged by a session.
func (c *Collector) RecordClassicalMessage() {
	c.classicalMessages.Add(1)
}

// --- Backend Link Metrics ---

// RecordLinkAccepted counts a completed link handshake.
func (c *Collector) RecordLinkAccepted(handshake time.Duration) {
	c.linksAccepted.Add(1)
	c.handshakeLatency.ObserveDuration(handshake)
}

// RecordLinkRejected counts a connection refused by the limiter or a failed handshake.
func (c *Collector) RecordLinkRejected() {
	c.linksRejected.Add(1)
}

// RecordRequest counts a backend request served.
func (c *Collector) RecordRequest() {
	c.requestsServed.Add(1)
}

// RecordBytesSent adds to the bytes sent counter.
func (c *Collector) RecordBytesSent(n uint64) {
	c.bytesSent.Add(n)
}

// RecordBytesReceived adds to the bytes received counter.
func (c *Collector) RecordBytesReceived(n uint64) {
	c.bytesReceived.Add(n)
}

// RecordReplayBlocked increments the replay counter.
func (c *Collector) RecordReplayBlocked() {
	c.replaysBlocked.Add(1)
}

// RecordDecryptError increments the record decryption error counter.
func (c *Collector) RecordDecryptError() {
	c.decryptErrors.Add(1)
}

// --- Snapshot ---

// Snapshot returns a point-in-time snapshot of all metrics.
type Snapshot struct {
	// Timestamp of the snapshot
	Timestamp time.Time

	// Uptime since collector creation
	Uptime time.Duration

	// Session metrics
	SessionsActive uint64
	SessionsTotal  uint64
	SessionsFailed uint64

	// Verdict metrics
	VerdictsAccepted uint64
	VerdictsDenied   uint64

	// Protocol error metrics
	Desyncs       uint64
	InvalidKeys   uint64
	ChannelErrors uint64

	// Quantum channel metrics
	QubitsSent        uint64
	QubitsReceived    uint64
	ClassicalMessages uint64

	// Backend link metrics
	LinksAccepted  uint64
	LinksRejected  uint64
	RequestsServed uint64
	BytesSent      uint64
	BytesReceived  uint64
	ReplaysBlocked uint64
	DecryptErrors  uint64

	// Histogram summaries
	SessionLatency   HistogramSummary
	HandshakeLatency HistogramSummary

	// Labels
	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:         time.Now(),
		Uptime:            time.Since(c.createdAt),
		SessionsActive:    c.sessionsActive.Load(),
		SessionsTotal:     c.sessionsTotal.Load(),
		SessionsFailed:    c.sessionsFailed.Load(),
		VerdictsAccepted:  c.verdictsAccepted.Load(),
		VerdictsDenied:    c.verdictsDenied.Load(),
		Desyncs:           c.desyncs.Load(),
		InvalidKeys:       c.invalidKeys.Load(),
		ChannelErrors:     c.channelErrors.Load(),
		QubitsSent:        c.qubitsSent.Load(),
		QubitsReceived:    c.qubitsReceived.Load(),
		ClassicalMessages: c.classicalMessages.Load(),
		LinksAccepted:     c.linksAccepted.Load(),
		LinksRejected:     c.linksRejected.Load(),
		RequestsServed:    c.requestsServed.Load(),
		BytesSent:         c.bytesSent.Load(),
		BytesReceived:     c.bytesReceived.Load(),
		ReplaysBlocked:    c.replaysBlocked.Load(),
		DecryptErrors:     c.decryptErrors.Load(),
		SessionLatency:    c.sessionLatency.Summary(),
		HandshakeLatency:  c.handshakeLatency.Summary(),
		Labels:            c.labels,
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	for _, v := range []*atomic.Uint64{
		&c.sessionsActive, &c.sessionsTotal, &c.sessionsFailed,
		&c.verdictsAccepted, &c.verdictsDenied,
		&c.desyncs, &c.invalidKeys, &c.channelErrors,
		&c.qubitsSent, &c.qubitsReceived, &c.classicalMessages,
		&c.linksAccepted, &c.linksRejected, &c.requestsServed,
		&c.bytesSent, &c.bytesReceived, &c.replaysBlocked, &c.decryptErrors,
	} {
		v.Store(0)
	}
	c.sessionLatency.Reset()
	c.handshakeLatency.Reset()
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
)

// Global returns the global metrics collector.
// Creates one with default settings if not already initialized.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		if globalCollector == nil {
			globalCollector = NewCollector(Labels{"instance": "default"})
		}
	})
	return globalCollector
}

// SetGlobal sets the global metrics collector.
// Should be called during initialization before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollectorOnce.Do(func() {})
	globalCollector = c
}
