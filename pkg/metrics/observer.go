package metrics

import (
	"context"
	"time"
)

// AuthObserver provides observability hooks for authentication sessions.
// One observer is shared by every session of a process; per-session context
// travels in the arguments.
type AuthObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
}

// ObserverConfig configures an AuthObserver or LinkObserver.
type ObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
}

func (cfg *ObserverConfig) defaults() {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
}

// NewAuthObserver creates a new authentication observer.
func NewAuthObserver(cfg ObserverConfig) *AuthObserver {
	cfg.defaults()
	return &AuthObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger.Named("auth"),
	}
}

// StartSession opens a span for one protocol run and returns a context
// carrying it plus a completion function. The completion function records
// the outcome; err is nil for runs that reached a verdict.
func (o *AuthObserver) StartSession(ctx context.Context, protocol, role string) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SessionSpanName(role),
		WithAttributes(Attributes{AttrProtocol: protocol, AttrRole: role}))

	o.collector.SessionStarted()
	o.logger.Debug("session started", Fields{"protocol": protocol, "role": role})

	return ctx, func(err error) {
		duration := time.Since(start)
		o.collector.SessionEnded(duration)

		if err != nil {
			o.collector.SessionFailed()
			o.logger.Error("session failed", Fields{
				"protocol": protocol,
				"role":     role,
				"error":    err.Error(),
				"duration": duration.String(),
			})
		} else {
			o.logger.Debug("session ended", Fields{
				"protocol": protocol,
				"role":     role,
				"duration": duration.String(),
			})
		}

		endSpan(err)
	}
}

// OnVerdict records the verifier's decision.
func (o *AuthObserver) OnVerdict(protocol string, accepted bool) {
	o.collector.RecordVerdict(accepted)
	if accepted {
		o.logger.Info("prover authenticated", Fields{"protocol": protocol})
		return
	}
	o.logger.Warn("prover rejected", Fields{"protocol": protocol})
}

// OnDesync records a receive that failed or came up short.
func (o *AuthObserver) OnDesync(protocol, phase string) {
	o.collector.RecordDesync()
	o.logger.Warn("channel desynchronized", Fields{"protocol": protocol, "phase": phase})
}

// OnInvalidKey records a key rejected before any channel I/O.
func (o *AuthObserver) OnInvalidKey(protocol string) {
	o.collector.RecordInvalidKey()
	o.logger.Warn("invalid key", Fields{"protocol": protocol})
}

// OnChannelError records a provider failure that is not a desync.
func (o *AuthObserver) OnChannelError(protocol string, err error) {
	o.collector.RecordChannelError()
	o.logger.Error("channel error", Fields{"protocol": protocol, "error": err.Error()})
}

// OnQubits records qubits moved by a session.
func (o *AuthObserver) OnQubits(sent, received int) {
	o.collector.RecordQubits(sent, received)
}

// OnClassical records one classical message exchanged by a session.
func (o *AuthObserver) OnClassical() {
	o.collector.RecordClassicalMessage()
}

// Logger returns the observer's logger for custom logging.
func (o *AuthObserver) Logger() *Logger {
	return o.logger
}

// LinkObserver provides observability hooks for encrypted backend links.
type LinkObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
}

// NewLinkObserver creates a new link observer.
func NewLinkObserver(cfg ObserverConfig) *LinkObserver {
	cfg.defaults()
	return &LinkObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger.Named("link"),
	}
}

// OnHandshakeStart returns a context and completion function for handshake
// tracing. server selects the span kind.
func (o *LinkObserver) OnHandshakeStart(ctx context.Context, remote string, server bool) (context.Context, func(error)) {
	kind := SpanKindClient
	if server {
		kind = SpanKindServer
	}

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanLinkHandshake,
		WithSpanKind(kind), WithAttributes(Attributes{AttrRemote: remote}))
	o.logger.Debug("handshake started", Fields{"remote": remote})

	return ctx, func(err error) {
		duration := time.Since(start)
		if err != nil {
			o.collector.RecordLinkRejected()
			o.logger.Warn("handshake failed", Fields{
				"remote":   remote,
				"error":    err.Error(),
				"duration": duration.String(),
			})
		} else {
			o.collector.RecordLinkAccepted(duration)
			o.logger.Info("link established", Fields{
				"remote":   remote,
				"duration": duration.String(),
			})
		}
		endSpan(err)
	}
}

// OnRejected records a connection refused before the handshake.
func (o *LinkObserver) OnRejected(remote, reason string) {
	o.collector.RecordLinkRejected()
	o.logger.Warn("connection rejected", Fields{"remote": remote, "reason": reason})
}

// OnRequest returns a context and completion function for one backend
// request.
func (o *LinkObserver) OnRequest(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanBackendRequest, WithAttributes(Attributes{AttrBackendOp: op}))
	return ctx, func(err error) {
		o.collector.RecordRequest()
		if err != nil {
			o.logger.Debug("request failed", Fields{"op": op, "error": err.Error()})
		}
		endSpan(err)
	}
}

// OnRecordSent records an outbound record of n bytes.
func (o *LinkObserver) OnRecordSent(n int) {
	o.collector.RecordBytesSent(uint64(n))
}

// OnRecordReceived records an inbound record of n bytes.
func (o *LinkObserver) OnRecordReceived(n int) {
	o.collector.RecordBytesReceived(uint64(n))
}

// OnReplayDetected records a blocked replayed or reordered record.
func (o *LinkObserver) OnReplayDetected(remote string) {
	o.collector.RecordReplayBlocked()
	o.logger.Warn("replayed record blocked", Fields{"remote": remote})
}

// OnDecryptError records a record that failed authentication.
func (o *LinkObserver) OnDecryptError(remote string) {
	o.collector.RecordDecryptError()
	o.logger.Warn("record authentication failed", Fields{"remote": remote})
}
