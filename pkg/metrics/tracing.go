package metrics

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Span names.
const (
	SpanSessionProver   = "qauth.session.prover"
	SpanSessionVerifier = "qauth.session.verifier"
	SpanLinkHandshake   = "qauth.link.handshake"
	SpanBackendRequest  = "qauth.backend.request"
)

// Attribute keys attached to spans.
const (
	AttrProtocol  = "qauth.protocol"
	AttrRole      = "qauth.role"
	AttrRemote    = "net.peer.addr"
	AttrBackendOp = "qauth.backend.op"
)

// SessionSpanName maps an authentication role to its span name.
func SessionSpanName(role string) string {
	if role == "verifier" {
		return SpanSessionVerifier
	}
	return SpanSessionProver
}

// Attributes are span key/value pairs. Values should be strings, bools or
// numbers; other types are stringified by exporters.
type Attributes map[string]any

// Tracer starts spans. The returned SpanEnder must be called exactly once.
type Tracer interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder)
}

// SpanEnder finishes a span. A non-nil error marks it failed.
type SpanEnder func(err error)

// SpanKind says which side of a connection a span covers.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

func (k SpanKind) String() string {
	switch k {
	case SpanKindServer:
		return "server"
	case SpanKindClient:
		return "client"
	default:
		return "internal"
	}
}

type spanConfig struct {
	kind  SpanKind
	attrs Attributes
}

// SpanOption configures StartSpan.
type SpanOption func(*spanConfig)

func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

// WithAttributes merges attrs into the span's attributes.
func WithAttributes(attrs Attributes) SpanOption {
	return func(c *spanConfig) {
		if c.attrs == nil {
			c.attrs = make(Attributes, len(attrs))
		}
		maps.Copy(c.attrs, attrs)
	}
}

func buildSpanConfig(opts []SpanOption) spanConfig {
	var cfg spanConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NoOpTracer discards spans.
type NoOpTracer struct{}

func (NoOpTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// RecordedSpan is a finished span kept by a SimpleTracer.
type RecordedSpan struct {
	Name       string
	Kind       SpanKind
	TraceID    string
	SpanID     string
	ParentID   string
	Start      time.Time
	Duration   time.Duration
	Attributes Attributes
	Error      error
}

// SimpleTracer keeps finished spans in memory, in the order they end. It
// backs the "simple" tracing mode of the CLI and the observer tests.
type SimpleTracer struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

func NewSimpleTracer() *SimpleTracer {
	return &SimpleTracer{}
}

type spanKey struct{}

// StartSpan begins a span that joins the trace of any SimpleTracer span
// already in ctx.
func (t *SimpleTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := buildSpanConfig(opts)
	span := &RecordedSpan{
		Name:       name,
		Kind:       cfg.kind,
		SpanID:     randomID(8),
		Start:      time.Now(),
		Attributes: cfg.attrs,
	}
	if parent, ok := ctx.Value(spanKey{}).(*RecordedSpan); ok {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	} else {
		span.TraceID = randomID(16)
	}

	var once sync.Once
	return context.WithValue(ctx, spanKey{}, span), func(err error) {
		once.Do(func() {
			span.Duration = time.Since(span.Start)
			span.Error = err
			t.mu.Lock()
			t.spans = append(t.spans, *span)
			t.mu.Unlock()
		})
	}
}

// Spans returns a copy of the finished spans.
func (t *SimpleTracer) Spans() []RecordedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RecordedSpan(nil), t.spans...)
}

// Named returns the finished spans called name.
func (t *SimpleTracer) Named(name string) []RecordedSpan {
	var out []RecordedSpan
	for _, s := range t.Spans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func (t *SimpleTracer) Reset() {
	t.mu.Lock()
	t.spans = nil
	t.mu.Unlock()
}

func randomID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

type tracerBox struct{ Tracer }

var globalTracer atomic.Pointer[tracerBox]

func init() {
	globalTracer.Store(&tracerBox{NoOpTracer{}})
}

// SetTracer replaces the process-wide tracer. nil restores the no-op tracer.
func SetTracer(t Tracer) {
	if t == nil {
		t = NoOpTracer{}
	}
	globalTracer.Store(&tracerBox{t})
}

// GetTracer returns the process-wide tracer.
func GetTracer() Tracer {
	return globalTracer.Load().Tracer
}

// StartSpan starts a span on the process-wide tracer.
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	return GetTracer().StartSpan(ctx, name, opts...)
}
