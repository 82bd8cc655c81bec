//go:build otel

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelTracer forwards spans to the globally registered OpenTelemetry
// provider. The binary that sets --tracing otel is expected to install an
// exporter; without one the spans are dropped by the default provider.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer returns a tracer scoped to the named instrumentation.
func NewOTelTracer(name string) *OTelTracer {
	if name == "" {
		name = "github.com/pzverkov/quantum-auth"
	}
	return &OTelTracer{tracer: otel.Tracer(name)}
}

func (t *OTelTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := buildSpanConfig(opts)
	ctx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(otelKinds[cfg.kind]),
		trace.WithAttributes(otelAttributes(cfg.attrs)...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// OTelEnabled reports whether the binary was built with -tags otel.
func OTelEnabled() bool { return true }

var otelKinds = map[SpanKind]trace.SpanKind{
	SpanKindInternal: trace.SpanKindInternal,
	SpanKindServer:   trace.SpanKindServer,
	SpanKindClient:   trace.SpanKindClient,
}

func otelAttributes(attrs Attributes) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		var kv attribute.KeyValue
		switch v := v.(type) {
		case string:
			kv = attribute.String(k, v)
		case bool:
			kv = attribute.Bool(k, v)
		case int:
			kv = attribute.Int(k, v)
		case int64:
			kv = attribute.Int64(k, v)
		case uint64:
			kv = attribute.Int64(k, int64(v))
		case float64:
			kv = attribute.Float64(k, v)
		case fmt.Stringer:
			kv = attribute.String(k, v.String())
		default:
			kv = attribute.String(k, fmt.Sprint(v))
		}
		kvs = append(kvs, kv)
	}
	return kvs
}
