//go:build !otel

package metrics

import "context"

// OTelTracer is a placeholder in builds without -tags otel; it records
// nothing.
type OTelTracer struct{}

func NewOTelTracer(string) *OTelTracer { return &OTelTracer{} }

func (*OTelTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// OTelEnabled reports whether the binary was built with -tags otel.
func OTelEnabled() bool { return false }
