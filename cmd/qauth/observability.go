package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/pzverkov/quantum-auth/pkg/auth"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
)

// observability holds the process-wide logger, tracer, and collector
// chosen by the persistent flags.
type observability struct {
	logLevel  string
	logFormat string
	logColor  bool
	tracing   string

	logger    *metrics.Logger
	collector *metrics.Collector
}

func (o *observability) setup() error {
	level, err := metrics.ParseLevel(o.logLevel)
	if err != nil {
		return errors.Wrap(err, "--log-level")
	}
	format, err := metrics.ParseFormat(o.logFormat)
	if err != nil {
		return errors.Wrap(err, "--log-format")
	}

	o.logger = metrics.NewLogger(
		metrics.WithOutput(os.Stderr),
		metrics.WithLevel(level),
		metrics.WithFormat(format),
		metrics.WithColor(o.logColor && format == metrics.FormatText),
		metrics.WithFields(metrics.Fields{"app": "qauth"}),
	)
	metrics.SetLogger(o.logger)

	switch strings.ToLower(o.tracing) {
	case "none":
		metrics.SetTracer(metrics.NoOpTracer{})
	case "simple":
		metrics.SetTracer(metrics.NewSimpleTracer())
	case "otel":
		if !metrics.OTelEnabled() {
			return errors.New("otel tracing not enabled (build with -tags otel)")
		}
		metrics.SetTracer(metrics.NewOTelTracer("qauth"))
	default:
		return errors.Errorf("invalid tracing mode: %s (use none, simple, or otel)", o.tracing)
	}

	o.collector = metrics.NewCollector(metrics.Labels{"service": "qauth"})
	metrics.SetGlobal(o.collector)
	return nil
}

func (o *observability) authObserver() auth.Observer {
	return metrics.NewAuthObserver(metrics.ObserverConfig{
		Collector: o.collector,
		Logger:    o.logger,
	})
}

func (o *observability) linkObserver() *metrics.LinkObserver {
	return metrics.NewLinkObserver(metrics.ObserverConfig{
		Collector: o.collector,
		Logger:    o.logger,
	})
}
