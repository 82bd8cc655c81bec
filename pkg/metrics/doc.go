// Package metrics is the observability layer of quantum-auth: counters and
// latency histograms, a Prometheus text exporter, span tracing, leveled
// structured logging and an HTTP server for probes.
//
// # Observers
//
// Protocol engines and the backend do not touch the collector directly.
// They report through two observers, which update the collector, open
// spans and log in one place:
//
//	obs := metrics.NewAuthObserver(metrics.ObserverConfig{Collector: c, Logger: logger})
//	ctx, done := obs.StartSession(ctx, "zawadzki", "verifier")
//	obs.OnVerdict("zawadzki", ok)
//	done(err)
//
// LinkObserver does the same for encrypted backend links: handshakes,
// rejections, per-request spans and record integrity failures.
//
// # Collector and Export
//
//	c := metrics.NewCollector(metrics.Labels{"service": "qauth"})
//	http.Handle("/metrics", metrics.NewPrometheusExporter(c, "qauth").Handler())
//
// Session and handshake durations land in millisecond histograms; see
// SessionLatencyBuckets and HandshakeLatencyBuckets.
//
// # Tracing
//
// The process-wide tracer defaults to NoOpTracer. SimpleTracer keeps spans
// in memory; OTelTracer forwards to OpenTelemetry when built with
// -tags otel.
//
//	metrics.SetTracer(metrics.NewSimpleTracer())
//	ctx, end := metrics.StartSpan(ctx, metrics.SpanLinkHandshake,
//		metrics.WithSpanKind(metrics.SpanKindClient))
//	defer end(err)
//
// # Logging
//
//	logger := metrics.NewLogger(
//		metrics.WithFormat(metrics.FormatJSON),
//		metrics.WithFields(metrics.Fields{"app": "qauth"}),
//	)
//	logger.Named("backend").Info("session opened", metrics.Fields{"node": "alice"})
//
// Loggers derived with With and Named share their parent's writer and level.
//
// # Observability Server
//
//	srv := metrics.NewServer(metrics.ServerConfig{
//		Collector:        c,
//		EnablePrometheus: true,
//		EnableHealth:     true,
//	})
//	srv.AddHealthCheck("backend", metrics.ListenerCheck(backendServer.Addr))
//	go srv.ListenAndServe(ctx, ":9090")
//
// Routes: /metrics, /health (full report), /healthz (liveness) and
// /readyz (readiness).
package metrics
