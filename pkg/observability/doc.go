// Package observability provides OpenTelemetry tracing, metrics and logging
// for oteldemo.
//
// # Providers
//
// Initialize telemetry at application startup:
//
//	p, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "oteldemo",
//		Exporter:     observability.ExporterOTLP,
//		OTLPEndpoint: "otel-collector:4317",
//		Insecure:     true,
//		SampleRate:   1.0,
//		Enabled:      true,
//	})
//	defer p.Shutdown(ctx)
//
// Route slog through the OpenTelemetry log pipeline:
//
//	slog.SetDefault(observability.NewLogger(logCfg, p.LoggerProvider()))
//
// # Spans
//
// Open a child of the span carried by ctx and end it on every return path:
//
//	ctx, end := observability.StartChild(ctx, p.Tracer(), "Nested Activity")
//	defer func() { end(err) }()
//
// # Metrics
//
// Expose the Prometheus scrape endpoint:
//
//	mux.Handle("/metrics", p.MetricsHandler())
//
// Record RED metrics around a request:
//
//	done := p.TrackRequest(ctx, attribute.String("http.route", "/otel-demo"))
//	defer func() { done(err) }()
package observability
