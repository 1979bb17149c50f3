// Package telemetry provides observability for configuration loads.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and a small event publisher that the
// loader uses to announce loads, reloads and policy violations.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Tracing.Enabled = true
//	cfg.Tracing.Exporter = "otlp"
//	cfg.Tracing.Endpoint = "localhost:4317"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Metrics
//
//	tel.Metrics.RecordLoad("", duration, diagnostics)
//	tel.Metrics.RecordLoad("duplicate_option", duration, diagnostics)
//
// Metrics are served over HTTP when Metrics.ListenAddress is set:
//
//	srv, err := tel.StartMetricsServer()
//
// # Events
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("%s %s\n", event.Type, event.Source)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Supported exporters: otlp (gRPC), stdout, none.
package telemetry
