// Package telemetry provides observability instrumentation for codeseeder.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging remote call execution.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "codeseeder"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("dispatch")
//	logger = logger.WithSeedkit("my-toolkit").WithExecutionID(execID)
//	logger.Info("Submitting build")
//	logger.WithError(err).Error("Submission failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into the remote call pipeline:
//
//	ctx, span := tel.Tracer.StartCallSpan(ctx, seedkit, fnID)
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track remote call behavior:
//
//	tel.Metrics.RecordCallStarted(seedkit)
//	tel.Metrics.RecordCallCompleted(seedkit, "succeeded", duration)
//	tel.Metrics.RecordStepExecution("bundle", "succeeded", duration)
//	tel.Metrics.RecordAWSCall("codebuild", "StartBuild", duration)
//	tel.Metrics.RecordError("transient", "TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishCallStarted(seedkit, execID, fnID)
//	tel.Events.PublishPhaseTransition(seedkit, buildID, "BUILD", "SUCCEEDED")
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterBySeedkit, FilterByBuildID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "seedkit.deploy",
//	    attribute.String("seedkit.name", name))
//	defer ic.End(err)
//
//	// Remote call context
//	ctx = telemetry.WithCallContext(ctx, seedkit, execID, fnID)
//	defer telemetry.EndCallContext(ctx, seedkit, buildID, status, err)
//
//	// Pipeline step
//	err := telemetry.RecordStep(ctx, "bundle", seedkit, func(ctx context.Context) error {
//	    return builder.Build(ctx, spec)
//	})
//
//	// AWS API call
//	err := telemetry.RecordAWSOperation(ctx, "s3", "PutObject", func() error {
//	    return client.Upload(ctx, bucket, key, path)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - codeseeder_calls_started_total{seedkit}
//   - codeseeder_calls_completed_total{seedkit,status}
//   - codeseeder_call_duration_seconds{seedkit,status}
//   - codeseeder_steps_executed_total{step,status}
//   - codeseeder_phase_transitions_total{phase,status}
//   - codeseeder_seedkit_operations_total{operation,status}
//   - codeseeder_aws_calls_total{service,operation}
//   - codeseeder_aws_errors_total{service,operation}
//   - codeseeder_errors_by_class_total{class}
//   - codeseeder_bundle_size_bytes
//   - codeseeder_active_calls
package telemetry
