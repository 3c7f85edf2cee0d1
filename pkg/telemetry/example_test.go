package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/awslabs/aws-codeseeder/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "codeseeder"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("dispatch")

	// Add context fields
	logger = logger.WithSeedkit("my-toolkit").WithExecutionID("abcdefgh")

	// Log at different levels
	logger.Debug("Staging bundle")
	logger.Info("Build submitted")
	logger.Warn("Log stream not yet available")

	// Log with error
	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("Failed to start build")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a call span
	ctx, span := tel.Tracer.StartCallSpan(ctx, "my-toolkit", "deploy:apply")
	defer span.End()

	// Add attributes
	span.SetAttributes(
		telemetry.AttrExecutionID.String("abcdefgh"),
	)

	// Nested step span
	_, childSpan := tel.Tracer.StartStepSpan(ctx, "bundle", "my-toolkit")
	defer childSpan.End()

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record call metrics
	tel.Metrics.RecordCallStarted("my-toolkit")

	// Simulate call execution
	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordCallCompleted("my-toolkit", "succeeded", duration)

	// Record pipeline step metrics
	tel.Metrics.RecordStepExecution("bundle", "succeeded", 25*time.Millisecond)

	// Record AWS call metrics
	tel.Metrics.RecordAWSCall("codebuild", "StartBuild", 15*time.Millisecond)

	// Record error metrics
	tel.Metrics.RecordError("transient", "TIMEOUT")

	// Record bundle size
	tel.Metrics.RecordBundleSize(1 << 20)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	// Publish events
	tel.Events.PublishCallStarted("my-toolkit", "abcdefgh", "deploy:apply")
	tel.Events.PublishPhaseTransition("my-toolkit", "project:1234", "BUILD", "SUCCEEDED")
	tel.Events.PublishCallCompleted("my-toolkit", "project:1234", 25*time.Millisecond)

	// Output varies due to async nature, no output specified
}

// Example_callInstrumentation demonstrates instrumenting a complete remote call.
func Example_callInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start call context
	seedkit := "my-toolkit"
	ctx = telemetry.WithCallContext(ctx, seedkit, "abcdefgh", "deploy:apply")

	// Execute the pipeline (simulated)
	err := telemetry.RecordStep(ctx, "bundle", seedkit, func(ctx context.Context) error {
		logger := telemetry.FromContext(ctx)
		logger.Info("Building bundle")
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	// End call context
	telemetry.EndCallContext(ctx, seedkit, "project:1234", "succeeded", err)

	fmt.Println("Call instrumentation complete")
	// Output: Call instrumentation complete
}

// Example_awsInstrumentation demonstrates instrumenting AWS API calls.
func Example_awsInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Record AWS operation
	err := telemetry.RecordAWSOperation(ctx, "s3", "PutObject", func() error {
		// Simulate API work
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("AWS operation completed successfully")
	}

	// Output: AWS operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start instrumented operation
	ic := telemetry.StartOperation(ctx, "seedkit.deploy",
		attribute.String("seedkit.name", "my-toolkit"),
	)
	defer ic.End(nil)

	// Use the instrumented context
	ic.Logger.Info("Deploying seedkit stack")

	// Simulate deployment
	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Stack deployment complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with seedkit filter
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Toolkit event: %s\n", event.Message)
	}, telemetry.FilterBySeedkit("my-toolkit"))

	// Publish various events
	tel.Events.PublishCallStarted("my-toolkit", "abcdefgh", "deploy:apply") // Info - filtered by level filter
	tel.Events.PublishCallFailed("my-toolkit", "project:1234", "timeout")   // Error - passes level filter

	// Output varies, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	// Customize for your environment
	cfg.ServiceName = "codeseeder"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	// Configure OTLP exporter
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "codeseeder"

	// Configure events
	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_errorRecording demonstrates error recording with proper classification.
func Example_errorRecording() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "watch_build")
	defer span.End()

	// Simulate an error
	err := fmt.Errorf("connection timeout")

	if err != nil {
		// Record error on span
		telemetry.RecordError(span, err)

		// Record error metric with classification
		tel.Metrics.RecordError("transient", "TIMEOUT")

		// Log error
		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("Operation failed")
	}

	fmt.Println("Error recording complete")
	// Output: Error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	seedkitLogger := tel.Logger.NewComponentLogger("seedkit")
	dispatchLogger := tel.Logger.NewComponentLogger("dispatch")
	monitorLogger := tel.Logger.NewComponentLogger("monitor")

	seedkitLogger.Info("Seedkit stack verified")
	dispatchLogger.Info("Submitting build")
	monitorLogger.Info("Watching build phases")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
