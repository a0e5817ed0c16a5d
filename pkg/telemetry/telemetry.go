package telemetry

import (
	"context"
	"errors"
	"os"
	"runtime"

	"autobisect/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Telemetry exposes the OTLP-backed tracer and log emitter. GetLogger is nil
// when no log exporter could be created.
type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

type otlpTelemetry struct {
	tracer trace.Tracer
	logger log.Logger
}

func (t *otlpTelemetry) GetTracer() trace.Tracer { return t.tracer }
func (t *otlpTelemetry) GetLogger() log.Logger   { return t.logger }

type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
}

// NewTelemetry exports spans and log records over OTLP/gRPC. Endpoints come
// from the standard OTEL_EXPORTER_OTLP_* variables.
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	ctx, cancel := context.WithCancel(context.Background())
	res := serviceResource(p.Config)

	spanExp, err := otlptracegrpc.New(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	traces := sdktrace.NewTracerProvider(sdktrace.WithBatcher(spanExp), sdktrace.WithResource(res))
	otel.SetTracerProvider(traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// the log exporter is still beta; run without it rather than fail
	var logs *sdklog.LoggerProvider
	if logExp, err := otlploggrpc.New(ctx); err == nil {
		logs = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
			sdklog.WithResource(res),
		)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			defer cancel()
			errs := []error{traces.Shutdown(ctx)}
			if logs != nil {
				errs = append(errs, logs.Shutdown(ctx))
			}
			return errors.Join(errs...)
		},
	})

	t := &otlpTelemetry{tracer: traces.Tracer(p.Config.ServiceName)}
	if logs != nil {
		t.logger = logs.Logger(p.Config.ServiceName)
	}
	return t, nil
}

// serviceResource describes this process: which service, on which host
// shape, bisecting which checkout.
func serviceResource(cfg *config.AppConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ProcessPID(os.Getpid()),
		semconv.OSTypeKey.String(runtime.GOOS),
		semconv.HostArchKey.String(runtime.GOARCH),
		attribute.Int("host.cpu.count", runtime.NumCPU()),
	}
	if cfg.Bisect.RepoDir != "" {
		attrs = append(attrs, attribute.String("bisect.repo_dir", cfg.Bisect.RepoDir))
	}
	if cfg.Bisect.QueueName != "" {
		attrs = append(attrs, attribute.String("bisect.queue", cfg.Bisect.QueueName))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}
