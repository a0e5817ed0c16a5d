package telemetry

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Tracer wraps one span. Spans start lazily so attributes known only after
// construction still land on the span's start event.
type Tracer interface {
	Start()
	WithAttributes(attributes *SpanAttributes) Tracer
	SetStatus(code codes.Code, message string)
	Spawn(spanName string) Tracer
	// Export serialises the span context so other services can parent on it.
	Export() string
	End()
}

type tracerKey struct{}

// FromContext returns the tracer stored by WithTracer, or a DummyTracer.
func FromContext(ctx context.Context) Tracer {
	if tracer, ok := ctx.Value(tracerKey{}).(Tracer); ok && tracer != nil {
		return tracer
	}
	return &DummyTracer{}
}

func WithTracer(ctx context.Context, tracer Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, tracer)
}

type TracerFactory struct {
	telemetry Telemetry
}

type TracerFactoryParams struct {
	fx.In
	Telemetry Telemetry `optional:"true"`
}

func NewTracerFactory(p TracerFactoryParams) *TracerFactory {
	return &TracerFactory{telemetry: p.Telemetry}
}

// NewTracer returns an unstarted root tracer, or a DummyTracer when
// telemetry is off.
func (f *TracerFactory) NewTracer(ctx context.Context, spanName string) Tracer {
	if f.telemetry == nil || f.telemetry.GetTracer() == nil {
		return &DummyTracer{}
	}
	return &spanTracer{
		tracer: f.telemetry.GetTracer(),
		ctx:    ctx,
		name:   spanName,
		attrs:  EmptySpanAttributes(),
	}
}

type spanTracer struct {
	tracer trace.Tracer
	span   trace.Span
	ctx    context.Context // carries span once started
	name   string
	attrs  *SpanAttributes
}

func (t *spanTracer) Start() {
	attrs := append(t.attrs.Attributes(), attribute.String("bisect.action.name", t.name))
	t.ctx, t.span = t.tracer.Start(t.ctx, t.name, trace.WithAttributes(attrs...))
}

func (t *spanTracer) WithAttributes(attributes *SpanAttributes) Tracer {
	t.attrs.Merge(attributes)
	if t.span != nil {
		t.span.SetAttributes(t.attrs.Attributes()...)
	}
	return t
}

func (t *spanTracer) SetStatus(code codes.Code, message string) {
	if t.span != nil {
		t.span.SetStatus(code, message)
	}
}

// Spawn returns an unstarted child inheriting this span's attributes.
func (t *spanTracer) Spawn(spanName string) Tracer {
	child := &spanTracer{tracer: t.tracer, ctx: t.ctx, name: spanName, attrs: EmptySpanAttributes()}
	return child.WithAttributes(t.attrs)
}

func (t *spanTracer) Export() string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(t.ctx, carrier)
	payload, err := json.Marshal(carrier)
	if err != nil {
		return ""
	}
	return string(payload)
}

func (t *spanTracer) End() {
	if t.span != nil {
		t.span.End()
	}
}

// DummyTracer is used when telemetry is disabled.
type DummyTracer struct{}

func (t *DummyTracer) Start()                                           {}
func (t *DummyTracer) WithAttributes(attributes *SpanAttributes) Tracer { return t }
func (t *DummyTracer) SetStatus(code codes.Code, message string)        {}
func (t *DummyTracer) Spawn(spanName string) Tracer                     { return t }
func (t *DummyTracer) Export() string                                   { return "" }
func (t *DummyTracer) End()                                             {}
