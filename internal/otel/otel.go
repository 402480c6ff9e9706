// Package otel turns fetch, HTTP and subscription events into OpenTelemetry
// spans.
package otel

import (
	"context"
	"sync"

	"github.com/kleberbaum/gqty/internal/eventbus"
	"github.com/kleberbaum/gqty/internal/events"
	"github.com/kleberbaum/gqty/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/kleberbaum/gqty"

// Setup exports spans over OTLP/gRPC and attaches the subscribers to the
// global bus. If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	detach := Attach(eventbus.Global(), tp)
	return func(ctx context.Context) error {
		detach()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach subscribes span recording on bus. The returned func detaches it.
func Attach(bus *eventbus.Bus, tp trace.TracerProvider) (detach func()) {
	s := &subscriber{tracer: tp.Tracer(instrumentation)}
	return s.register(bus)
}

type subscriber struct {
	tracer     trace.Tracer
	fetchSpans sync.Map // rid -> trace.Span
	httpSpans  sync.Map // rid -> trace.Span
	subSpans   sync.Map // rid -> trace.Span
}

func (s *subscriber) parent(ctx context.Context, rid string) context.Context {
	if v, ok := s.fetchSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	if v, ok := s.subSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func end(ctx context.Context, spans *sync.Map, fn func(trace.Span)) {
	rid, _ := reqid.FromContext(ctx)
	v, ok := spans.LoadAndDelete(rid)
	if !ok {
		return
	}
	span := v.(trace.Span)
	fn(span)
	span.End()
}

func fail(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (s *subscriber) register(bus *eventbus.Bus) func() {
	offs := []func(){
		eventbus.Subscribe[events.FetchStart](bus, func(ctx context.Context, e events.FetchStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "graphql.fetch", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				attribute.String("graphql.operation.type", e.OperationType),
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.document", e.Query),
				attribute.Int("gqty.callers", e.Callers),
			)
			s.fetchSpans.Store(rid, span)
		}),

		eventbus.Subscribe[events.FetchRetry](bus, func(ctx context.Context, e events.FetchRetry) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.fetchSpans.Load(rid); ok {
				attrs := []attribute.KeyValue{attribute.Int("gqty.attempt", e.Attempt)}
				if e.Err != nil {
					attrs = append(attrs, attribute.String("error", e.Err.Error()))
				}
				v.(trace.Span).AddEvent("retry", trace.WithAttributes(attrs...))
			}
		}),

		eventbus.Subscribe[events.FetchFinish](bus, func(ctx context.Context, e events.FetchFinish) {
			end(ctx, &s.fetchSpans, func(span trace.Span) {
				span.SetAttributes(
					attribute.Int("gqty.attempts", e.Attempts),
					attribute.Int("graphql.error_count", e.Errors),
				)
				fail(span, e.Err)
			})
		}),

		eventbus.Subscribe[events.HTTPClientStart](bus, func(ctx context.Context, e events.HTTPClientStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, rid), "http.client", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.url", e.Request.URL.String()),
			)
			s.httpSpans.Store(rid, span)
		}),

		eventbus.Subscribe[events.HTTPClientFinish](bus, func(ctx context.Context, e events.HTTPClientFinish) {
			end(ctx, &s.httpSpans, func(span trace.Span) {
				if e.Status != 0 {
					span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
				}
				fail(span, e.Err)
			})
		}),

		eventbus.Subscribe[events.SubscriptionStart](bus, func(ctx context.Context, e events.SubscriptionStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "graphql.subscription", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.document", e.Query),
			)
			s.subSpans.Store(rid, span)
		}),

		eventbus.Subscribe[events.SubscriptionEvent](bus, func(ctx context.Context, e events.SubscriptionEvent) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.subSpans.Load(rid); ok {
				v.(trace.Span).AddEvent("event", trace.WithAttributes(attribute.Int("graphql.error_count", e.Errors)))
			}
		}),

		eventbus.Subscribe[events.SubscriptionFinish](bus, func(ctx context.Context, e events.SubscriptionFinish) {
			end(ctx, &s.subSpans, func(span trace.Span) {
				span.SetAttributes(attribute.Int("gqty.events", e.Events))
				fail(span, e.Err)
			})
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
