package otel

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/kleberbaum/gqty/internal/eventbus"
	"github.com/kleberbaum/gqty/internal/events"
	"github.com/kleberbaum/gqty/internal/reqid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setup(t *testing.T) (*eventbus.Bus, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	bus := eventbus.New()
	t.Cleanup(Attach(bus, tp))
	return bus, rec
}

func TestFetchSpanWithHTTPChild(t *testing.T) {
	bus, rec := setup(t)
	ctx, _ := reqid.NewContext(context.Background())
	req, err := http.NewRequest(http.MethodPost, "http://example.test/graphql", nil)
	require.NoError(t, err)

	eventbus.Emit(ctx, bus, events.FetchStart{OperationType: "query", Query: "query{hello}", Callers: 2})
	eventbus.Emit(ctx, bus, events.HTTPClientStart{Request: req})
	eventbus.Emit(ctx, bus, events.HTTPClientFinish{Request: req, Status: http.StatusOK})
	eventbus.Emit(ctx, bus, events.FetchFinish{OperationType: "query", Attempts: 1})

	spans := rec.Ended()
	require.Len(t, spans, 2)
	httpSpan, fetchSpan := spans[0], spans[1]
	require.Equal(t, "http.client", httpSpan.Name())
	require.Equal(t, "graphql.fetch", fetchSpan.Name())
	require.Equal(t, fetchSpan.SpanContext().SpanID(), httpSpan.Parent().SpanID())
	require.Equal(t, codes.Unset, fetchSpan.Status().Code)
}

func TestFetchSpanRecordsRetriesAndErrors(t *testing.T) {
	bus, rec := setup(t)
	ctx, _ := reqid.NewContext(context.Background())

	eventbus.Emit(ctx, bus, events.FetchStart{OperationType: "mutation"})
	eventbus.Emit(ctx, bus, events.FetchRetry{OperationType: "mutation", Attempt: 1, Err: errors.New("boom")})
	eventbus.Emit(ctx, bus, events.FetchFinish{OperationType: "mutation", Attempts: 2, Err: errors.New("boom")})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	var names []string
	for _, e := range spans[0].Events() {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"retry", "exception"}, names)
}

func TestSubscriptionSpan(t *testing.T) {
	bus, rec := setup(t)
	ctx, _ := reqid.NewContext(context.Background())

	eventbus.Emit(ctx, bus, events.SubscriptionStart{Query: "subscription{ticks}"})
	eventbus.Emit(ctx, bus, events.SubscriptionEvent{})
	eventbus.Emit(ctx, bus, events.SubscriptionEvent{Errors: 1})
	eventbus.Emit(ctx, bus, events.SubscriptionFinish{Events: 2})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "graphql.subscription", spans[0].Name())
	require.Len(t, spans[0].Events(), 2)
}

func TestFinishWithoutStartIsIgnored(t *testing.T) {
	bus, rec := setup(t)
	ctx, _ := reqid.NewContext(context.Background())
	eventbus.Emit(ctx, bus, events.FetchFinish{})
	require.Empty(t, rec.Ended())
}

func TestDetach(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	bus := eventbus.New()
	detach := Attach(bus, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	detach()

	ctx, _ := reqid.NewContext(context.Background())
	eventbus.Emit(ctx, bus, events.FetchStart{})
	eventbus.Emit(ctx, bus, events.FetchFinish{})
	require.Empty(t, rec.Ended())
	require.Empty(t, rec.Started())
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup("", "gqty")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
