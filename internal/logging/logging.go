// Package logging writes client events to a zap logger.
package logging

import (
	"context"

	"github.com/kleberbaum/gqty/internal/eventbus"
	"github.com/kleberbaum/gqty/internal/events"
	"github.com/kleberbaum/gqty/internal/reqid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Attach logs the events published on bus. Successful fetches and cache
// decisions log at debug level; failures at warn or error. The returned func
// detaches the logger.
func Attach(bus *eventbus.Bus, logger *zap.Logger) (detach func()) {
	l := &subscriber{logger: logger}
	offs := []func(){
		eventbus.Subscribe[events.FetchStart](bus, l.fetchStart),
		eventbus.Subscribe[events.FetchRetry](bus, l.fetchRetry),
		eventbus.Subscribe[events.FetchFinish](bus, l.fetchFinish),
		eventbus.Subscribe[events.CacheDecision](bus, l.cacheDecision),
		eventbus.Subscribe[events.CacheMerge](bus, l.cacheMerge),
		eventbus.Subscribe[events.HTTPClientFinish](bus, l.httpFinish),
		eventbus.Subscribe[events.SubscriptionStart](bus, l.subscriptionStart),
		eventbus.Subscribe[events.SubscriptionEvent](bus, l.subscriptionEvent),
		eventbus.Subscribe[events.SubscriptionFinish](bus, l.subscriptionFinish),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

type subscriber struct {
	logger *zap.Logger
}

func (l *subscriber) with(ctx context.Context) *zap.Logger {
	if id, ok := reqid.FromContext(ctx); ok {
		return l.logger.With(zap.String("fetch_id", id))
	}
	return l.logger
}

func (l *subscriber) fetchStart(ctx context.Context, e events.FetchStart) {
	l.with(ctx).Debug("fetch start",
		zap.String("operation", e.OperationType),
		zap.String("name", e.OperationName),
		zap.String("query", e.Query),
		zap.Int("callers", e.Callers),
	)
}

func (l *subscriber) fetchRetry(ctx context.Context, e events.FetchRetry) {
	l.with(ctx).Warn("fetch retry",
		zap.String("operation", e.OperationType),
		zap.String("name", e.OperationName),
		zap.Int("attempt", e.Attempt),
		zap.Error(e.Err),
	)
}

func (l *subscriber) fetchFinish(ctx context.Context, e events.FetchFinish) {
	fields := []zap.Field{
		zap.String("operation", e.OperationType),
		zap.String("name", e.OperationName),
		zap.Int("attempts", e.Attempts),
		zap.Int("graphql_errors", e.Errors),
		zap.Duration("duration", e.Duration),
	}
	lvl := zapcore.DebugLevel
	switch {
	case e.Err != nil:
		lvl = zapcore.ErrorLevel
		fields = append(fields, zap.Error(e.Err))
	case e.Errors > 0:
		lvl = zapcore.WarnLevel
	}
	l.with(ctx).Log(lvl, "fetch finish", fields...)
}

func (l *subscriber) cacheDecision(ctx context.Context, e events.CacheDecision) {
	l.with(ctx).Debug("cache decision",
		zap.String("policy", e.Policy),
		zap.Int("leaves", e.Leaves),
		zap.Int("missing", e.Missing),
		zap.Int("stale", e.Stale),
		zap.Int("expired", e.Expired),
		zap.Bool("fetch", e.Fetch),
		zap.Bool("background", e.Background),
	)
}

func (l *subscriber) cacheMerge(ctx context.Context, e events.CacheMerge) {
	l.with(ctx).Debug("cache merge",
		zap.String("operation", e.OperationType),
		zap.Bool("shared", e.Shared),
	)
}

func (l *subscriber) httpFinish(ctx context.Context, e events.HTTPClientFinish) {
	fields := []zap.Field{
		zap.String("url", e.Request.URL.String()),
		zap.Int("status", e.Status),
		zap.Duration("duration", e.Duration),
	}
	if e.Err != nil {
		l.with(ctx).Warn("http request failed", append(fields, zap.Error(e.Err))...)
		return
	}
	l.with(ctx).Debug("http request", fields...)
}

func (l *subscriber) subscriptionStart(ctx context.Context, e events.SubscriptionStart) {
	l.with(ctx).Debug("subscription start",
		zap.String("name", e.OperationName),
		zap.String("query", e.Query),
	)
}

func (l *subscriber) subscriptionEvent(ctx context.Context, e events.SubscriptionEvent) {
	lvl := zapcore.DebugLevel
	if e.Errors > 0 {
		lvl = zapcore.WarnLevel
	}
	l.with(ctx).Log(lvl, "subscription event",
		zap.String("name", e.OperationName),
		zap.Int("graphql_errors", e.Errors),
	)
}

func (l *subscriber) subscriptionFinish(ctx context.Context, e events.SubscriptionFinish) {
	fields := []zap.Field{
		zap.String("name", e.OperationName),
		zap.Int("events", e.Events),
		zap.Duration("duration", e.Duration),
	}
	if e.Err != nil {
		l.with(ctx).Error("subscription finish", append(fields, zap.Error(e.Err))...)
		return
	}
	l.with(ctx).Debug("subscription finish", fields...)
}
