package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/compiler"
	"github.com/kleberbaum/gqty/internal/eventbus"
	"github.com/kleberbaum/gqty/internal/events"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/reqid"
	"github.com/kleberbaum/gqty/internal/selection"
	"github.com/kleberbaum/gqty/internal/transport"
)

// batch collects the selections of every resolution that joined it before
// its flush. All fields below done are written by execute before done is
// closed.
type batch struct {
	key       string
	kind      selection.Kind
	opName    string
	ext       map[string]any
	fetchOpts transport.FetchOptions
	store     bool
	retry     RetryPolicy
	ctx       context.Context

	set     *selection.Set
	callers int
	once    sync.Once

	done       chan struct{}
	target     *cache.Cache
	extensions map[string]any
	err        error
}

func (b *batch) pending() *Pending {
	return &Pending{done: b.done, err: func() error { return b.err }}
}

func (r *Resolver) enqueue(ctx context.Context, req Request, sels *selection.Set, store bool) *batch {
	retry := r.retryFor(req)
	key := batchKey(req.Kind, req.OperationName, req.Extensions, req.FetchOptions, store, retry)

	r.mu.Lock()
	b, ok := r.open[key]
	if !ok {
		b = &batch{
			key:       key,
			kind:      req.Kind,
			opName:    req.OperationName,
			ext:       req.Extensions,
			fetchOpts: req.FetchOptions,
			store:     store,
			retry:     retry,
			ctx:       context.WithoutCancel(ctx),
			set:       selection.NewSet(),
			done:      make(chan struct{}),
		}
		r.open[key] = b
	}
	b.set.AddAll(sels)
	b.callers++
	r.mu.Unlock()

	if !ok {
		r.opts.Scheduler.Schedule(func() { r.dispatch(b) })
	}
	return b
}

func (r *Resolver) dispatch(b *batch) {
	b.once.Do(func() {
		r.mu.Lock()
		if r.open[b.key] == b {
			delete(r.open, b.key)
		}
		r.mu.Unlock()
		go r.execute(b)
	})
}

func (r *Resolver) execute(b *batch) {
	defer close(b.done)

	b.target = r.cache
	if !b.store {
		b.target = r.cache.Derive()
	}
	payload, err := compiler.Compile(b.kind, b.set.Slice(), compiler.Options{
		OperationName: b.opName,
		Schema:        r.opts.Schema,
	})
	if err != nil {
		b.err = err
		return
	}
	payload.Extensions = b.ext

	resp, err := r.fetch(b, payload)
	if err != nil {
		b.err = err
		return
	}
	b.extensions = resp.Extensions
	if resp.Data != nil {
		b.target.Merge(map[string]any{b.kind.String(): resp.Data}, b.target.Now())
		eventbus.Publish(b.ctx, events.CacheMerge{OperationType: b.kind.String(), Shared: b.store})
	}
	if gerr := gqlerr.FromGraphQLErrors(resp.Errors, r.opts.Production); gerr != nil {
		b.err = gerr
	}
}

// fetch shares one transport call between identical in-flight queries.
func (r *Resolver) fetch(b *batch, payload transport.QueryPayload) (*transport.Response, error) {
	if !r.opts.Dedupe || b.kind != selection.Query {
		return r.attempts(b, payload)
	}
	key := flightKey(payload, b.fetchOpts)
	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.attempts(b, payload)
	})
	if err != nil {
		return nil, err
	}
	return v.(*transport.Response), nil
}

func flightKey(payload transport.QueryPayload, fo transport.FetchOptions) string {
	return batchKey(selection.Query, payload.OperationName, map[string]any{
		"q": payload.Query,
		"v": payload.Variables,
		"e": payload.Extensions,
	}, fo, true, RetryPolicy{})
}

// attempts runs the transport call under the batch retry policy.
func (r *Resolver) attempts(b *batch, payload transport.QueryPayload) (*transport.Response, error) {
	ctx, _ := reqid.NewContext(b.ctx)
	kind := b.kind.String()
	start := time.Now()
	eventbus.Publish(ctx, events.FetchStart{
		OperationType: kind,
		OperationName: payload.OperationName,
		Query:         payload.Query,
		Callers:       b.callers,
	})

	attempt := 0
	op := func() (*transport.Response, error) {
		attempt++
		resp, err := r.call(ctx, payload, b.fetchOpts)
		if err != nil && !gqlerr.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}
	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b.retry.backOff()),
		backoff.WithMaxTries(uint(b.retry.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, _ time.Duration) {
			eventbus.Publish(ctx, events.FetchRetry{
				OperationType: kind,
				OperationName: payload.OperationName,
				Attempt:       attempt,
				Err:           err,
			})
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}

	finish := events.FetchFinish{
		OperationType: kind,
		OperationName: payload.OperationName,
		Query:         payload.Query,
		Attempts:      attempt,
		Err:           err,
		Duration:      time.Since(start),
	}
	if resp != nil {
		finish.Errors = len(resp.Errors)
	}
	eventbus.Publish(ctx, finish)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// call invokes the transport once. Errors and panics become NetworkError.
func (r *Resolver) call(ctx context.Context, payload transport.QueryPayload, fo transport.FetchOptions) (resp *transport.Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			resp, err = nil, &gqlerr.NetworkError{Cause: gqlerr.PanicError{Value: v}}
		}
	}()
	if fo.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, fo.Timeout)
			defer cancel()
		}
	}
	resp, err = r.tr.Execute(ctx, payload, fo)
	if err != nil {
		return nil, gqlerr.NewNetworkError(err)
	}
	if resp == nil {
		resp = &transport.Response{}
	}
	return resp, nil
}
