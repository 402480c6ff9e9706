package resolver

import (
	"context"
	"errors"
	"io"
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

// ErrNoSubscriber is returned when a subscription is requested from a
// resolver whose transport cannot subscribe.
var ErrNoSubscriber = errors.New("resolver: transport does not support subscriptions")

// Event is one subscription message after it was merged.
type Event struct {
	// Cache holds the merged event.
	Cache *cache.Cache
	// Err is the aggregated GraphQL error of this event, or the network
	// error that ended the stream.
	Err        error
	Extensions map[string]any
}

// Stream is a live subscription. Events is closed once the server completed
// the subscription, the transport failed or Close was called.
type Stream struct {
	r      *Resolver
	sels   []*selection.Selection
	target *cache.Cache
	src    transport.Stream
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error

	closeOnce sync.Once
}

func (s *Stream) Events() <-chan Event { return s.events }

// Err returns the error that ended the stream. It is nil while the stream is
// open, after a clean completion and after Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes and releases the subscription selections. No event is
// merged after Close returns.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		s.src.Close()
		<-s.done
		s.r.table.Release(s.sels)
	})
	return nil
}

func (r *Resolver) subscriber() (transport.Subscriber, error) {
	if r.opts.Subscriber != nil {
		return r.opts.Subscriber, nil
	}
	if sub, ok := r.tr.(transport.Subscriber); ok {
		return sub, nil
	}
	return nil, ErrNoSubscriber
}

// Subscribe compiles the subscription selections of req, opens the stream and
// merges every event into the cache before delivering it. A no-store request
// merges into a private cache.
func (r *Resolver) Subscribe(ctx context.Context, req Request) (*Stream, error) {
	sels := req.Selections.Filter(selection.Subscription)
	if sels.Len() == 0 {
		return nil, &gqlerr.CompileError{Message: "no subscription selections"}
	}
	sub, err := r.subscriber()
	if err != nil {
		return nil, err
	}
	payload, err := compiler.Compile(selection.Subscription, sels.Slice(), compiler.Options{
		OperationName: req.OperationName,
		Schema:        r.opts.Schema,
	})
	if err != nil {
		return nil, err
	}
	payload.Extensions = req.Extensions

	ctx, cancel := context.WithCancel(ctx)
	ctx, _ = reqid.NewContext(ctx)
	eventbus.Publish(ctx, events.SubscriptionStart{OperationName: payload.OperationName, Query: payload.Query})

	src, err := r.connect(ctx, sub, payload, req)
	if err != nil {
		cancel()
		eventbus.Publish(ctx, events.SubscriptionFinish{OperationName: payload.OperationName, Err: err})
		return nil, err
	}

	target := r.cache
	if !req.Policy.Stores() {
		target = r.cache.Derive()
	}
	s := &Stream{
		r:      r,
		sels:   sels.Slice(),
		target: target,
		src:    src,
		cancel: cancel,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	go s.run(ctx, payload.OperationName)
	return s, nil
}

func (r *Resolver) connect(ctx context.Context, sub transport.Subscriber, payload transport.QueryPayload, req Request) (transport.Stream, error) {
	retry := r.retryFor(req)
	op := func() (src transport.Stream, err error) {
		defer func() {
			if v := recover(); v != nil {
				src, err = nil, &gqlerr.NetworkError{Cause: gqlerr.PanicError{Value: v}}
			}
		}()
		src, err = sub.Subscribe(ctx, payload, req.FetchOptions)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, gqlerr.NewNetworkError(err)
		}
		return src, nil
	}
	src, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(retry.backOff()),
		backoff.WithMaxTries(uint(retry.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (s *Stream) run(ctx context.Context, opName string) {
	defer close(s.done)
	defer close(s.events)

	start := time.Now()
	count := 0
	var finalErr error
	defer func() {
		eventbus.Publish(ctx, events.SubscriptionFinish{
			OperationName: opName,
			Events:        count,
			Err:           finalErr,
			Duration:      time.Since(start),
		})
	}()

	for {
		resp, err := s.src.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			finalErr = gqlerr.NewNetworkError(err)
			s.mu.Lock()
			s.err = finalErr
			s.mu.Unlock()
			s.send(ctx, Event{Cache: s.target, Err: finalErr})
			return
		}
		if resp == nil {
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if resp.Data != nil {
			s.target.Merge(map[string]any{selection.Subscription.String(): resp.Data}, s.target.Now())
		}
		s.mu.Unlock()

		count++
		eventbus.Publish(ctx, events.SubscriptionEvent{OperationName: opName, Errors: len(resp.Errors)})
		ev := Event{Cache: s.target, Extensions: resp.Extensions}
		if gerr := gqlerr.FromGraphQLErrors(resp.Errors, s.r.opts.Production); gerr != nil {
			ev.Err = gerr
		}
		if !s.send(ctx, ev) {
			return
		}
	}
}

func (s *Stream) send(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveFirstEvent answers a one-shot resolution of subscription selections
// with the first event and unsubscribes.
func (r *Resolver) resolveFirstEvent(ctx context.Context, req Request) (*Result, error) {
	s, err := r.Subscribe(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	select {
	case ev, ok := <-s.Events():
		if !ok {
			return &Result{Cache: s.target}, s.Err()
		}
		return &Result{Cache: ev.Cache, Fetched: true, Extensions: ev.Extensions}, ev.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
