package client

import (
	"context"
	"sync"

	"github.com/kleberbaum/gqty/internal/accessor"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/resolver"
	"github.com/kleberbaum/gqty/internal/selection"
)

// Value is one projected subscription event.
type Value[T any] struct {
	Data       T
	Err        error
	Extensions map[string]any
}

// Subscription is a live projection of a subscription.
type Subscription[T any] struct {
	stream *resolver.Stream
	values chan Value[T]
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Values is closed when the subscription ended or was closed.
func (s *Subscription[T]) Values() <-chan Value[T] { return s.values }

// Err returns the network error that ended the subscription, if any.
func (s *Subscription[T]) Err() error { return s.stream.Err() }

// Close unsubscribes. No value is delivered after Close returns.
func (s *Subscription[T]) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.stream.Close()
		<-s.done
	})
	return nil
}

// Subscribe opens the subscription fn touches and re-runs fn for every event.
func Subscribe[T any](ctx context.Context, c *Client, fn func(*accessor.Accessor) T, opts ...ResolveOption) (*Subscription[T], error) {
	ro := c.resolveOptions(opts)

	w := accessor.NewWindow(c.table)
	fn(accessor.Root(w, selection.Subscription, nil))
	if err := w.Err(); err != nil {
		return nil, err
	}
	sels := w.Selections()
	if sels.Len() == 0 {
		return nil, &gqlerr.CompileError{Message: "subscription touched no fields"}
	}
	c.table.Remember(sels)

	stream, err := c.res.Subscribe(ctx, c.request(selection.Subscription, sels, ro))
	if err != nil {
		return nil, err
	}
	s := &Subscription[T]{
		stream: stream,
		values: make(chan Value[T]),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.values)
		for ev := range stream.Events() {
			v := Value[T]{Err: ev.Err, Extensions: ev.Extensions}
			v.Data = project(c, func(r Roots) T { return fn(r.Subscription) }, ev.Cache)
			select {
			case s.values <- v:
			case <-s.stop:
				return
			}
		}
	}()
	return s, nil
}
