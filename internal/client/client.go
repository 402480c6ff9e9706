// Package client ties a cache, a selection table and a resolver together.
//
// A resolution runs the caller's projection twice. The first run reads the
// cache as it is and records every touched field; the resolver then decides
// from those selections whether to fetch. The second run projects the
// answering cache. The selections of both runs are remembered for the next
// traversal.
package client

import (
	"context"

	"github.com/kleberbaum/gqty/internal/accessor"
	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/resolver"
	"github.com/kleberbaum/gqty/internal/selection"
	"github.com/kleberbaum/gqty/internal/transport"
)

type Client struct {
	cache *cache.Cache
	table *selection.Table
	res   *resolver.Resolver
	opts  *Options
}

func New(tr transport.Transport, opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	c := o.Cache
	if c == nil {
		c = cache.New(o.CacheOptions...)
	}
	table := selection.NewTable()
	return &Client{
		cache: c,
		table: table,
		res:   resolver.New(c, table, tr, o.Resolver...),
		opts:  o,
	}
}

func (c *Client) Cache() *cache.Cache          { return c.cache }
func (c *Client) Table() *selection.Table      { return c.table }
func (c *Client) Resolver() *resolver.Resolver { return c.res }

// Flush dispatches pending batches without waiting for the batch window.
func (c *Client) Flush() { c.res.Flush() }

// Roots gives a projection access to every operation root. One resolution
// may only touch one of them.
type Roots struct {
	Query        *accessor.Accessor
	Mutation     *accessor.Accessor
	Subscription *accessor.Accessor
}

func roots(w *accessor.Window, c *cache.Cache) Roots {
	return Roots{
		Query:        accessor.Root(w, selection.Query, c),
		Mutation:     accessor.Root(w, selection.Mutation, c),
		Subscription: accessor.Root(w, selection.Subscription, c),
	}
}

// Resolve projects the query root.
func Resolve[T any](ctx context.Context, c *Client, fn func(*accessor.Accessor) T, opts ...ResolveOption) (T, error) {
	return Run(ctx, c, func(r Roots) T { return fn(r.Query) }, opts...)
}

// Mutate projects the mutation root. Mutations are always fetched.
func Mutate[T any](ctx context.Context, c *Client, fn func(*accessor.Accessor) T, opts ...ResolveOption) (T, error) {
	return Run(ctx, c, func(r Roots) T { return fn(r.Mutation) }, opts...)
}

// Run resolves whatever root fn touches. Touching a subscription field
// answers with its first event. A GraphQL error is returned together with the
// projection of the partial data.
func Run[T any](ctx context.Context, c *Client, fn func(Roots) T, opts ...ResolveOption) (T, error) {
	var zero T
	ro := c.resolveOptions(opts)

	w := accessor.NewWindow(c.table)
	fn(roots(w, c.cache))
	if err := w.Err(); err != nil {
		return zero, err
	}
	sels := w.Selections()
	kinds := sels.Kinds()
	if len(kinds) == 0 {
		return project(c, fn, c.cache), nil
	}
	if len(kinds) > 1 {
		return zero, &gqlerr.CompileError{Message: "a resolution cannot mix operation kinds"}
	}
	c.table.Remember(sels)

	req := c.request(kinds[0], sels, ro)
	if ro.OnCacheData != nil {
		req.OnCacheData = func(cached *cache.Cache) bool {
			return ro.OnCacheData(peek(c, fn, cached))
		}
	}
	res, err := c.res.Resolve(ctx, req)
	if res == nil {
		return zero, err
	}
	return project(c, fn, res.Cache), err
}

// project runs fn against src and remembers what it touched.
func project[T any](c *Client, fn func(Roots) T, src *cache.Cache) T {
	w := accessor.NewWindow(c.table)
	v := fn(roots(w, src))
	c.table.Remember(w.Selections())
	return v
}

// peek runs fn against src without remembering its selections.
func peek[T any](c *Client, fn func(Roots) T, src *cache.Cache) T {
	return fn(roots(accessor.NewWindow(c.table), src))
}

func (c *Client) resolveOptions(opts []ResolveOption) ResolveOptions {
	var ro ResolveOptions
	for _, f := range opts {
		f(&ro)
	}
	if !ro.policySet {
		ro.Policy = c.opts.Policy
	}
	if !ro.awaitsSet {
		ro.AwaitsFetch = c.opts.AwaitsFetch
	}
	return ro
}

func (c *Client) request(kind selection.Kind, sels *selection.Set, ro ResolveOptions) resolver.Request {
	return resolver.Request{
		Kind:          kind,
		Selections:    sels,
		Policy:        ro.Policy,
		AwaitsFetch:   ro.AwaitsFetch,
		OnFetch:       ro.OnFetch,
		OperationName: ro.OperationName,
		Extensions:    ro.Extensions,
		FetchOptions:  ro.FetchOptions,
		Retry:         ro.Retry,
	}
}
