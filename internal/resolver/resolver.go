// Package resolver decides, per resolution, whether the cache can answer a set
// of touched selections and otherwise fetches them.
//
// Resolutions that need a fetch join an open batch keyed by operation kind,
// operation name, extensions, fetch options and storage mode. The batch stays
// open until its Scheduler flushes it; then one document is compiled for every
// selection that joined, sent through the transport once and the response is
// merged into the cache before every waiting caller is released.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/eventbus"
	"github.com/kleberbaum/gqty/internal/events"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/selection"
	"github.com/kleberbaum/gqty/internal/transport"
	"golang.org/x/sync/singleflight"
)

// Request describes one resolution.
type Request struct {
	Kind       selection.Kind
	Selections *selection.Set
	Policy     cache.Policy
	// AwaitsFetch makes a stale read wait for its revalidation. When false
	// the stale value is served at once and the refresh is handed to
	// OnFetch.
	AwaitsFetch bool
	OnFetch     func(*Pending)
	// OnCacheData is consulted when a fetching policy finds the cache able
	// to answer; returning false skips the fetch.
	OnCacheData   func(*cache.Cache) bool
	OperationName string
	Extensions    map[string]any
	FetchOptions  transport.FetchOptions
	// Retry overrides the resolver retry policy.
	Retry *RetryPolicy
}

// Result points at the cache that answers a resolution.
type Result struct {
	// Cache is the shared cache, or a private one for no-store fetches.
	Cache *cache.Cache
	// Fetched is set when the resolution waited for a fetch.
	Fetched bool
	// Extensions are the response extensions of that fetch.
	Extensions map[string]any
	// Refresh is the background revalidation started for a stale read.
	Refresh *Pending
}

type Resolver struct {
	cache *cache.Cache
	table *selection.Table
	tr    transport.Transport
	opts  *Options

	flight singleflight.Group

	mu   sync.Mutex
	open map[string]*batch
}

func New(c *cache.Cache, table *selection.Table, tr transport.Transport, opts ...Option) *Resolver {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Scheduler == nil {
		o.Scheduler = TimerScheduler{Window: o.BatchWindow}
	}
	return &Resolver{
		cache: c,
		table: table,
		tr:    tr,
		opts:  o,
		open:  make(map[string]*batch),
	}
}

func (r *Resolver) Cache() *cache.Cache     { return r.cache }
func (r *Resolver) Table() *selection.Table { return r.table }
func (r *Resolver) Options() Options        { return *r.opts }

// Resolve applies the request policy and fetches when needed. A GraphQL error
// is returned together with a Result: partial data is merged first.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if req.Kind == selection.Subscription {
		return r.resolveFirstEvent(ctx, req)
	}
	sels := req.Selections.Filter(req.Kind)
	cached := &Result{Cache: r.cache}
	if sels.Len() == 0 {
		return cached, nil
	}

	policy := req.Policy
	if req.Kind == selection.Mutation && policy != cache.NoStore {
		policy = cache.NoCache
	}
	sc := r.scan(sels.Leaves())
	decision := events.CacheDecision{
		Policy:  policy.String(),
		Leaves:  sc.leaves,
		Missing: len(sc.missing),
		Stale:   sc.stale,
		Expired: len(sc.expired),
	}

	switch policy {
	case cache.OnlyIfCached:
		eventbus.Publish(ctx, decision)
		if paths := sc.unusable(); len(paths) > 0 {
			return nil, &gqlerr.CacheMissError{Paths: paths}
		}
		return cached, nil
	case cache.ForceCache:
		if len(sc.unusable()) == 0 {
			eventbus.Publish(ctx, decision)
			return cached, nil
		}
	case cache.NoCache, cache.NoStore:
		if req.OnCacheData != nil && len(sc.unusable()) == 0 && !req.OnCacheData(r.cache) {
			eventbus.Publish(ctx, decision)
			return cached, nil
		}
	default:
		if len(sc.unusable()) == 0 {
			if sc.stale == 0 {
				eventbus.Publish(ctx, decision)
				return cached, nil
			}
			if !req.AwaitsFetch {
				b := r.enqueue(ctx, req, sels, true)
				p := b.pending()
				decision.Fetch, decision.Background = true, true
				eventbus.Publish(ctx, decision)
				if req.OnFetch != nil {
					req.OnFetch(p)
				}
				cached.Refresh = p
				return cached, nil
			}
		}
	}

	decision.Fetch = true
	eventbus.Publish(ctx, decision)
	b := r.enqueue(ctx, req, sels, policy.Stores())
	select {
	case <-b.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Result{Cache: b.target, Fetched: true, Extensions: b.extensions}, b.err
}

type scan struct {
	leaves  int
	missing []string
	expired []string
	stale   int
}

func (s scan) unusable() []string {
	if len(s.missing)+len(s.expired) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.missing)+len(s.expired))
	out = append(out, s.missing...)
	return append(out, s.expired...)
}

func (r *Resolver) scan(leaves []*selection.Selection) scan {
	sc := scan{leaves: len(leaves)}
	for _, leaf := range leaves {
		switch r.cache.Lookup(leaf.CacheKeys()).State {
		case cache.Miss:
			sc.missing = append(sc.missing, leaf.CachePath())
		case cache.Expired:
			sc.expired = append(sc.expired, leaf.CachePath())
		case cache.Stale:
			sc.stale++
		}
	}
	return sc
}

// Flush dispatches every open batch without waiting for its scheduler.
func (r *Resolver) Flush() {
	r.mu.Lock()
	open := make([]*batch, 0, len(r.open))
	for _, b := range r.open {
		open = append(open, b)
	}
	r.mu.Unlock()
	for _, b := range open {
		r.dispatch(b)
	}
}

func (r *Resolver) retryFor(req Request) RetryPolicy {
	if req.Retry != nil {
		return *req.Retry
	}
	if req.Kind == selection.Mutation {
		return r.opts.MutationRetry
	}
	return r.opts.Retry
}

func batchKey(kind selection.Kind, opName string, ext map[string]any, fo transport.FetchOptions, store bool, retry RetryPolicy) string {
	extKey := ""
	if len(ext) > 0 {
		b, err := json.Marshal(ext)
		if err != nil {
			extKey = fmt.Sprintf("%p", ext)
		} else {
			extKey = string(b)
		}
	}
	return fmt.Sprintf("%s|%s|%s|%s|%t|%d/%d/%d", kind, opName, extKey, fo.Key(), store,
		retry.MaxRetries, retry.InitialInterval, retry.MaxInterval)
}
