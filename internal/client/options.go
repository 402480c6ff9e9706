package client

import (
	"time"

	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/resolver"
	"github.com/kleberbaum/gqty/internal/schema"
	"github.com/kleberbaum/gqty/internal/transport"
)

// Options configure a Client.
//
// Defaults:
// - Policy:      cache.Default
// - AwaitsFetch: true
// - Cache:       cache.New(CacheOptions...)
type Options struct {
	Cache        *cache.Cache
	CacheOptions []cache.Option
	Policy       cache.Policy
	AwaitsFetch  bool
	Resolver     []resolver.Option
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{Policy: cache.Default, AwaitsFetch: true}
}

func WithCache(c *cache.Cache) Option              { return func(o *Options) { o.Cache = c } }
func WithPolicy(p cache.Policy) Option             { return func(o *Options) { o.Policy = p } }
func WithAwaitsFetch(on bool) Option               { return func(o *Options) { o.AwaitsFetch = on } }
func WithSchema(s *schema.Schema) Option           { return withResolver(resolver.WithSchema(s)) }
func WithProduction(on bool) Option                { return withResolver(resolver.WithProduction(on)) }
func WithSubscriber(s transport.Subscriber) Option { return withResolver(resolver.WithSubscriber(s)) }
func WithRetry(p resolver.RetryPolicy) Option      { return withResolver(resolver.WithRetry(p)) }
func WithBatchWindow(d time.Duration) Option       { return withResolver(resolver.WithBatchWindow(d)) }
func WithScheduler(s resolver.Scheduler) Option    { return withResolver(resolver.WithScheduler(s)) }

func WithCacheOptions(opts ...cache.Option) Option {
	return func(o *Options) { o.CacheOptions = append(o.CacheOptions, opts...) }
}

func withResolver(opt resolver.Option) Option {
	return func(o *Options) { o.Resolver = append(o.Resolver, opt) }
}

// ResolveOptions tune one resolution. Zero fields fall back to the client
// defaults.
type ResolveOptions struct {
	Policy        cache.Policy
	AwaitsFetch   bool
	OnFetch       func(*resolver.Pending)
	OnCacheData   func(cached any) bool
	Extensions    map[string]any
	OperationName string
	FetchOptions  transport.FetchOptions
	Retry         *resolver.RetryPolicy

	policySet bool
	awaitsSet bool
}

// ResolveOption mutates ResolveOptions
type ResolveOption func(*ResolveOptions)

func Policy(p cache.Policy) ResolveOption {
	return func(o *ResolveOptions) { o.Policy, o.policySet = p, true }
}

// AwaitsFetch decides whether a stale read waits for its revalidation.
func AwaitsFetch(on bool) ResolveOption {
	return func(o *ResolveOptions) { o.AwaitsFetch, o.awaitsSet = on, true }
}

// OnFetch receives the background refresh started for a stale read.
func OnFetch(fn func(*resolver.Pending)) ResolveOption {
	return func(o *ResolveOptions) { o.OnFetch = fn }
}

// OnCacheData is called with the cached projection when a forced fetch finds
// the cache able to answer. Returning false skips the fetch.
func OnCacheData(fn func(cached any) bool) ResolveOption {
	return func(o *ResolveOptions) { o.OnCacheData = fn }
}

// Refetch fetches regardless of the cache and stores the result.
func Refetch() ResolveOption { return Policy(cache.NoCache) }

// NoCache fetches regardless of the cache and keeps the result out of it.
func NoCache() ResolveOption { return Policy(cache.NoStore) }

func Extensions(ext map[string]any) ResolveOption {
	return func(o *ResolveOptions) { o.Extensions = ext }
}

func OperationName(name string) ResolveOption {
	return func(o *ResolveOptions) { o.OperationName = name }
}

func FetchOptions(fo transport.FetchOptions) ResolveOption {
	return func(o *ResolveOptions) { o.FetchOptions = fo }
}

// Retry sets the number of retries after a network failure. Zero disables
// retries.
func Retry(n int) ResolveOption {
	return func(o *ResolveOptions) {
		p := resolver.NoRetry
		if n > 0 {
			p = resolver.Retries(n)
		}
		o.Retry = &p
	}
}

func RetryPolicy(p resolver.RetryPolicy) ResolveOption {
	return func(o *ResolveOptions) { o.Retry = &p }
}
