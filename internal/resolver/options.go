package resolver

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kleberbaum/gqty/internal/schema"
	"github.com/kleberbaum/gqty/internal/transport"
)

// RetryPolicy controls how often a failed fetch is repeated. Only network
// failures are retried.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first. Zero disables
	// retries.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NoRetry never repeats a fetch.
var NoRetry = RetryPolicy{}

// Retries returns a policy with n retries and the default intervals.
func Retries(n int) RetryPolicy {
	return RetryPolicy{MaxRetries: n, InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Options configure a Resolver.
//
// Defaults:
// - BatchWindow:   2ms
// - Retry:         1 retry for queries and subscription connects
// - MutationRetry: no retries, a mutation may have been applied before the
//   transport failed
type Options struct {
	BatchWindow   time.Duration
	Scheduler     Scheduler
	Retry         RetryPolicy
	MutationRetry RetryPolicy
	Schema        *schema.Schema
	// Production shortens the message of aggregated GraphQL errors.
	Production bool
	Subscriber transport.Subscriber
	// Dedupe shares one transport call between identical in-flight queries.
	Dedupe bool
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		BatchWindow:   2 * time.Millisecond,
		Retry:         Retries(1),
		MutationRetry: NoRetry,
		Dedupe:        true,
	}
}

func WithBatchWindow(d time.Duration) Option       { return func(o *Options) { o.BatchWindow = d } }
func WithScheduler(s Scheduler) Option             { return func(o *Options) { o.Scheduler = s } }
func WithRetry(p RetryPolicy) Option               { return func(o *Options) { o.Retry = p } }
func WithMutationRetry(p RetryPolicy) Option       { return func(o *Options) { o.MutationRetry = p } }
func WithSchema(s *schema.Schema) Option           { return func(o *Options) { o.Schema = s } }
func WithProduction(on bool) Option                { return func(o *Options) { o.Production = on } }
func WithSubscriber(s transport.Subscriber) Option { return func(o *Options) { o.Subscriber = s } }
func WithDedupe(on bool) Option                    { return func(o *Options) { o.Dedupe = on } }
