package cache

import (
	"math"
	"time"
)

// Forever is a MaxAge or StaleWhileRevalidate that never elapses.
const Forever time.Duration = math.MaxInt64

// Options configure a Cache.
type Options struct {
	// MaxAge is how long an entry stays fresh. Zero means entries are stale
	// as soon as they are written.
	MaxAge time.Duration
	// StaleWhileRevalidate is how long a stale entry stays usable after
	// MaxAge elapsed.
	StaleWhileRevalidate time.Duration
	// Identify enables identity normalization when set.
	Identify KeyFunc
	// Now is the clock used for reads. Writes carry their own timestamp.
	Now func() time.Time
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		MaxAge:               0,
		StaleWhileRevalidate: 5 * time.Minute,
		Now:                  time.Now,
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(o *Options) { o.MaxAge = d }
}

func WithStaleWhileRevalidate(d time.Duration) Option {
	return func(o *Options) { o.StaleWhileRevalidate = d }
}

// WithNormalization indexes objects by the key fn derives. Pass nil to use
// DefaultKey.
func WithNormalization(fn KeyFunc) Option {
	return func(o *Options) {
		if fn == nil {
			fn = DefaultKey
		}
		o.Identify = fn
	}
}

// WithClock replaces time.Now for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// EntryOption overrides the cache-wide freshness settings for the entries one
// write records.
type EntryOption func(*meta)

func EntryMaxAge(d time.Duration) EntryOption {
	return func(m *meta) {
		m.maxAge = d
		m.hasMaxAge = true
	}
}

func EntryStaleWhileRevalidate(d time.Duration) EntryOption {
	return func(m *meta) {
		m.swr = d
		m.hasSWR = true
	}
}
