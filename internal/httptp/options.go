package httptp

import (
	"net/http"
	"time"
)

// Options configures the HTTP transport behavior.
//
// Defaults:
// - Client:           a dedicated *http.Client
// - Timeout:          10s (used only if the context has no deadline)
// - MaxResponseBytes: 16 MiB
//
// All options are safe to leave zero-valued to use defaults.
type Options struct {
	Client *http.Client

	Timeout          time.Duration
	MaxResponseBytes int64

	// Header is sent with every request. Per-call FetchOptions.Header values
	// replace entries of the same name.
	Header http.Header
}

// Option mutates Options
//
// Use WithX helpers below.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Timeout:          10 * time.Second,
		MaxResponseBytes: 16 << 20,
	}
}

func WithClient(c *http.Client) Option    { return func(o *Options) { o.Client = c } }
func WithTimeout(d time.Duration) Option  { return func(o *Options) { o.Timeout = d } }
func WithMaxResponseBytes(n int64) Option { return func(o *Options) { o.MaxResponseBytes = n } }
func WithHeader(key, value string) Option {
	return func(o *Options) {
		if o.Header == nil {
			o.Header = http.Header{}
		}
		o.Header.Add(key, value)
	}
}
