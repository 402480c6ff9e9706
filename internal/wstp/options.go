package wstp

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Options configures the websocket transport.
//
// Defaults:
// - Dialer:     websocket.DefaultDialer settings with the graphql-transport-ws subprotocol
// - AckTimeout: 10s
// - Buffer:     16 events per subscription
type Options struct {
	Dialer *websocket.Dialer
	Header http.Header
	// InitPayload is sent with connection_init.
	InitPayload map[string]any

	AckTimeout time.Duration
	// PingInterval enables protocol pings. 0 disables them.
	PingInterval time.Duration
	// Buffer is the number of undelivered events a subscription may hold,
	// at least 1. A subscription that falls further behind ends with
	// ErrOverflow.
	Buffer int
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{AckTimeout: 10 * time.Second, Buffer: 16}
}

func WithDialer(d *websocket.Dialer) Option   { return func(o *Options) { o.Dialer = d } }
func WithInitPayload(p map[string]any) Option { return func(o *Options) { o.InitPayload = p } }
func WithAckTimeout(d time.Duration) Option   { return func(o *Options) { o.AckTimeout = d } }
func WithPingInterval(d time.Duration) Option { return func(o *Options) { o.PingInterval = d } }
func WithBuffer(n int) Option                 { return func(o *Options) { o.Buffer = n } }
func WithHeader(key, value string) Option {
	return func(o *Options) {
		if o.Header == nil {
			o.Header = http.Header{}
		}
		o.Header.Add(key, value)
	}
}
