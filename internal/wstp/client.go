// Package wstp speaks the graphql-transport-ws protocol over one shared
// websocket connection. The connection is dialed on the first subscription and
// redialed after it broke.
package wstp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/transport"
)

// Subprotocol is the websocket subprotocol negotiated with the server.
const Subprotocol = "graphql-transport-ws"

const writeTimeout = 10 * time.Second

var (
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("wstp: closed")

	// ErrOverflow ends a subscription whose reader fell a full buffer behind.
	// The connection keeps serving the other operations.
	ErrOverflow = errors.New("wstp: subscription buffer overflow")
)

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is a transport.Subscriber. It also executes queries and mutations
// as single-result subscriptions.
type Client struct {
	url  string
	opts *Options

	mu     sync.Mutex
	conn   *conn
	closed bool
}

func New(url string, opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	base := websocket.DefaultDialer
	if o.Dialer != nil {
		base = o.Dialer
	}
	d := *base
	if len(d.Subprotocols) == 0 {
		d.Subprotocols = []string{Subprotocol}
	}
	o.Dialer = &d
	if o.Buffer < 1 {
		o.Buffer = 1
	}
	return &Client{url: url, opts: o}
}

var (
	_ transport.Subscriber = (*Client)(nil)
	_ transport.Transport  = (*Client)(nil)
)

// Subscribe starts an operation. Closing the returned stream sends complete.
func (c *Client) Subscribe(ctx context.Context, payload transport.QueryPayload, _ transport.FetchOptions) (transport.Stream, error) {
	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	return cn.subscribe(ctx, payload, c.opts.Buffer)
}

// Execute runs payload and returns its single result.
func (c *Client) Execute(ctx context.Context, payload transport.QueryPayload, fo transport.FetchOptions) (*transport.Response, error) {
	stream, err := c.Subscribe(ctx, payload, fo)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	type result struct {
		resp *transport.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := stream.Recv()
		ch <- result{resp, err}
	}()
	select {
	case r := <-ch:
		if errors.Is(r.err, io.EOF) {
			return nil, gqlerr.NewNetworkError(errors.New("wstp: operation completed without a result"))
		}
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the connection and ends every open stream.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if cn != nil {
		cn.shutdown(ErrClosed)
	}
	return nil
}

func (c *Client) connect(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, gqlerr.NewNetworkError(ErrClosed)
	}
	if c.conn != nil && !c.conn.dead() {
		return c.conn, nil
	}
	cn, err := dial(ctx, c.url, c.opts)
	if err != nil {
		return nil, gqlerr.NewNetworkError(err)
	}
	c.conn = cn
	return cn, nil
}

type conn struct {
	wc   *websocket.Conn
	send chan message
	done chan struct{}

	mu   sync.Mutex
	subs map[string]*transport.ChanStream
	err  error
	once sync.Once
}

func dial(ctx context.Context, url string, opts *Options) (*conn, error) {
	wc, _, err := opts.Dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("wstp: dial: %w", err)
	}
	if err := handshake(wc, opts); err != nil {
		wc.Close()
		return nil, err
	}
	cn := &conn{
		wc:   wc,
		send: make(chan message, 32),
		done: make(chan struct{}),
		subs: make(map[string]*transport.ChanStream),
	}
	go cn.write(opts.PingInterval)
	go cn.read()
	return cn, nil
}

func handshake(wc *websocket.Conn, opts *Options) error {
	init := message{Type: "connection_init"}
	if opts.InitPayload != nil {
		b, err := json.Marshal(opts.InitPayload)
		if err != nil {
			return fmt.Errorf("wstp: encode init payload: %w", err)
		}
		init.Payload = b
	}
	wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wc.WriteJSON(init); err != nil {
		return fmt.Errorf("wstp: connection_init: %w", err)
	}
	if opts.AckTimeout > 0 {
		wc.SetReadDeadline(time.Now().Add(opts.AckTimeout))
	}
	for {
		var m message
		if err := wc.ReadJSON(&m); err != nil {
			return fmt.Errorf("wstp: waiting for connection_ack: %w", err)
		}
		switch m.Type {
		case "connection_ack":
			wc.SetReadDeadline(time.Time{})
			return nil
		case "ping":
			wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteJSON(message{Type: "pong"}); err != nil {
				return err
			}
		}
	}
}

func (cn *conn) dead() bool {
	select {
	case <-cn.done:
		return true
	default:
		return false
	}
}

func (cn *conn) subscribe(ctx context.Context, payload transport.QueryPayload, buffer int) (transport.Stream, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wstp: encode payload: %w", err)
	}
	id := uuid.NewString()
	stream := transport.NewChanStream(buffer, func() { cn.unsubscribe(id) })

	cn.mu.Lock()
	if cn.err != nil {
		err := cn.err
		cn.mu.Unlock()
		return nil, gqlerr.NewNetworkError(err)
	}
	cn.subs[id] = stream
	cn.mu.Unlock()

	if !cn.post(message{ID: id, Type: "subscribe", Payload: b}) {
		stream.Close()
		return nil, gqlerr.NewNetworkError(cn.failure())
	}
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				stream.Finish(ctx.Err())
			case <-stream.Done():
			}
		}()
	}
	return stream, nil
}

// unsubscribe runs when a stream closes. A stream the server already ended is
// not completed again.
func (cn *conn) unsubscribe(id string) {
	cn.mu.Lock()
	_, open := cn.subs[id]
	delete(cn.subs, id)
	cn.mu.Unlock()
	if open {
		cn.post(message{ID: id, Type: "complete"})
	}
}

// take removes id and returns its stream.
func (cn *conn) take(id string) *transport.ChanStream {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	s := cn.subs[id]
	delete(cn.subs, id)
	return s
}

func (cn *conn) stream(id string) *transport.ChanStream {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.subs[id]
}

func (cn *conn) post(m message) bool {
	select {
	case cn.send <- m:
		return true
	case <-cn.done:
		return false
	}
}

func (cn *conn) failure() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.err == nil {
		return ErrClosed
	}
	return cn.err
}

func (cn *conn) read() {
	for {
		var m message
		if err := cn.wc.ReadJSON(&m); err != nil {
			cn.shutdown(fmt.Errorf("wstp: read: %w", err))
			return
		}
		switch m.Type {
		case "next":
			var resp transport.Response
			if err := json.Unmarshal(m.Payload, &resp); err != nil {
				if s := cn.take(m.ID); s != nil {
					s.Finish(gqlerr.NewNetworkError(fmt.Errorf("wstp: decode next: %w", err)))
				}
				continue
			}
			if s := cn.stream(m.ID); s != nil {
				cn.deliver(s, &resp)
			}
		case "error":
			var errs []gqlerr.GraphQLError
			if err := json.Unmarshal(m.Payload, &errs); err != nil {
				errs = []gqlerr.GraphQLError{{Message: string(m.Payload)}}
			}
			if s := cn.take(m.ID); s != nil && cn.deliver(s, &transport.Response{Errors: errs}) {
				s.Finish(nil)
			}
		case "complete":
			if s := cn.take(m.ID); s != nil {
				s.Finish(nil)
			}
		case "ping":
			cn.post(message{Type: "pong"})
		}
	}
}

// deliver hands resp to s without blocking the read loop. A stream with a
// full buffer is finished with ErrOverflow, which also completes it on the
// server.
func (cn *conn) deliver(s *transport.ChanStream, resp *transport.Response) bool {
	if s.Offer(resp) {
		return true
	}
	select {
	case <-s.Done():
	default:
		s.Finish(gqlerr.NewNetworkError(ErrOverflow))
	}
	return false
}

func (cn *conn) write(pingInterval time.Duration) {
	defer cn.wc.Close()
	var tick <-chan time.Time
	if pingInterval > 0 {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case m := <-cn.send:
			cn.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cn.wc.WriteJSON(m); err != nil {
				cn.shutdown(fmt.Errorf("wstp: write: %w", err))
				return
			}
		case <-tick:
			cn.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cn.wc.WriteJSON(message{Type: "ping"}); err != nil {
				cn.shutdown(fmt.Errorf("wstp: ping: %w", err))
				return
			}
		case <-cn.done:
			cn.wc.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// shutdown closes the connection and fails every open stream with err.
func (cn *conn) shutdown(err error) {
	cn.once.Do(func() {
		cn.mu.Lock()
		cn.err = err
		subs := cn.subs
		cn.subs = make(map[string]*transport.ChanStream)
		cn.mu.Unlock()
		close(cn.done)
		for _, s := range subs {
			if errors.Is(err, ErrClosed) {
				s.Finish(nil)
			} else {
				s.Finish(gqlerr.NewNetworkError(err))
			}
		}
	})
}
