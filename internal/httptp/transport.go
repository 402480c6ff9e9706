// Package httptp posts GraphQL operations as JSON over HTTP.
package httptp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kleberbaum/gqty/internal/eventbus"
	"github.com/kleberbaum/gqty/internal/events"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/reqid"
	"github.com/kleberbaum/gqty/internal/transport"
)

// FetchIDHeader carries the fetch id of the request.
const FetchIDHeader = "X-Gqty-Fetch-Id"

// Transport executes operations against one GraphQL endpoint.
type Transport struct {
	url    string
	opts   *Options
	client *http.Client
	closed atomic.Bool
}

func New(url string, opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	client := o.Client
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &Transport{url: url, opts: o, client: client}
}

var _ transport.Transport = (*Transport)(nil)

// Execute posts payload. Responses carrying a GraphQL body are returned even
// for non-2xx statuses; anything else fails with a NetworkError holding the
// status.
func (t *Transport) Execute(ctx context.Context, payload transport.QueryPayload, fo transport.FetchOptions) (resp *transport.Response, err error) {
	if t.closed.Load() {
		return nil, gqlerr.NewNetworkError(ErrClosed)
	}

	timeout := t.opts.Timeout
	if fo.Timeout > 0 {
		timeout = fo.Timeout
	}
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("httptp: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, gqlerr.NewNetworkError(err)
	}
	t.header(ctx, req, fo)

	status := 0
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPClientStart{Request: req})
	defer func() {
		eventbus.Publish(ctx, events.HTTPClientFinish{
			Request:  req,
			Status:   status,
			Err:      err,
			Duration: time.Since(start),
		})
	}()

	res, err := t.client.Do(req)
	if err != nil {
		return nil, gqlerr.NewNetworkError(err)
	}
	defer res.Body.Close()
	status = res.StatusCode

	raw, err := t.read(res.Body)
	if err != nil {
		return nil, &gqlerr.NetworkError{Cause: err, Status: status}
	}
	resp, derr := decode(raw)
	ok := status >= 200 && status < 300
	switch {
	case derr == nil && (ok || len(resp.Errors) > 0 || resp.Data != nil):
		return resp, nil
	case ok:
		return nil, &gqlerr.NetworkError{Cause: fmt.Errorf("httptp: decode response: %w", derr), Status: status}
	default:
		return nil, &gqlerr.NetworkError{Cause: fmt.Errorf("httptp: unexpected status %d: %s", status, snippet(raw)), Status: status}
	}
}

func (t *Transport) header(ctx context.Context, req *http.Request, fo transport.FetchOptions) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/graphql-response+json, application/json")
	for k, v := range t.opts.Header {
		req.Header[k] = append([]string(nil), v...)
	}
	for k, v := range fo.Header {
		req.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	if id, ok := reqid.FromContext(ctx); ok {
		req.Header.Set(FetchIDHeader, id)
	}
}

func (t *Transport) read(r io.Reader) ([]byte, error) {
	if t.opts.MaxResponseBytes <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, t.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > t.opts.MaxResponseBytes {
		return nil, ErrResponseTooLarge
	}
	return b, nil
}

// Close releases idle connections. Later calls fail with ErrClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.client.CloseIdleConnections()
	return nil
}

func decode(raw []byte) (*transport.Response, error) {
	var resp transport.Response
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 128 {
		s = s[:128] + "..."
	}
	return s
}
