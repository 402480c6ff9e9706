// Package transport defines the boundary between the resolver and whatever
// carries a GraphQL operation to a server.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/kleberbaum/gqty/internal/gqlerr"
)

// QueryPayload is one compiled operation.
type QueryPayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Response is the decoded body of a GraphQL response. Data is nil when the
// server returned no data or null data.
type Response struct {
	Data       map[string]any        `json:"data,omitempty"`
	Errors     []gqlerr.GraphQLError `json:"errors,omitempty"`
	Extensions map[string]any        `json:"extensions,omitempty"`
}

// FetchOptions are per-call transport settings passed through the resolver
// untouched.
type FetchOptions struct {
	// Header is merged into the request headers of HTTP-based transports.
	Header http.Header
	// Timeout bounds one attempt when the context carries no deadline.
	Timeout time.Duration
	// Values holds transport-specific settings.
	Values map[string]any
}

// Key is a canonical string form of o, used to keep calls with different
// options out of the same batch.
func (o FetchOptions) Key() string {
	if len(o.Header) == 0 && o.Timeout == 0 && len(o.Values) == 0 {
		return ""
	}
	names := make([]string, 0, len(o.Header))
	for k := range o.Header {
		names = append(names, k)
	}
	sort.Strings(names)
	hdr := make([][]string, 0, len(names))
	for _, k := range names {
		hdr = append(hdr, append([]string{k}, o.Header[k]...))
	}
	b, err := json.Marshal(struct {
		H [][]string     `json:"h,omitempty"`
		T time.Duration  `json:"t,omitempty"`
		V map[string]any `json:"v,omitempty"`
	}{hdr, o.Timeout, o.Values})
	if err != nil {
		return "unkeyed"
	}
	return string(b)
}

// Transport executes queries and mutations. Returned errors are treated as
// network failures; GraphQL errors belong in Response.Errors.
type Transport interface {
	Execute(ctx context.Context, payload QueryPayload, opts FetchOptions) (*Response, error)
}

// Subscriber opens subscriptions. Cancelling ctx or calling Close on the
// returned stream unsubscribes.
type Subscriber interface {
	Subscribe(ctx context.Context, payload QueryPayload, opts FetchOptions) (Stream, error)
}

// Stream delivers subscription events. Recv returns io.EOF once the server
// completed the subscription.
type Stream interface {
	Recv() (*Response, error)
	Close() error
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, payload QueryPayload, opts FetchOptions) (*Response, error)

func (f Func) Execute(ctx context.Context, payload QueryPayload, opts FetchOptions) (*Response, error) {
	return f(ctx, payload, opts)
}

// SubscribeFunc adapts a function to Subscriber.
type SubscribeFunc func(ctx context.Context, payload QueryPayload, opts FetchOptions) (Stream, error)

func (f SubscribeFunc) Subscribe(ctx context.Context, payload QueryPayload, opts FetchOptions) (Stream, error) {
	return f(ctx, payload, opts)
}
