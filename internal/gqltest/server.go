// Package gqltest is an in-memory GraphQL server for tests. Fields resolve
// through a resolver map keyed "Type.field"; fields without a resolver read
// the same key from a map source. Every resolver call and every executed
// request is logged.
//
// The server is reachable in-process (Transport), over HTTP (Handler) and
// over the graphql-transport-ws websocket protocol (WebsocketHandler).
package gqltest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/language"
	"github.com/kleberbaum/gqty/internal/reqid"
	"github.com/kleberbaum/gqty/internal/transport"
	"google.golang.org/grpc/metadata"
)

// Resolver resolves one field.
type Resolver func(ctx context.Context, source any, args map[string]any) (any, error)

// Value returns a Resolver that always returns v.
func Value(v any) Resolver {
	return func(context.Context, any, map[string]any) (any, error) { return v, nil }
}

// Error returns a Resolver that always fails with err.
func Error(err error) Resolver {
	return func(context.Context, any, map[string]any) (any, error) { return nil, err }
}

// Call records one resolver invocation.
type Call struct {
	ObjectType string
	Field      string
	Args       map[string]any
}

type Server struct {
	schema *language.Schema

	mu        sync.Mutex
	resolvers map[string]Resolver
	calls     []Call
	requests  []transport.QueryPayload

	fetches atomic.Int32
}

// New builds a server for sdl. Resolver keys have the form "Type.field".
// Subscription resolvers return a receive-only channel of event values.
func New(sdl string, resolvers map[string]Resolver) (*Server, error) {
	s, err := language.LoadSchema("schema.graphql", sdl)
	if err != nil {
		return nil, fmt.Errorf("gqltest: %w", err)
	}
	srv := &Server{schema: s, resolvers: make(map[string]Resolver, len(resolvers))}
	for k, r := range resolvers {
		srv.resolvers[k] = r
	}
	return srv, nil
}

// Must is New for schemas known to be valid.
func Must(sdl string, resolvers map[string]Resolver) *Server {
	s, err := New(sdl, resolvers)
	if err != nil {
		panic(err)
	}
	return s
}

// SetResolver registers or replaces the resolver of objectType.field.
func (s *Server) SetResolver(objectType, field string, r Resolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolvers[objectType+"."+field] = r
}

func (s *Server) resolver(objectType, field string, args map[string]any) Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.resolvers[objectType+"."+field]
	if r != nil {
		s.calls = append(s.calls, Call{ObjectType: objectType, Field: field, Args: args})
	}
	return r
}

// Calls returns the resolver invocations so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Requests returns every payload executed so far.
func (s *Server) Requests() []transport.QueryPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.QueryPayload, len(s.requests))
	copy(out, s.requests)
	return out
}

// Fetches is the number of executed requests.
func (s *Server) Fetches() int { return int(s.fetches.Load()) }

// Reset clears the call log, the request log and the fetch counter.
func (s *Server) Reset() {
	s.mu.Lock()
	s.calls = nil
	s.requests = nil
	s.mu.Unlock()
	s.fetches.Store(0)
}

func (s *Server) record(payload transport.QueryPayload) {
	s.fetches.Add(1)
	s.mu.Lock()
	s.requests = append(s.requests, payload)
	s.mu.Unlock()
}

// Execute runs a query or mutation.
func (s *Server) Execute(ctx context.Context, payload transport.QueryPayload) *transport.Response {
	s.record(payload)
	e, resp := s.prepare(ctx, payload)
	if resp != nil {
		return resp
	}
	return e.run()
}

// Transport executes payloads in-process. Responses go through a JSON round
// trip so that values look like decoded wire data. Extensions and the fetch
// id reach resolvers as incoming metadata.
func (s *Server) Transport() *Transport { return &Transport{srv: s} }

type Transport struct {
	srv *Server
}

func (t *Transport) Execute(ctx context.Context, payload transport.QueryPayload, _ transport.FetchOptions) (*transport.Response, error) {
	resp := t.srv.Execute(incoming(ctx, payload), payload)
	return roundTrip(resp)
}

func (t *Transport) Subscribe(ctx context.Context, payload transport.QueryPayload, _ transport.FetchOptions) (transport.Stream, error) {
	return t.srv.subscribe(incoming(ctx, payload), payload, 0)
}

// Metadata returns the metadata a resolver was called with.
func Metadata(ctx context.Context) metadata.MD {
	md, _ := metadata.FromIncomingContext(ctx)
	return md
}

func incoming(ctx context.Context, payload transport.QueryPayload) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	if id, ok := reqid.FromContext(ctx); ok {
		md.Set("gqty-fetch-id", id)
	}
	for k, v := range payload.Extensions {
		if s, ok := v.(string); ok {
			md.Set("ext-"+k, s)
		}
	}
	return metadata.NewIncomingContext(ctx, md)
}

func roundTrip(resp *transport.Response) (*transport.Response, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var out transport.Response
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func errorResponse(msg string) *transport.Response {
	return &transport.Response{Errors: []gqlerr.GraphQLError{{Message: msg}}}
}
