// Package gqlerr defines the failures a resolution can surface to its caller.
//
// Transport failures are wrapped in NetworkError and are the only kind the
// resolver retries. Entries of a response's "errors" array are GraphQLError
// values, aggregated into a single GQtyError. CacheMissError is returned by the
// only-if-cached policy and ArgumentError when a selection argument cannot be
// serialized. CompileError reports documents that cannot be built.
package gqlerr

import (
	"errors"
	"fmt"
	"strings"
)

// Location is a line/column pair inside the compiled document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is one entry of a response's "errors" array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

const (
	verboseAggregateMessage = "GraphQL Errors, please check .graphQLErrors property"
	shortAggregateMessage   = "GraphQL Errors"
)

// GQtyError aggregates every GraphQL error of one response.
type GQtyError struct {
	GraphQLErrors []GraphQLError `json:"errors"`
	// Production selects the short aggregate message.
	Production bool `json:"-"`
}

// FromGraphQLErrors builds the aggregate returned to callers. It returns nil
// when errs is empty.
func FromGraphQLErrors(errs []GraphQLError, production bool) *GQtyError {
	if len(errs) == 0 {
		return nil
	}
	cp := make([]GraphQLError, len(errs))
	copy(cp, errs)
	return &GQtyError{GraphQLErrors: cp, Production: production}
}

func (e *GQtyError) Error() string {
	if len(e.GraphQLErrors) == 1 {
		return e.GraphQLErrors[0].Message
	}
	if e.Production {
		return shortAggregateMessage
	}
	return verboseAggregateMessage
}

// Unwrap exposes the individual errors to errors.Is/As.
func (e *GQtyError) Unwrap() []error {
	out := make([]error, len(e.GraphQLErrors))
	for i := range e.GraphQLErrors {
		out[i] = e.GraphQLErrors[i]
	}
	return out
}

// Details renders every error on its own line with its path.
func (e *GQtyError) Details() string {
	var b strings.Builder
	for i, ge := range e.GraphQLErrors {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(ge.Message)
		if len(ge.Path) > 0 {
			fmt.Fprintf(&b, " (path: %v)", ge.Path)
		}
	}
	return b.String()
}

// NetworkError reports a transport failure. Cause is never nil.
type NetworkError struct {
	Cause error
	// Status is the transport status code when one is known (HTTP status).
	Status int
}

// NewNetworkError wraps cause unless it already is a NetworkError.
func NewNetworkError(cause error) *NetworkError {
	var ne *NetworkError
	if errors.As(cause, &ne) {
		return ne
	}
	if cause == nil {
		cause = errors.New("unknown network failure")
	}
	return &NetworkError{Cause: cause}
}

func (e *NetworkError) Error() string { return e.Cause.Error() }
func (e *NetworkError) Unwrap() error { return e.Cause }

// PanicError carries a value recovered from a transport that panicked instead
// of returning an error.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("transport panic: %v", e.Value)
}

// CacheMissError is returned by the only-if-cached policy.
type CacheMissError struct {
	// Paths lists the cache paths that were missing or expired.
	Paths []string
}

func (e *CacheMissError) Error() string {
	if len(e.Paths) == 0 {
		return "cache miss"
	}
	return "cache miss: " + strings.Join(e.Paths, ", ")
}

// ArgumentError reports a selection argument that cannot be serialized.
type ArgumentError struct {
	Field    string
	Argument string
	Cause    error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %q of field %q: %v", e.Argument, e.Field, e.Cause)
}

func (e *ArgumentError) Unwrap() error { return e.Cause }

// CompileError reports a selection set that cannot become a document.
type CompileError struct {
	Message string
}

func (e *CompileError) Error() string { return "compile: " + e.Message }

// IsRetryable reports whether err may succeed when the fetch is repeated.
// Only transport failures qualify.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
