// Package reqid carries the id of one fetch through context so that start and
// finish events can be correlated.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

// key is the context key for the fetch ID.
type key struct{}

// NewContext returns a copy of parent with a new random fetch ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the fetch ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
