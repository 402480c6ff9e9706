// Package cache stores GraphQL response data as one normalized tree addressed
// by selection cache paths, with a write timestamp per leaf path.
//
// The tree is rooted at "query", "mutation" and "subscription". Lists are
// stored positionally and traversed element-wise: reading query.users.name
// yields the name of every cached user. A null object short-circuits reads of
// its descendants, which then report a cached null rather than a miss.
//
// All methods are safe for concurrent use. Writes are serialized behind one
// lock and reads never observe a partial write; values handed in and out are
// copied.
package cache

import (
	"sync"
	"time"
)

type Cache struct {
	opts Options

	mu       sync.RWMutex
	data     map[string]any
	meta     *metaNode
	entities map[string]map[string]any
}

// Entry describes the cached value at one path.
type Entry struct {
	Value     any
	Found     bool
	State     State
	UpdatedAt time.Time
}

func New(opts ...Option) *Cache {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newWithOptions(o)
}

func newWithOptions(o Options) *Cache {
	return &Cache{
		opts:     o,
		data:     make(map[string]any),
		meta:     &metaNode{},
		entities: make(map[string]map[string]any),
	}
}

// Derive returns an empty cache configured like c.
func (c *Cache) Derive() *Cache { return newWithOptions(c.opts) }

// Options returns the configuration c was built with.
func (c *Cache) Options() Options { return c.opts }

// Now reads the cache clock.
func (c *Cache) Now() time.Time { return c.opts.Now() }

// Get returns a copy of the value at path. The boolean distinguishes a miss
// from a cached null.
func (c *Cache) Get(path []string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.read(path)
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// Lookup is Get plus the freshness of the value.
func (c *Cache) Lookup(path []string) Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.read(path)
	if !ok {
		return Entry{State: Miss}
	}
	e := Entry{Value: clone(v), Found: true, State: Expired}
	if m, ok := c.meta.find(path); ok {
		e.State = m.state(c.opts.Now(), c.opts)
		e.UpdatedAt = m.updatedAt
	}
	return e
}

func (c *Cache) read(path []string) (any, bool) {
	if len(path) == 0 {
		return c.data, true
	}
	root, ok := c.data[path[0]]
	if !ok {
		return nil, false
	}
	return c.walk(root, path[1:])
}

func (c *Cache) walk(node any, path []string) (any, bool) {
	if len(path) == 0 {
		return c.resolve(node), true
	}
	switch t := node.(type) {
	case nil:
		return nil, true
	case map[string]any:
		child, ok := c.field(t, path[0])
		if !ok {
			return nil, false
		}
		return c.walk(child, path[1:])
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			v, ok := c.walk(e, path)
			if !ok {
				return nil, false
			}
			out[i] = v
		}
		return out, true
	}
	return nil, false
}

// Set replaces the value at path. Missing intermediate objects are created.
// A list on the way is written element-wise, matching how Get reads through
// lists; null elements stay null.
func (c *Cache) Set(path []string, value any, at time.Time, opts ...EntryOption) {
	if len(path) == 0 {
		return
	}
	m := newMeta(at, opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta.drop(path)
	c.assign(c.data, path, path, value, m)
}

// assign writes value at rest below obj; full is the whole path for the
// entry metadata.
func (c *Cache) assign(obj map[string]any, rest, full []string, value any, m meta) {
	seg := rest[0]
	if len(rest) == 1 {
		obj[seg] = c.merge(nil, clone(value), full, m)
		c.index(obj)
		return
	}
	switch next := obj[seg].(type) {
	case map[string]any:
		c.assign(next, rest[1:], full, value, m)
	case []any:
		c.assignEach(next, rest[1:], full, value, m)
	default:
		n := make(map[string]any)
		obj[seg] = n
		c.meta.unmark(full[:len(full)-len(rest)+1])
		c.assign(n, rest[1:], full, value, m)
	}
	c.index(obj)
}

func (c *Cache) assignEach(list []any, rest, full []string, value any, m meta) {
	for _, e := range list {
		switch t := e.(type) {
		case map[string]any:
			c.assign(t, rest, full, value, m)
		case []any:
			c.assignEach(t, rest, full, value, m)
		}
	}
}

// Merge deep-merges a response tree rooted at operation kinds ({"query":
// {...}}) into the cache. Paths absent from tree are left untouched.
func (c *Cache) Merge(tree map[string]any, at time.Time, opts ...EntryOption) {
	if len(tree) == 0 {
		return
	}
	m := newMeta(at, opts)
	tree = clone(tree).(map[string]any)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range tree {
		c.data[k] = c.merge(c.data[k], v, []string{k}, m)
	}
}

// Hydrate seeds the cache from a ToJSON export, stamping every entry with at.
func (c *Cache) Hydrate(tree map[string]any, at time.Time) {
	c.Merge(tree, at)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]any)
	c.meta = &metaNode{}
	c.entities = make(map[string]map[string]any)
}

// ToJSON exports a copy of the whole tree.
func (c *Cache) ToJSON() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clone(c.data).(map[string]any)
}

// merge folds src into dst at path and records entry timestamps. Both values
// are owned by the cache.
func (c *Cache) merge(dst, src any, path []string, m meta) any {
	switch s := src.(type) {
	case map[string]any:
		d, ok := dst.(map[string]any)
		if !ok {
			d = make(map[string]any, len(s))
		}
		if len(s) == 0 {
			if len(d) == 0 {
				c.meta.record(path, m)
			}
			return d
		}
		c.meta.unmark(path)
		for k, v := range s {
			d[k] = c.merge(d[k], v, append(path[:len(path):len(path)], k), m)
		}
		c.index(d)
		return d
	case []any:
		if len(s) == 0 {
			c.meta.record(path, m)
			return s
		}
		c.meta.unmark(path)
		d, _ := dst.([]any)
		out := make([]any, len(s))
		for i, v := range s {
			var prev any
			if i < len(d) {
				prev = d[i]
			}
			out[i] = c.merge(prev, v, path, m)
		}
		return out
	}
	c.meta.record(path, m)
	return src
}

// Paths lists every path that carries a timestamp, for inspection.
func (c *Cache) Paths() map[string]time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time)
	c.meta.each(nil, func(path []string, m meta) {
		out[joinPath(path)] = m.updatedAt
	})
	return out
}

func joinPath(path []string) string {
	n := 0
	for _, p := range path {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range path {
		if i > 0 {
			b = append(b, '.')
		}
		b = append(b, p...)
	}
	return string(b)
}

// clone deep-copies JSON-shaped values.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = clone(e)
		}
		return out
	}
	return v
}
