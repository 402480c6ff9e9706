package cache

import (
	"fmt"
	"strconv"
)

// KeyFunc derives the identity of a cached object. Objects without an
// identity return false and are cached by path only.
type KeyFunc func(obj map[string]any) (string, bool)

// DefaultKey identifies objects by __typename plus id or _id.
func DefaultKey(obj map[string]any) (string, bool) {
	typ, ok := obj["__typename"].(string)
	if !ok || typ == "" {
		return "", false
	}
	for _, f := range []string{"id", "_id"} {
		if id, ok := scalarKey(obj[f]); ok {
			return typ + ":" + id, true
		}
	}
	return "", false
}

func scalarKey(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int, int64, int32:
		return fmt.Sprint(t), true
	case fmt.Stringer:
		return t.String(), true
	}
	return "", false
}

// index folds obj into its entity record. Callers hold the write lock.
func (c *Cache) index(obj map[string]any) {
	if c.opts.Identify == nil {
		return
	}
	key, ok := c.opts.Identify(obj)
	if !ok {
		return
	}
	ent := c.entities[key]
	if ent == nil {
		ent = make(map[string]any, len(obj))
		c.entities[key] = ent
	}
	for k, v := range obj {
		ent[k] = mergePlain(ent[k], v)
	}
}

// field reads key from obj, preferring the entity record of obj.
func (c *Cache) field(obj map[string]any, key string) (any, bool) {
	if c.opts.Identify != nil {
		if id, ok := c.opts.Identify(obj); ok {
			if ent, ok := c.entities[id]; ok {
				if v, ok := ent[key]; ok {
					return v, true
				}
			}
		}
	}
	v, ok := obj[key]
	return v, ok
}

// resolve applies entity records to a value about to be returned.
func (c *Cache) resolve(v any) any {
	if c.opts.Identify == nil || len(c.entities) == 0 {
		return v
	}
	return c.materialize(v, map[string]bool{})
}

func (c *Cache) materialize(v any, active map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		src := t
		var key string
		if id, ok := c.opts.Identify(t); ok && !active[id] {
			if ent, ok := c.entities[id]; ok {
				src = make(map[string]any, len(t)+len(ent))
				for k, e := range t {
					src[k] = e
				}
				for k, e := range ent {
					src[k] = e
				}
				key = id
				active[id] = true
			}
		}
		out := make(map[string]any, len(src))
		for k, e := range src {
			out[k] = c.materialize(e, active)
		}
		if key != "" {
			delete(active, key)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = c.materialize(e, active)
		}
		return out
	}
	return v
}

func mergePlain(dst, src any) any {
	s, ok := src.(map[string]any)
	if !ok {
		return clone(src)
	}
	d, ok := dst.(map[string]any)
	if !ok {
		d = make(map[string]any, len(s))
	}
	for k, v := range s {
		d[k] = mergePlain(d[k], v)
	}
	return d
}

// Entity returns a copy of the record indexed under key ("User:1").
func (c *Cache) Entity(key string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.entities[key]
	if !ok {
		return nil, false
	}
	return clone(ent).(map[string]any), true
}
