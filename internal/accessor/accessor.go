package accessor

import (
	"encoding/json"
	"math"

	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/selection"
)

// Accessor reads one selection out of a snapshot of cached data. The zero
// value of every read means the data was missing, null or of another type.
type Accessor struct {
	w     *Window
	sel   *selection.Selection
	val   any
	found bool
}

// Root returns the accessor for the kind root, reading from c. A nil cache
// yields an accessor whose every field is missing.
func Root(w *Window, kind selection.Kind, c *cache.Cache) *Accessor {
	a := &Accessor{w: w, sel: w.table.Root(kind)}
	if c != nil {
		a.val, a.found = c.Get([]string{kind.String()})
	}
	return a
}

// Selection returns the selection a stands for. It is nil after an argument
// error.
func (a *Accessor) Selection() *selection.Selection { return a.sel }

// Field selects the child key with args and returns its accessor.
func (a *Accessor) Field(key string, args ...selection.Argument) *Accessor {
	if a.sel == nil {
		return a
	}
	child, err := a.sel.Child(key, args...)
	if err != nil {
		a.w.fail(err)
		return &Accessor{w: a.w}
	}
	a.w.touch(child)
	if !a.found {
		return &Accessor{w: a.w, sel: child}
	}
	v, ok := project(a.val, child.Alias())
	return &Accessor{w: a.w, sel: child, val: v, found: ok}
}

// On narrows a to the inline fragment for typeName. Objects whose __typename
// names another type read as null.
func (a *Accessor) On(typeName string) *Accessor {
	if a.sel == nil {
		return a
	}
	frag := a.sel.On(typeName)
	a.w.touch(frag)
	if !a.found {
		return &Accessor{w: a.w, sel: frag}
	}
	return &Accessor{w: a.w, sel: frag, val: narrow(a.val, typeName), found: true}
}

// Found reports whether the cache held a value, null included.
func (a *Accessor) Found() bool { return a.found }

// IsNull reports a cached null. The children remembered for a null object are
// kept in the window so the next fetch selects them again.
func (a *Accessor) IsNull() bool {
	null := a.found && a.val == nil
	if null && a.sel != nil {
		a.w.recall(a.sel)
	}
	return null
}

// List returns one accessor per cached element. A missing list yields a single
// placeholder element so that a projection still walks the element fields; an
// empty or null list yields none and recalls the element fields of the last
// resolution.
func (a *Accessor) List() []*Accessor {
	if a.sel == nil {
		return nil
	}
	if !a.found {
		return []*Accessor{{w: a.w, sel: a.sel}}
	}
	items, _ := a.val.([]any)
	if len(items) == 0 {
		a.w.recall(a.sel)
		return nil
	}
	out := make([]*Accessor, len(items))
	for i, v := range items {
		out[i] = &Accessor{w: a.w, sel: a.sel, val: v, found: true}
	}
	return out
}

// Len is the length of a cached list, 0 otherwise.
func (a *Accessor) Len() int {
	items, _ := a.val.([]any)
	return len(items)
}

// Value returns the raw cached value.
func (a *Accessor) Value() any { return a.val }

func (a *Accessor) String() string {
	s, _ := a.val.(string)
	return s
}

func (a *Accessor) Bool() bool {
	b, _ := a.val.(bool)
	return b
}

func (a *Accessor) Float() float64 {
	switch v := a.val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// Int truncates numeric values. Values beyond the int range read as 0.
func (a *Accessor) Int() int {
	switch v := a.val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return int(n)
		}
	}
	f := a.Float()
	if math.IsNaN(f) || f > math.MaxInt || f < math.MinInt {
		return 0
	}
	return int(f)
}

// project reads key below v. Lists are read element-wise and null short
// circuits to null.
func project(v any, key string) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case map[string]any:
		c, ok := t[key]
		return c, ok
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			c, ok := project(e, key)
			if !ok {
				return nil, false
			}
			out[i] = c
		}
		return out, true
	}
	return nil, false
}

func narrow(v any, typeName string) any {
	switch t := v.(type) {
	case map[string]any:
		if tn, ok := t["__typename"].(string); ok && tn != typeName {
			return nil
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = narrow(e, typeName)
		}
		return out
	}
	return v
}
