package selection

import "sync"

// Table is the per-client context that owns the selection roots and the
// "last known" children of every selection. A traversal that stops short of a
// node's children (an empty list, a null object) can recover the children
// recorded by the previous resolution and keep its aliases stable.
//
// A Table lives as long as its client and is only reset by Clear.
type Table struct {
	mu    sync.Mutex
	roots [3]*Selection
	known map[*Selection][]*Selection
}

func NewTable() *Table {
	t := &Table{}
	t.reset()
	return t
}

func (t *Table) reset() {
	for _, k := range Kinds {
		t.roots[k] = newRoot(k)
	}
	t.known = make(map[*Selection][]*Selection)
}

// Root returns the root selection for kind.
func (t *Table) Root(kind Kind) *Selection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roots[kind]
}

// Remember records the children each parent received in set, replacing what
// was recorded for that parent before. Only the latest resolution is kept.
func (t *Table) Remember(set *Set) {
	if set.Len() == 0 {
		return
	}
	byParent := make(map[*Selection][]*Selection)
	var parents []*Selection
	seen := make(map[*Selection]struct{})
	add := func(parent, child *Selection) {
		if _, ok := seen[child]; ok {
			return
		}
		seen[child] = struct{}{}
		if _, ok := byParent[parent]; !ok {
			parents = append(parents, parent)
		}
		byParent[parent] = append(byParent[parent], child)
	}
	for _, sel := range set.items {
		for cur := sel; cur.parent != nil; cur = cur.parent {
			add(cur.parent, cur)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range parents {
		t.known[p] = byParent[p]
	}
}

// Known returns the remembered subtree below sel, depth first, excluding sel.
func (t *Table) Known(sel *Selection) []*Selection {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Selection
	var walk func(*Selection)
	walk = func(s *Selection) {
		for _, c := range t.known[s] {
			out = append(out, c)
			walk(c)
		}
	}
	walk(sel)
	return out
}

// Release forgets sels and their remembered subtrees.
func (t *Table) Release(sels []*Selection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range sels {
		if s.parent == nil {
			continue
		}
		siblings := t.known[s.parent]
		for i, c := range siblings {
			if c == s {
				t.known[s.parent] = append(siblings[:i:i], siblings[i+1:]...)
				break
			}
		}
	}
	var drop func(*Selection)
	drop = func(s *Selection) {
		children := t.known[s]
		delete(t.known, s)
		for _, c := range children {
			drop(c)
		}
	}
	for _, s := range sels {
		drop(s)
	}
}

// Clear drops every root and remembered child. Selections obtained before
// Clear keep working but are no longer canonical.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}
