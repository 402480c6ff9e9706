package cache

import "time"

// State classifies a cache entry at read time.
type State int

const (
	Miss State = iota
	Fresh
	// Stale entries are usable but should be revalidated.
	Stale
	// Expired entries must be refetched before use.
	Expired
)

func (s State) String() string {
	switch s {
	case Miss:
		return "miss"
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// Usable reports whether a value in this state may be served.
func (s State) Usable() bool { return s == Fresh || s == Stale }

type meta struct {
	updatedAt time.Time
	maxAge    time.Duration
	swr       time.Duration
	hasMaxAge bool
	hasSWR    bool
}

func newMeta(at time.Time, opts []EntryOption) meta {
	m := meta{updatedAt: at}
	for _, o := range opts {
		o(&m)
	}
	return m
}

func (m meta) state(now time.Time, def Options) State {
	maxAge, swr := def.MaxAge, def.StaleWhileRevalidate
	if m.hasMaxAge {
		maxAge = m.maxAge
	}
	if m.hasSWR {
		swr = m.swr
	}
	if maxAge == Forever {
		return Fresh
	}
	age := now.Sub(m.updatedAt)
	if age < maxAge {
		return Fresh
	}
	if swr == Forever || age-maxAge < swr {
		return Stale
	}
	return Expired
}

// metaNode records write timestamps by index-free path. Entries only live at
// the positions where a scalar, null or empty value was written; recording an
// entry drops the subtree below it.
type metaNode struct {
	entry    *meta
	children map[string]*metaNode
}

func (n *metaNode) child(seg string) *metaNode {
	if n.children == nil {
		n.children = make(map[string]*metaNode)
	}
	c := n.children[seg]
	if c == nil {
		c = &metaNode{}
		n.children[seg] = c
	}
	return c
}

func (n *metaNode) node(path []string) *metaNode {
	cur := n
	for _, seg := range path {
		cur = cur.child(seg)
	}
	return cur
}

// record stores m at path and drops everything below.
func (n *metaNode) record(path []string, m meta) {
	cur := n.node(path)
	cur.entry = &m
	cur.children = nil
}

// unmark removes the entry at path but keeps the subtree.
func (n *metaNode) unmark(path []string) {
	cur := n
	for _, seg := range path {
		cur = cur.children[seg]
		if cur == nil {
			return
		}
	}
	cur.entry = nil
}

// drop removes path and its subtree.
func (n *metaNode) drop(path []string) {
	if len(path) == 0 {
		n.entry = nil
		n.children = nil
		return
	}
	cur := n
	for _, seg := range path[:len(path)-1] {
		cur = cur.children[seg]
		if cur == nil {
			return
		}
	}
	delete(cur.children, path[len(path)-1])
}

// find returns the entry governing path: the deepest ancestor-or-self entry,
// else the oldest entry below path.
func (n *metaNode) find(path []string) (meta, bool) {
	var best *meta
	cur := n
	for _, seg := range path {
		if cur.entry != nil {
			best = cur.entry
		}
		cur = cur.children[seg]
		if cur == nil {
			if best != nil {
				return *best, true
			}
			return meta{}, false
		}
	}
	if cur.entry != nil {
		return *cur.entry, true
	}
	if best != nil {
		return *best, true
	}
	return cur.oldest()
}

func (n *metaNode) oldest() (meta, bool) {
	var (
		out   meta
		found bool
	)
	var walk func(*metaNode)
	walk = func(x *metaNode) {
		if x.entry != nil && (!found || x.entry.updatedAt.Before(out.updatedAt)) {
			out = *x.entry
			found = true
		}
		for _, c := range x.children {
			walk(c)
		}
	}
	walk(n)
	return out, found
}

// each visits every entry with its dotted path.
func (n *metaNode) each(prefix []string, fn func(path []string, m meta)) {
	if n.entry != nil {
		p := make([]string, len(prefix))
		copy(p, prefix)
		fn(p, *n.entry)
	}
	for seg, c := range n.children {
		c.each(append(prefix, seg), fn)
	}
}
