package selection

// Set is an insertion-ordered set of selections keyed by identity.
type Set struct {
	items []*Selection
	index map[*Selection]struct{}
}

// NewSet returns a set holding sels.
func NewSet(sels ...*Selection) *Set {
	s := &Set{index: make(map[*Selection]struct{}, len(sels))}
	for _, sel := range sels {
		s.Add(sel)
	}
	return s
}

// Add inserts sel and reports whether it was new.
func (s *Set) Add(sel *Selection) bool {
	if sel == nil {
		return false
	}
	if s.index == nil {
		s.index = make(map[*Selection]struct{})
	}
	if _, ok := s.index[sel]; ok {
		return false
	}
	s.index[sel] = struct{}{}
	s.items = append(s.items, sel)
	return true
}

// AddAll inserts every selection of other.
func (s *Set) AddAll(other *Set) {
	if other == nil {
		return
	}
	for _, sel := range other.items {
		s.Add(sel)
	}
}

func (s *Set) Has(sel *Selection) bool {
	_, ok := s.index[sel]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Slice returns the members in insertion order.
func (s *Set) Slice() []*Selection {
	if s == nil {
		return nil
	}
	out := make([]*Selection, len(s.items))
	copy(out, s.items)
	return out
}

// Clear empties the set.
func (s *Set) Clear() {
	s.items = nil
	s.index = make(map[*Selection]struct{})
}

// Filter returns the members rooted at kind.
func (s *Set) Filter(kind Kind) *Set {
	out := NewSet()
	for _, sel := range s.items {
		if sel.kind == kind {
			out.Add(sel)
		}
	}
	return out
}

// Kinds returns the distinct root kinds present, in Kinds order.
func (s *Set) Kinds() []Kind {
	var seen [3]bool
	for _, sel := range s.items {
		seen[sel.kind] = true
	}
	var out []Kind
	for _, k := range Kinds {
		if seen[k] {
			out = append(out, k)
		}
	}
	return out
}

// Leaves returns the members that have no descendant in the set, skipping
// roots and fragments. These are the selections whose cache entries decide
// whether a fetch is needed.
func (s *Set) Leaves() []*Selection {
	interior := make(map[*Selection]struct{})
	for _, sel := range s.items {
		for cur := sel.parent; cur != nil; cur = cur.parent {
			if _, ok := interior[cur]; ok {
				break
			}
			interior[cur] = struct{}{}
		}
	}
	var out []*Selection
	for _, sel := range s.items {
		if sel.IsRoot() || sel.IsFragment() {
			continue
		}
		if _, ok := interior[sel]; ok {
			continue
		}
		out = append(out, sel)
	}
	return out
}

// CachePaths returns the cache path of every member.
func (s *Set) CachePaths() []string {
	out := make([]string, len(s.items))
	for i, sel := range s.items {
		out[i] = sel.CachePath()
	}
	return out
}
