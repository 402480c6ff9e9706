// Package selection models field accesses as an immutable tree of Selection
// nodes rooted at query, mutation or subscription.
//
// A Selection is identified by its parent, its field key and its arguments.
// Child returns the canonical node for that identity, so repeated touches of the
// same path yield the same pointer and a Set of selections de-duplicates without
// any hashing on read. Nodes with arguments carry an alias derived from the key,
// the canonical arguments and the ancestor cache path; the alias replaces the key
// both in the compiled document and in the cache path, which keeps independent
// clients agreeing on cache keys.
package selection

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

// Kind is the operation type a selection tree is rooted at.
type Kind int

const (
	Query Kind = iota
	Mutation
	Subscription
)

func (k Kind) String() string {
	switch k {
	case Query:
		return "query"
	case Mutation:
		return "mutation"
	case Subscription:
		return "subscription"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "query":
		return Query, nil
	case "mutation":
		return Mutation, nil
	case "subscription":
		return Subscription, nil
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// Kinds lists every root kind in document order.
var Kinds = []Kind{Query, Mutation, Subscription}

// Selection is one node of the selection tree. All fields are immutable after
// construction except the child index.
type Selection struct {
	parent    *Selection
	kind      Kind
	key       string
	args      []Argument
	typeCond  string
	alias     string
	cacheKeys []string
	depth     int

	mu       sync.Mutex
	children map[string]*Selection
	order    []*Selection
}

// newRoot creates a root node. Tables own roots; see Table.Root.
func newRoot(kind Kind) *Selection {
	return &Selection{
		kind:      kind,
		key:       kind.String(),
		alias:     kind.String(),
		cacheKeys: []string{kind.String()},
		children:  make(map[string]*Selection),
	}
}

// Child returns the canonical child for (key, args). Arguments that cannot be
// serialized produce a *gqlerr.ArgumentError.
func (s *Selection) Child(key string, args ...Argument) (*Selection, error) {
	norm, canon, err := normalizeArgs(key, args)
	if err != nil {
		return nil, err
	}
	id := key
	if canon != "" {
		id = key + canon
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.children[id]; ok {
		return c, nil
	}
	c := &Selection{
		parent:   s,
		kind:     s.kind,
		key:      key,
		args:     norm,
		depth:    s.depth + 1,
		children: make(map[string]*Selection),
	}
	base := s.cacheKeys
	if canon == "" {
		c.alias = key
	} else {
		c.alias = hashAlias(strings.Join(base, "."), key, canon)
	}
	c.cacheKeys = make([]string, len(base)+1)
	copy(c.cacheKeys, base)
	c.cacheKeys[len(base)] = c.alias
	s.children[id] = c
	s.order = append(s.order, c)
	return c, nil
}

// MustChild is Child for arguments known to be serializable.
func (s *Selection) MustChild(key string, args ...Argument) *Selection {
	c, err := s.Child(key, args...)
	if err != nil {
		panic(err)
	}
	return c
}

// On returns the canonical inline-fragment child for typeName. Fragment nodes
// share the cache path of their parent.
func (s *Selection) On(typeName string) *Selection {
	id := "...on " + typeName
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.children[id]; ok {
		return c
	}
	c := &Selection{
		parent:    s,
		kind:      s.kind,
		typeCond:  typeName,
		alias:     s.alias,
		cacheKeys: s.cacheKeys,
		depth:     s.depth + 1,
		children:  make(map[string]*Selection),
	}
	s.children[id] = c
	s.order = append(s.order, c)
	return c
}

// hashAlias derives the document alias of a selection with arguments. The
// result is a valid GraphQL name carrying 40 bits of an FNV-1a hash.
func hashAlias(parentPath, key, canonArgs string) string {
	h := fnv.New64a()
	h.Write([]byte(parentPath))
	h.Write([]byte{0})
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(canonArgs))
	return fmt.Sprintf("a%010x", h.Sum64()>>24)
}

func (s *Selection) Parent() *Selection { return s.parent }
func (s *Selection) Kind() Kind         { return s.kind }
func (s *Selection) IsRoot() bool       { return s.parent == nil }

// Key is the schema field name; empty for roots and fragments.
func (s *Selection) Key() string {
	if s.parent == nil || s.typeCond != "" {
		return ""
	}
	return s.key
}

// TypeCondition is the fragment type for nodes created by On.
func (s *Selection) TypeCondition() string { return s.typeCond }

// IsFragment reports whether s was created by On.
func (s *Selection) IsFragment() bool { return s.typeCond != "" }

// Alias is the response key: the bare key without arguments, else the hash.
func (s *Selection) Alias() string { return s.alias }

// HasArgs reports whether the selection carries arguments.
func (s *Selection) HasArgs() bool { return len(s.args) > 0 }

// Args returns a copy of the normalized arguments sorted by name.
func (s *Selection) Args() []Argument {
	out := make([]Argument, len(s.args))
	copy(out, s.args)
	return out
}

// CacheKeys returns the cache path segments from the root to s.
func (s *Selection) CacheKeys() []string {
	out := make([]string, len(s.cacheKeys))
	copy(out, s.cacheKeys)
	return out
}

// CachePath is the dot-joined CacheKeys.
func (s *Selection) CachePath() string { return strings.Join(s.cacheKeys, ".") }

// Path is the response path below the root: CacheKeys without the root
// segment. Fragment nodes share the path of their parent.
func (s *Selection) Path() []string {
	out := make([]string, len(s.cacheKeys)-1)
	copy(out, s.cacheKeys[1:])
	return out
}

// Depth is 0 for roots.
func (s *Selection) Depth() int { return s.depth }

// Children returns the children created so far, in creation order.
func (s *Selection) Children() []*Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Selection, len(s.order))
	copy(out, s.order)
	return out
}

// Root walks up to the root node.
func (s *Selection) Root() *Selection {
	cur := s
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// IsAncestorOf reports whether s is a strict ancestor of other.
func (s *Selection) IsAncestorOf(other *Selection) bool {
	for cur := other.parent; cur != nil; cur = cur.parent {
		if cur == s {
			return true
		}
	}
	return false
}

// Ancestors returns the strict ancestors of s from the root down.
func (s *Selection) Ancestors() []*Selection {
	out := make([]*Selection, s.depth)
	cur := s.parent
	for i := s.depth - 1; i >= 0; i-- {
		out[i] = cur
		cur = cur.parent
	}
	return out
}

func (s *Selection) String() string {
	if s.typeCond != "" {
		return s.CachePath() + "(on " + s.typeCond + ")"
	}
	return s.CachePath()
}
