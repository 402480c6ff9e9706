package cache

import (
	"sort"
	"strings"
	"time"
)

// Snapshot is a full export of a cache including entry timestamps. Unlike
// ToJSON it preserves freshness across a Restore.
type Snapshot struct {
	Data    map[string]any
	Entries []SnapshotEntry
}

// SnapshotEntry is the timestamp recorded at one dotted path.
type SnapshotEntry struct {
	Path                 string
	UpdatedAt            time.Time
	MaxAge               *time.Duration
	StaleWhileRevalidate *time.Duration
}

// Snapshot exports data and timestamps. Entries are sorted by path.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Data: clone(c.data).(map[string]any)}
	c.meta.each(nil, func(path []string, m meta) {
		e := SnapshotEntry{Path: joinPath(path), UpdatedAt: m.updatedAt}
		if m.hasMaxAge {
			d := m.maxAge
			e.MaxAge = &d
		}
		if m.hasSWR {
			d := m.swr
			e.StaleWhileRevalidate = &d
		}
		snap.Entries = append(snap.Entries, e)
	})
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Path < snap.Entries[j].Path })
	return snap
}

// Restore replaces the contents of c with snap.
func (c *Cache) Restore(snap Snapshot) {
	data, _ := clone(snap.Data).(map[string]any)
	if data == nil {
		data = make(map[string]any)
	}
	root := &metaNode{}
	for _, e := range snap.Entries {
		m := meta{updatedAt: e.UpdatedAt}
		if e.MaxAge != nil {
			m.maxAge, m.hasMaxAge = *e.MaxAge, true
		}
		if e.StaleWhileRevalidate != nil {
			m.swr, m.hasSWR = *e.StaleWhileRevalidate, true
		}
		n := root.node(strings.Split(e.Path, "."))
		n.entry = &m
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.meta = root
	c.entities = make(map[string]map[string]any)
	if c.opts.Identify != nil {
		c.reindexAll(data)
	}
}

func (c *Cache) reindexAll(v any) {
	switch t := v.(type) {
	case map[string]any:
		for _, e := range t {
			c.reindexAll(e)
		}
		c.index(t)
	case []any:
		for _, e := range t {
			c.reindexAll(e)
		}
	}
}
