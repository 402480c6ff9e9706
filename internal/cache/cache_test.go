package cache

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func p(segs ...string) []string { return segs }

func TestGet_MissIsDistinctFromNull(t *testing.T) {
	c := New()
	c.Merge(map[string]any{"query": map[string]any{"user": nil}}, time.Now())

	v, ok := c.Get(p("query", "user"))
	require.True(t, ok)
	require.Nil(t, v)

	_, ok = c.Get(p("query", "other"))
	require.False(t, ok)

	// Descendants of a null object are a cached null, not a miss.
	v, ok = c.Get(p("query", "user", "name"))
	require.True(t, ok)
	require.Nil(t, v)

	_, ok = c.Get(p("mutation", "x"))
	require.False(t, ok)
}

func TestLookup_Freshness(t *testing.T) {
	clk := newClock()
	c := New(WithMaxAge(50*time.Millisecond), WithStaleWhileRevalidate(100*time.Millisecond), WithClock(clk.Now))
	c.Set(p("query", "hello"), "hi", clk.Now())

	require.Equal(t, Fresh, c.Lookup(p("query", "hello")).State)
	clk.Advance(49 * time.Millisecond)
	require.Equal(t, Fresh, c.Lookup(p("query", "hello")).State)
	clk.Advance(1 * time.Millisecond)
	require.Equal(t, Stale, c.Lookup(p("query", "hello")).State)
	clk.Advance(99 * time.Millisecond)
	require.Equal(t, Stale, c.Lookup(p("query", "hello")).State)
	clk.Advance(1 * time.Millisecond)
	e := c.Lookup(p("query", "hello"))
	require.Equal(t, Expired, e.State)
	require.True(t, e.Found)
	require.Equal(t, "hi", e.Value)

	require.Equal(t, Miss, c.Lookup(p("query", "nope")).State)
}

func TestLookup_MaxAgeZeroIsStale(t *testing.T) {
	clk := newClock()
	c := New(WithClock(clk.Now))
	c.Set(p("query", "a"), 1.0, clk.Now())
	require.Equal(t, Stale, c.Lookup(p("query", "a")).State)
	clk.Advance(5 * time.Minute)
	require.Equal(t, Expired, c.Lookup(p("query", "a")).State)
}

func TestLookup_Forever(t *testing.T) {
	clk := newClock()
	c := New(WithMaxAge(Forever), WithClock(clk.Now))
	c.Set(p("query", "a"), 1.0, clk.Now())
	clk.Advance(24 * 365 * time.Hour)
	require.Equal(t, Fresh, c.Lookup(p("query", "a")).State)

	c2 := New(WithMaxAge(0), WithStaleWhileRevalidate(Forever), WithClock(clk.Now))
	c2.Set(p("query", "a"), 1.0, clk.Now())
	clk.Advance(24 * 365 * time.Hour)
	require.Equal(t, Stale, c2.Lookup(p("query", "a")).State)
}

func TestLookup_EntryOverrides(t *testing.T) {
	clk := newClock()
	c := New(WithClock(clk.Now))
	c.Set(p("query", "a"), 1.0, clk.Now(), EntryMaxAge(time.Minute))
	c.Set(p("query", "b"), 1.0, clk.Now(), EntryMaxAge(0), EntryStaleWhileRevalidate(0))
	require.Equal(t, Fresh, c.Lookup(p("query", "a")).State)
	require.Equal(t, Expired, c.Lookup(p("query", "b")).State)
}

func TestMerge_RoundTripLeavesOtherPathsUntouched(t *testing.T) {
	c := New()
	c.Merge(map[string]any{
		"query": map[string]any{
			"a": 1.0,
			"b": map[string]any{"c": "x"},
			"l": []any{map[string]any{"id": "1", "n": "one"}, map[string]any{"id": "2", "n": "two"}},
		},
	}, time.Now())
	before := c.ToJSON()

	response := map[string]any{
		"query": map[string]any{
			"b": map[string]any{"d": true},
			"e": []any{map[string]any{"f": 1.0}},
			"l": []any{map[string]any{"n": "uno"}},
		},
	}
	c.Merge(response, time.Now())
	got := c.ToJSON()

	want := map[string]any{
		"query": map[string]any{
			"a": 1.0,
			"b": map[string]any{"c": "x", "d": true},
			"e": []any{map[string]any{"f": 1.0}},
			"l": []any{map[string]any{"id": "1", "n": "uno"}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ToJSON mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before["query"].(map[string]any)["a"], got["query"].(map[string]any)["a"]); diff != "" {
		t.Fatalf("untouched path changed:\n%s", diff)
	}
}

func TestMerge_CopiesInput(t *testing.T) {
	c := New()
	in := map[string]any{"query": map[string]any{"o": map[string]any{"x": 1.0}}}
	c.Merge(in, time.Now())
	in["query"].(map[string]any)["o"].(map[string]any)["x"] = 2.0

	v, _ := c.Get(p("query", "o", "x"))
	require.Equal(t, 1.0, v)

	out, _ := c.Get(p("query", "o"))
	out.(map[string]any)["x"] = 3.0
	v, _ = c.Get(p("query", "o", "x"))
	require.Equal(t, 1.0, v)
}

func TestGet_ListsAreTraversedElementWise(t *testing.T) {
	c := New()
	c.Merge(map[string]any{
		"query": map[string]any{
			"users": []any{
				map[string]any{"name": "a", "tags": []any{map[string]any{"v": 1.0}}},
				map[string]any{"name": "b", "tags": []any{}},
			},
			"empty": []any{},
		},
	}, time.Now())

	v, ok := c.Get(p("query", "users", "name"))
	require.True(t, ok)
	require.Equal(t, []any{"a", "b"}, v)

	v, ok = c.Get(p("query", "users", "tags", "v"))
	require.True(t, ok)
	require.Equal(t, []any{[]any{1.0}, []any{}}, v)

	_, ok = c.Get(p("query", "users", "email"))
	require.False(t, ok)

	v, ok = c.Get(p("query", "empty", "anything"))
	require.True(t, ok)
	require.Equal(t, []any{}, v)
}

func TestMerge_NullReplacesObjectAndBack(t *testing.T) {
	clk := newClock()
	c := New(WithMaxAge(time.Minute), WithClock(clk.Now))
	c.Merge(map[string]any{"query": map[string]any{"user": map[string]any{"name": "x"}}}, clk.Now())
	clk.Advance(2 * time.Minute)
	c.Merge(map[string]any{"query": map[string]any{"user": nil}}, clk.Now())

	e := c.Lookup(p("query", "user", "name"))
	require.True(t, e.Found)
	require.Nil(t, e.Value)
	require.Equal(t, Fresh, e.State)

	clk.Advance(2 * time.Minute)
	c.Merge(map[string]any{"query": map[string]any{"user": map[string]any{"name": "y"}}}, clk.Now())
	e = c.Lookup(p("query", "user"))
	require.Equal(t, Fresh, e.State)
	require.Equal(t, map[string]any{"name": "y"}, e.Value)
}

func TestLookup_ObjectUsesOldestLeaf(t *testing.T) {
	clk := newClock()
	c := New(WithMaxAge(time.Minute), WithClock(clk.Now))
	t0 := clk.Now()
	c.Merge(map[string]any{"query": map[string]any{"o": map[string]any{"a": 1.0}}}, t0)
	clk.Advance(30 * time.Second)
	c.Merge(map[string]any{"query": map[string]any{"o": map[string]any{"b": 1.0}}}, clk.Now())

	e := c.Lookup(p("query", "o"))
	require.Equal(t, t0, e.UpdatedAt)
	clk.Advance(45 * time.Second)
	require.Equal(t, Stale, c.Lookup(p("query", "o")).State)
	require.Equal(t, Fresh, c.Lookup(p("query", "o", "b")).State)
}

func TestSet_CreatesIntermediates(t *testing.T) {
	c := New()
	c.Set(p("query", "a", "b"), "v", time.Now())
	require.Equal(t, map[string]any{"query": map[string]any{"a": map[string]any{"b": "v"}}}, c.ToJSON())

	c.Set(p("query", "a"), []any{1.0}, time.Now())
	v, ok := c.Get(p("query", "a"))
	require.True(t, ok)
	require.Equal(t, []any{1.0}, v)
	require.NotContains(t, c.Paths(), "query.a.b")
}

func TestSet_WritesThroughListsElementWise(t *testing.T) {
	c := New()
	now := time.Now()
	c.Merge(map[string]any{"query": map[string]any{
		"users": []any{
			map[string]any{"name": "a"},
			nil,
			map[string]any{"name": "b"},
		},
	}}, now)

	c.Set(p("query", "users", "name"), "z", now)

	want := map[string]any{"query": map[string]any{
		"users": []any{
			map[string]any{"name": "z"},
			nil,
			map[string]any{"name": "z"},
		},
	}}
	if diff := cmp.Diff(want, c.ToJSON()); diff != "" {
		t.Fatalf("ToJSON mismatch (-want +got):\n%s", diff)
	}
	v, ok := c.Get(p("query", "users", "name"))
	require.True(t, ok)
	require.Equal(t, []any{"z", nil, "z"}, v)
}

func TestClear(t *testing.T) {
	c := New()
	c.Set(p("query", "a"), 1.0, time.Now())
	c.Clear()
	_, ok := c.Get(p("query", "a"))
	require.False(t, ok)
	require.Empty(t, c.ToJSON())
	require.Empty(t, c.Paths())
}

func TestHydrate_FromToJSON(t *testing.T) {
	src := New()
	src.Merge(map[string]any{"query": map[string]any{"a": map[string]any{"b": []any{"x", "y"}}}}, time.Now())

	dst := New(WithMaxAge(time.Hour))
	dst.Hydrate(src.ToJSON(), time.Now())
	if diff := cmp.Diff(src.ToJSON(), dst.ToJSON()); diff != "" {
		t.Fatalf("hydrated mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, Fresh, dst.Lookup(p("query", "a", "b")).State)
}

func TestSnapshot_RestorePreservesTimestamps(t *testing.T) {
	clk := newClock()
	c := New(WithMaxAge(time.Minute), WithClock(clk.Now))
	c.Set(p("query", "old"), 1.0, clk.Now())
	clk.Advance(2 * time.Minute)
	c.Set(p("query", "new"), 2.0, clk.Now(), EntryMaxAge(time.Hour))

	snap := c.Snapshot()
	require.Equal(t, []string{"query.new", "query.old"}, []string{snap.Entries[0].Path, snap.Entries[1].Path})

	r := New(WithMaxAge(time.Minute), WithClock(clk.Now))
	r.Restore(snap)
	require.Equal(t, Stale, r.Lookup(p("query", "old")).State)
	require.Equal(t, Fresh, r.Lookup(p("query", "new")).State)
	if diff := cmp.Diff(c.ToJSON(), r.ToJSON()); diff != "" {
		t.Fatalf("restored mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalization_EntityVisibleThroughEveryPath(t *testing.T) {
	c := New(WithNormalization(nil))
	c.Merge(map[string]any{"query": map[string]any{
		"me":   map[string]any{"__typename": "User", "id": "1", "name": "old"},
		"list": []any{map[string]any{"__typename": "User", "id": "1", "name": "old"}},
	}}, time.Now())
	c.Merge(map[string]any{"query": map[string]any{
		"me": map[string]any{"__typename": "User", "id": "1", "name": "new"},
	}}, time.Now())

	v, ok := c.Get(p("query", "list", "name"))
	require.True(t, ok)
	require.Equal(t, []any{"new"}, v)

	v, _ = c.Get(p("query", "list"))
	require.Equal(t, []any{map[string]any{"__typename": "User", "id": "1", "name": "new"}}, v)

	ent, ok := c.Entity("User:1")
	require.True(t, ok)
	require.Equal(t, "new", ent["name"])

	// ToJSON exports the structural tree.
	list := c.ToJSON()["query"].(map[string]any)["list"].([]any)
	require.Equal(t, "old", list[0].(map[string]any)["name"])
}

func TestNormalization_SetUpdatesEntity(t *testing.T) {
	c := New(WithNormalization(nil))
	c.Merge(map[string]any{"query": map[string]any{
		"a": map[string]any{"__typename": "T", "id": 1.0, "v": "x"},
		"b": map[string]any{"__typename": "T", "id": 1.0, "v": "x"},
	}}, time.Now())
	c.Set(p("query", "a", "v"), "y", time.Now())
	v, _ := c.Get(p("query", "b", "v"))
	require.Equal(t, "y", v)
}

func TestNormalization_CyclicEntities(t *testing.T) {
	c := New(WithNormalization(nil))
	c.Merge(map[string]any{"query": map[string]any{
		"a": map[string]any{"__typename": "U", "id": "1",
			"friend": map[string]any{"__typename": "U", "id": "2",
				"friend": map[string]any{"__typename": "U", "id": "1"}}},
		"b": map[string]any{"__typename": "U", "id": "2",
			"friend": map[string]any{"__typename": "U", "id": "1",
				"friend": map[string]any{"__typename": "U", "id": "2"}}},
	}}, time.Now())
	v, ok := c.Get(p("query"))
	require.True(t, ok)
	require.NotNil(t, v)
}

func TestDefaultKey(t *testing.T) {
	k, ok := DefaultKey(map[string]any{"__typename": "User", "id": 3.0})
	require.True(t, ok)
	require.Equal(t, "User:3", k)
	k, ok = DefaultKey(map[string]any{"__typename": "User", "_id": "x"})
	require.True(t, ok)
	require.Equal(t, "User:x", k)
	_, ok = DefaultKey(map[string]any{"id": "1"})
	require.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	for _, pol := range []Policy{Default, ForceCache, NoCache, NoStore, OnlyIfCached} {
		got, err := ParsePolicy(pol.String())
		require.NoError(t, err)
		require.Equal(t, pol, got)
	}
	got, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, Default, got)
	_, err = ParsePolicy("cache-first")
	require.Error(t, err)
	require.True(t, NoStore.Fetches())
	require.False(t, NoStore.Stores())
	require.False(t, ForceCache.Fetches())
}

func TestDerive_IsEmptyWithSameOptions(t *testing.T) {
	c := New(WithMaxAge(time.Hour))
	c.Set(p("query", "a"), 1.0, time.Now())
	d := c.Derive()
	_, ok := d.Get(p("query", "a"))
	require.False(t, ok)
	require.Equal(t, time.Hour, d.Options().MaxAge)
}
