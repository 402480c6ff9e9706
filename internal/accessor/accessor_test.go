package accessor

import (
	"testing"
	"time"

	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/selection"
	"github.com/stretchr/testify/require"
)

func keys(sels []*selection.Selection) []string {
	out := make([]string, len(sels))
	for i, s := range sels {
		out[i] = s.CachePath()
	}
	return out
}

func TestField_MissingDataRecordsSelections(t *testing.T) {
	table := selection.NewTable()
	w := NewWindow(table)
	q := Root(w, selection.Query, cache.New())

	name := q.Field("user", selection.Arg("id", "1")).Field("name")
	require.False(t, name.Found())
	require.Equal(t, "", name.String())

	user := table.Root(selection.Query).MustChild("user", selection.Arg("id", "1"))
	require.Equal(t, []string{"query." + user.Alias() + ".name"}, keys(w.Selections().Leaves()))
	require.NoError(t, w.Err())
}

func TestField_ReadsCachedValues(t *testing.T) {
	table := selection.NewTable()
	user := table.Root(selection.Query).MustChild("user", selection.Arg("id", "1"))
	c := cache.New()
	c.Merge(map[string]any{"query": map[string]any{
		"hello": "world",
		user.Alias(): map[string]any{
			"name":  "Ann",
			"age":   42.0,
			"admin": true,
			"score": 1.5,
		},
	}}, time.Now())

	w := NewWindow(table)
	q := Root(w, selection.Query, c)
	require.Equal(t, "world", q.Field("hello").String())

	u := q.Field("user", selection.Arg("id", "1"))
	require.Same(t, user, u.Selection())
	require.Equal(t, "Ann", u.Field("name").String())
	require.Equal(t, 42, u.Field("age").Int())
	require.True(t, u.Field("admin").Bool())
	require.Equal(t, 1.5, u.Field("score").Float())
	require.Equal(t, 0, u.Field("name").Int())
	require.False(t, u.Field("missing").Found())
}

func TestList_ElementsAndPlaceholder(t *testing.T) {
	table := selection.NewTable()
	c := cache.New()
	w := NewWindow(table)

	// Nothing cached: one placeholder element keeps the projection walking.
	items := Root(w, selection.Query, c).Field("users").List()
	require.Len(t, items, 1)
	require.False(t, items[0].Found())
	items[0].Field("id")
	require.Equal(t, []string{"query.users.id"}, keys(w.Selections().Leaves()))

	c.Merge(map[string]any{"query": map[string]any{"users": []any{
		map[string]any{"id": "1"},
		map[string]any{"id": "2"},
	}}}, time.Now())
	w = NewWindow(table)
	users := Root(w, selection.Query, c).Field("users")
	require.Equal(t, 2, users.Len())
	var ids []string
	for _, u := range users.List() {
		ids = append(ids, u.Field("id").String())
	}
	require.Equal(t, []string{"1", "2"}, ids)

	// Reading a field through the list yields it element-wise.
	require.Equal(t, []any{"1", "2"}, users.Field("id").Value())
}

func TestList_EmptyRecallsPreviousChildren(t *testing.T) {
	table := selection.NewTable()
	users := table.Root(selection.Query).MustChild("users", selection.Arg("first", 10))
	id := users.MustChild("id")
	name := users.MustChild("name")
	table.Remember(selection.NewSet(id, name))

	c := cache.New()
	c.Merge(map[string]any{"query": map[string]any{users.Alias(): []any{}}}, time.Now())

	w := NewWindow(table)
	require.Empty(t, Root(w, selection.Query, c).Field("users", selection.Arg("first", 10)).List())

	got := w.Selections()
	require.True(t, got.Has(id))
	require.True(t, got.Has(name))
	require.ElementsMatch(t, []string{id.CachePath(), name.CachePath()}, keys(got.Leaves()))
}

func TestIsNull_RecallsPreviousChildren(t *testing.T) {
	table := selection.NewTable()
	user := table.Root(selection.Query).MustChild("user")
	name := user.MustChild("name")
	table.Remember(selection.NewSet(name))

	c := cache.New()
	c.Merge(map[string]any{"query": map[string]any{"user": nil}}, time.Now())

	w := NewWindow(table)
	u := Root(w, selection.Query, c).Field("user")
	require.True(t, u.IsNull())
	require.True(t, w.Selections().Has(name))

	// Children of a null object read as null, not missing.
	require.True(t, u.Field("name").IsNull())
}

func TestOn_NarrowsByTypename(t *testing.T) {
	table := selection.NewTable()
	c := cache.New()
	c.Merge(map[string]any{"query": map[string]any{"node": map[string]any{
		"__typename": "User",
		"name":       "Ann",
	}}}, time.Now())

	w := NewWindow(table)
	node := Root(w, selection.Query, c).Field("node")
	require.Equal(t, "Ann", node.On("User").Field("name").String())
	require.True(t, node.On("Post").IsNull())

	frag := table.Root(selection.Query).MustChild("node").On("User")
	require.True(t, w.Selections().Has(frag))
}

func TestField_ArgumentErrorStopsRecording(t *testing.T) {
	table := selection.NewTable()
	w := NewWindow(table)
	bad := Root(w, selection.Query, nil).Field("user", selection.Arg("id", func() {}))
	require.Nil(t, bad.Selection())
	require.Nil(t, bad.Field("name").Selection())
	require.Empty(t, bad.List())

	var ae *gqlerr.ArgumentError
	require.ErrorAs(t, w.Err(), &ae)
	require.Zero(t, w.Selections().Len())
}
