package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kleberbaum/gqty/internal/accessor"
	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/gqltest"
	"github.com/kleberbaum/gqty/internal/resolver"
	"github.com/kleberbaum/gqty/internal/schema"
	"github.com/kleberbaum/gqty/internal/selection"
	"github.com/kleberbaum/gqty/internal/transport"
	"github.com/stretchr/testify/require"
)

const testSDL = `
type Query {
	hello(name: String = "world"): String
	obj: Obj
	objs: [Obj!]
	node(id: ID!): Node
	token: String
}
type Obj { a: String b: String }
interface Node { id: ID! }
type User implements Node { id: ID! name: String }
type Post implements Node { id: ID! title: String }
type Mutation { bump: Int }
type Subscription { ticks: Int }
`

func hello(_ context.Context, _ any, args map[string]any) (any, error) {
	return "hello " + args["name"].(string), nil
}

func newTestClient(t *testing.T, resolvers map[string]gqltest.Resolver, opts ...Option) (*Client, *gqltest.Server) {
	t.Helper()
	base := map[string]gqltest.Resolver{"Query.hello": hello}
	for k, r := range resolvers {
		base[k] = r
	}
	srv := gqltest.Must(testSDL, base)
	opts = append([]Option{WithRetry(resolver.NoRetry)}, opts...)
	return New(srv.Transport(), opts...), srv
}

func greet(name string) func(*accessor.Accessor) string {
	return func(q *accessor.Accessor) string {
		if name == "" {
			return q.Field("hello").String()
		}
		return q.Field("hello", selection.Arg("name", name)).String()
	}
}

func TestResolve_FetchesAndProjects(t *testing.T) {
	c, srv := newTestClient(t, nil)

	got, err := Resolve(context.Background(), c, greet("gqty"))
	require.NoError(t, err)
	require.Equal(t, "hello gqty", got)

	got, err = Resolve(context.Background(), c, greet(""))
	require.NoError(t, err)
	require.Equal(t, "hello world", got)
	require.Equal(t, 2, srv.Fetches())
}

func TestResolve_FreshValuesComeFromCache(t *testing.T) {
	c, srv := newTestClient(t, nil, WithCacheOptions(cache.WithMaxAge(time.Minute)))

	for range 3 {
		got, err := Resolve(context.Background(), c, greet("a"))
		require.NoError(t, err)
		require.Equal(t, "hello a", got)
	}
	require.Equal(t, 1, srv.Fetches())
}

func TestResolve_RefetchAndNoCache(t *testing.T) {
	c, srv := newTestClient(t, nil, WithCacheOptions(cache.WithMaxAge(time.Minute)))
	ctx := context.Background()

	_, err := Resolve(ctx, c, greet(""), NoCache())
	require.NoError(t, err)
	require.Equal(t, 1, srv.Fetches())
	_, found := c.Cache().Get([]string{"query", "hello"})
	require.False(t, found, "no-cache result must not be stored")

	got, err := Resolve(ctx, c, greet(""), Refetch())
	require.NoError(t, err)
	require.Equal(t, "hello world", got)
	v, found := c.Cache().Get([]string{"query", "hello"})
	require.True(t, found)
	require.Equal(t, "hello world", v)

	_, err = Resolve(ctx, c, greet(""), Refetch())
	require.NoError(t, err)
	require.Equal(t, 3, srv.Fetches())
}

func TestResolve_OnlyIfCached(t *testing.T) {
	c, srv := newTestClient(t, nil)

	_, err := Resolve(context.Background(), c, greet(""), Policy(cache.OnlyIfCached))
	var miss *gqlerr.CacheMissError
	require.ErrorAs(t, err, &miss)
	require.Equal(t, []string{"query.hello"}, miss.Paths)
	require.Zero(t, srv.Fetches())
}

func TestResolve_OnCacheData(t *testing.T) {
	c, srv := newTestClient(t, nil, WithCacheOptions(cache.WithMaxAge(time.Minute)))
	ctx := context.Background()
	_, err := Resolve(ctx, c, greet(""))
	require.NoError(t, err)

	var seen any
	got, err := Resolve(ctx, c, greet(""), Refetch(), OnCacheData(func(cached any) bool {
		seen = cached
		return false
	}))
	require.NoError(t, err)
	require.Equal(t, "hello world", got)
	require.Equal(t, "hello world", seen)
	require.Equal(t, 1, srv.Fetches())

	_, err = Resolve(ctx, c, greet(""), Refetch(), OnCacheData(func(any) bool { return true }))
	require.NoError(t, err)
	require.Equal(t, 2, srv.Fetches())
}

func TestResolve_StaleValueRefreshesInBackground(t *testing.T) {
	n := 0
	c, srv := newTestClient(t, map[string]gqltest.Resolver{
		"Query.token": func(context.Context, any, map[string]any) (any, error) {
			n++
			return strings.Repeat("x", n), nil
		},
	})
	ctx := context.Background()
	token := func(q *accessor.Accessor) string { return q.Field("token").String() }

	got, err := Resolve(ctx, c, token)
	require.NoError(t, err)
	require.Equal(t, "x", got)

	var refresh *resolver.Pending
	got, err = Resolve(ctx, c, token, AwaitsFetch(false), OnFetch(func(p *resolver.Pending) { refresh = p }))
	require.NoError(t, err)
	require.Equal(t, "x", got, "stale value is served while revalidating")
	require.NotNil(t, refresh)
	require.NoError(t, refresh.Wait(ctx))

	got, err = Resolve(ctx, c, token, Policy(cache.OnlyIfCached))
	require.NoError(t, err)
	require.Equal(t, "xx", got)
	require.Equal(t, 2, srv.Fetches())
}

func TestResolve_OperationNameAndExtensions(t *testing.T) {
	var token []string
	c, srv := newTestClient(t, map[string]gqltest.Resolver{
		"Query.token": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			token = gqltest.Metadata(ctx).Get("ext-token")
			return "t", nil
		},
	})
	got, err := Resolve(context.Background(), c, func(q *accessor.Accessor) string {
		return q.Field("token").String()
	}, OperationName("Named"), Extensions(map[string]any{"token": "abc"}))
	require.NoError(t, err)
	require.Equal(t, "t", got)
	require.Equal(t, []string{"abc"}, token)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "Named", reqs[0].OperationName)
	require.True(t, strings.HasPrefix(reqs[0].Query, "query Named"), reqs[0].Query)
}

func TestResolve_SingleGraphQLError(t *testing.T) {
	c, _ := newTestClient(t, map[string]gqltest.Resolver{
		"Query.obj": gqltest.Value(map[string]any{"b": "B"}),
		"Obj.a":     gqltest.Error(errors.New("boom")),
	})
	type ab struct{ A, B string }
	got, err := Resolve(context.Background(), c, func(q *accessor.Accessor) ab {
		o := q.Field("obj")
		return ab{A: o.Field("a").String(), B: o.Field("b").String()}
	})
	var gerr *gqlerr.GQtyError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, "boom", err.Error())
	require.Len(t, gerr.GraphQLErrors, 1)
	require.Equal(t, []any{"obj", "a"}, gerr.GraphQLErrors[0].Path)
	require.Equal(t, ab{B: "B"}, got, "partial data is projected")
}

func TestResolve_AggregateGraphQLErrors(t *testing.T) {
	resolvers := map[string]gqltest.Resolver{
		"Query.obj": gqltest.Value(map[string]any{}),
		"Obj.a":     gqltest.Error(errors.New("a failed")),
		"Obj.b":     gqltest.Error(errors.New("b failed")),
	}
	both := func(q *accessor.Accessor) string {
		o := q.Field("obj")
		return o.Field("a").String() + o.Field("b").String()
	}

	c, _ := newTestClient(t, resolvers)
	_, err := Resolve(context.Background(), c, both)
	require.EqualError(t, err, "GraphQL Errors, please check .graphQLErrors property")

	c, _ = newTestClient(t, resolvers, WithProduction(true))
	_, err = Resolve(context.Background(), c, both)
	require.EqualError(t, err, "GraphQL Errors")
	var gerr *gqlerr.GQtyError
	require.ErrorAs(t, err, &gerr)
	require.Len(t, gerr.GraphQLErrors, 2)
}

func TestResolve_NetworkError(t *testing.T) {
	boom := errors.New("connection refused")
	tr := transport.Func(func(context.Context, transport.QueryPayload, transport.FetchOptions) (*transport.Response, error) {
		return nil, boom
	})
	c := New(tr, WithRetry(resolver.NoRetry))
	_, err := Resolve(context.Background(), c, greet(""))
	var nerr *gqlerr.NetworkError
	require.ErrorAs(t, err, &nerr)
	require.ErrorIs(t, err, boom)
}

func TestResolve_EmptyDataYieldsZeroValues(t *testing.T) {
	tr := transport.Func(func(context.Context, transport.QueryPayload, transport.FetchOptions) (*transport.Response, error) {
		return &transport.Response{}, nil
	})
	c := New(tr, WithRetry(resolver.NoRetry))
	got, err := Resolve(context.Background(), c, greet(""))
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestResolve_NullObject(t *testing.T) {
	c, _ := newTestClient(t, map[string]gqltest.Resolver{"Query.obj": gqltest.Value(nil)})
	type result struct {
		Null bool
		A    string
	}
	read := func(q *accessor.Accessor) result {
		o := q.Field("obj")
		return result{Null: o.IsNull(), A: o.Field("a").String()}
	}
	got, err := Resolve(context.Background(), c, read)
	require.NoError(t, err)
	require.Equal(t, result{Null: true}, got)

	got, err = Resolve(context.Background(), c, read, Refetch())
	require.NoError(t, err)
	require.Equal(t, result{Null: true}, got)
}

func TestResolve_EmptyListReusesPreviousSelections(t *testing.T) {
	c, srv := newTestClient(t, map[string]gqltest.Resolver{"Query.objs": gqltest.Value([]any{})})
	bs := func(q *accessor.Accessor) []string {
		var out []string
		for _, o := range q.Field("objs").List() {
			out = append(out, o.Field("b").String())
		}
		return out
	}
	ctx := context.Background()

	got, err := Resolve(ctx, c, bs)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = Resolve(ctx, c, bs, Refetch())
	require.NoError(t, err)
	require.Empty(t, got)

	c.Cache().Clear()
	_, err = Resolve(ctx, c, bs)
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 3)
	for _, r := range reqs {
		require.Contains(t, r.Query, "objs{__typename b}")
	}
}

func TestResolve_AliasesStableAcrossClears(t *testing.T) {
	c, srv := newTestClient(t, nil)
	ctx := context.Background()
	_, err := Resolve(ctx, c, greet("x"))
	require.NoError(t, err)
	c.Cache().Clear()
	_, err = Resolve(ctx, c, greet("x"))
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	if diff := cmp.Diff(reqs[0], reqs[1]); diff != "" {
		t.Fatalf("payload changed after clear (-first +second):\n%s", diff)
	}
}

func TestResolve_InlineFragmentsWithSchema(t *testing.T) {
	sch, err := schema.BuildFromSDL(testSDL)
	require.NoError(t, err)
	c, _ := newTestClient(t, map[string]gqltest.Resolver{
		"Query.node": func(_ context.Context, _ any, args map[string]any) (any, error) {
			return map[string]any{"__typename": "User", "id": args["id"], "name": "Ann"}, nil
		},
	}, WithSchema(sch))

	type node struct{ Name, Title string }
	got, err := Resolve(context.Background(), c, func(q *accessor.Accessor) node {
		n := q.Field("node", selection.Arg("id", "1"))
		return node{Name: n.On("User").Field("name").String(), Title: n.On("Post").Field("title").String()}
	})
	require.NoError(t, err)
	require.Equal(t, node{Name: "Ann"}, got)
}

func TestRun_MixedOperationKinds(t *testing.T) {
	c, srv := newTestClient(t, nil)
	_, err := Run(context.Background(), c, func(r Roots) int {
		r.Query.Field("hello")
		return r.Mutation.Field("bump").Int()
	})
	var cerr *gqlerr.CompileError
	require.ErrorAs(t, err, &cerr)
	require.Zero(t, srv.Fetches())
}

func TestMutate_AlwaysFetches(t *testing.T) {
	n := 0
	c, srv := newTestClient(t, map[string]gqltest.Resolver{
		"Mutation.bump": func(context.Context, any, map[string]any) (any, error) {
			n++
			return n, nil
		},
	}, WithCacheOptions(cache.WithMaxAge(time.Hour)))
	bump := func(m *accessor.Accessor) int { return m.Field("bump").Int() }

	for want := 1; want <= 2; want++ {
		got, err := Mutate(context.Background(), c, bump)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Equal(t, 2, srv.Fetches())
}

func TestResolve_NoSelectionsReadsCache(t *testing.T) {
	c, srv := newTestClient(t, nil)
	got, err := Resolve(context.Background(), c, func(*accessor.Accessor) int { return 42 })
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Zero(t, srv.Fetches())
}
