package client

import (
	"context"
	"testing"
	"time"

	"github.com/kleberbaum/gqty/internal/accessor"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/gqltest"
	"github.com/stretchr/testify/require"
)

// ticker emits 1..n and completes. A nil release channel emits immediately.
func ticker(n int, release <-chan struct{}) gqltest.Resolver {
	return func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		ch := make(chan any)
		go func() {
			defer close(ch)
			if release != nil {
				select {
				case <-release:
				case <-ctx.Done():
					return
				}
			}
			for i := 1; i <= n; i++ {
				select {
				case ch <- i:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
}

func nextValue[T any](t *testing.T, s *Subscription[T]) (Value[T], bool) {
	t.Helper()
	select {
	case v, ok := <-s.Values():
		return v, ok
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription value")
		return Value[T]{}, false
	}
}

func ticks(a *accessor.Accessor) int { return a.Field("ticks").Int() }

func TestSubscribe_ProjectsEveryEvent(t *testing.T) {
	c, srv := newTestClient(t, map[string]gqltest.Resolver{"Subscription.ticks": ticker(3, nil)})

	sub, err := Subscribe(context.Background(), c, ticks)
	require.NoError(t, err)
	defer sub.Close()

	for want := 1; want <= 3; want++ {
		v, ok := nextValue(t, sub)
		require.True(t, ok)
		require.NoError(t, v.Err)
		require.Equal(t, want, v.Data)
	}
	_, ok := nextValue(t, sub)
	require.False(t, ok, "values close once the server completes")
	require.NoError(t, sub.Err())

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "subscription{ticks}", reqs[0].Query)

	v, found := c.Cache().Get([]string{"subscription", "ticks"})
	require.True(t, found)
	require.Equal(t, float64(3), v)
}

func TestSubscribe_CloseStopsValues(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, map[string]gqltest.Resolver{"Subscription.ticks": ticker(1, release)})

	sub, err := Subscribe(context.Background(), c, ticks)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	close(release)

	_, ok := <-sub.Values()
	require.False(t, ok)
	require.NoError(t, sub.Close())
}

func TestSubscribe_NoFields(t *testing.T) {
	c, _ := newTestClient(t, nil)
	_, err := Subscribe(context.Background(), c, func(*accessor.Accessor) int { return 0 })
	var cerr *gqlerr.CompileError
	require.ErrorAs(t, err, &cerr)
}

func TestRun_SubscriptionResolvesFirstEvent(t *testing.T) {
	c, _ := newTestClient(t, map[string]gqltest.Resolver{"Subscription.ticks": ticker(5, nil)})
	got, err := Run(context.Background(), c, func(r Roots) int { return ticks(r.Subscription) })
	require.NoError(t, err)
	require.Equal(t, 1, got)
}
