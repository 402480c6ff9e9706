package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/selection"
	"github.com/kleberbaum/gqty/internal/transport"
	"github.com/stretchr/testify/require"
)

type subscription struct {
	payloads chan transport.QueryPayload
	streams  chan *transport.ChanStream
	closed   chan struct{}
}

func newSubscription() *subscription {
	return &subscription{
		payloads: make(chan transport.QueryPayload, 4),
		streams:  make(chan *transport.ChanStream, 4),
		closed:   make(chan struct{}, 4),
	}
}

func (s *subscription) Subscribe(_ context.Context, payload transport.QueryPayload, _ transport.FetchOptions) (transport.Stream, error) {
	st := transport.NewChanStream(0, func() { s.closed <- struct{}{} })
	s.payloads <- payload
	s.streams <- st
	return st, nil
}

func subRequest(table *selection.Table, policy cache.Policy, key string) (Request, *selection.Selection) {
	sel := table.Root(selection.Subscription).MustChild(key)
	return Request{
		Kind:       selection.Subscription,
		Selections: selection.NewSet(sel),
		Policy:     policy,
	}, sel
}

func recvEvent(t *testing.T, s *Stream) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "stream ended")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestSubscribe_MergesEveryEvent(t *testing.T) {
	sub := newSubscription()
	h := newHarness(t, data(nil), nil, WithSubscriber(sub))
	req, sel := subRequest(h.table, cache.Default, "onMessage")

	s, err := h.r.Subscribe(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "subscription{onMessage}", (<-sub.payloads).Query)
	src := <-sub.streams

	for _, msg := range []string{"hi", "there"} {
		go src.Send(&transport.Response{Data: map[string]any{"onMessage": msg}})
		ev := recvEvent(t, s)
		require.NoError(t, ev.Err)
		require.Same(t, h.cache, ev.Cache)
		v, ok := ev.Cache.Get(sel.CacheKeys())
		require.True(t, ok)
		require.Equal(t, msg, v)
	}

	go src.Send(&transport.Response{Errors: []gqlerr.GraphQLError{{Message: "bad event"}}})
	ev := recvEvent(t, s)
	require.EqualError(t, ev.Err, "bad event")

	src.Finish(nil)
	_, ok := <-s.Events()
	require.False(t, ok)
	require.NoError(t, s.Err())
	require.NoError(t, s.Close())
}

func TestSubscribe_CloseUnsubscribesAndStopsMerging(t *testing.T) {
	sub := newSubscription()
	h := newHarness(t, data(nil), nil, WithSubscriber(sub))
	req, sel := subRequest(h.table, cache.Default, "onMessage")
	h.table.Remember(selection.NewSet(sel))
	root := h.table.Root(selection.Subscription)
	require.Len(t, h.table.Known(root), 1)

	s, err := h.r.Subscribe(context.Background(), req)
	require.NoError(t, err)
	src := <-sub.streams

	require.NoError(t, s.Close())
	select {
	case <-sub.closed:
	case <-time.After(time.Second):
		t.Fatal("transport stream was not closed")
	}
	require.False(t, src.Send(&transport.Response{Data: map[string]any{"onMessage": "late"}}))

	_, ok := <-s.Events()
	require.False(t, ok)
	_, ok = h.cache.Get(sel.CacheKeys())
	require.False(t, ok)
	require.Empty(t, h.table.Known(root))
}

func TestSubscribe_NoStoreMergesPrivately(t *testing.T) {
	sub := newSubscription()
	h := newHarness(t, data(nil), nil, WithSubscriber(sub))
	req, sel := subRequest(h.table, cache.NoStore, "onMessage")

	s, err := h.r.Subscribe(context.Background(), req)
	require.NoError(t, err)
	defer s.Close()
	src := <-sub.streams

	go src.Send(&transport.Response{Data: map[string]any{"onMessage": "private"}})
	ev := recvEvent(t, s)
	require.NotSame(t, h.cache, ev.Cache)
	v, _ := ev.Cache.Get(sel.CacheKeys())
	require.Equal(t, "private", v)
	_, ok := h.cache.Get(sel.CacheKeys())
	require.False(t, ok)
}

func TestSubscribe_TransportFailureEndsStream(t *testing.T) {
	sub := newSubscription()
	h := newHarness(t, data(nil), nil, WithSubscriber(sub))
	req, _ := subRequest(h.table, cache.Default, "onMessage")

	s, err := h.r.Subscribe(context.Background(), req)
	require.NoError(t, err)
	src := <-sub.streams

	dropped := errors.New("dropped")
	src.Finish(dropped)
	ev := recvEvent(t, s)
	var ne *gqlerr.NetworkError
	require.ErrorAs(t, ev.Err, &ne)
	require.ErrorIs(t, ev.Err, dropped)

	_, ok := <-s.Events()
	require.False(t, ok)
	require.ErrorIs(t, s.Err(), dropped)
}

func TestSubscribe_RetriesConnect(t *testing.T) {
	sub := newSubscription()
	calls := 0
	flaky := transport.SubscribeFunc(func(ctx context.Context, payload transport.QueryPayload, opts transport.FetchOptions) (transport.Stream, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("refused")
		}
		return sub.Subscribe(ctx, payload, opts)
	})
	h := newHarness(t, data(nil), nil, WithSubscriber(flaky),
		WithRetry(RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}))
	req, _ := subRequest(h.table, cache.Default, "onMessage")

	s, err := h.r.Subscribe(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.NoError(t, s.Close())
}

func TestSubscribe_RequiresSubscriber(t *testing.T) {
	h := newHarness(t, data(nil), nil)
	req, _ := subRequest(h.table, cache.Default, "onMessage")

	_, err := h.r.Subscribe(context.Background(), req)
	require.ErrorIs(t, err, ErrNoSubscriber)

	req.Selections = selection.NewSet()
	_, err = h.r.Subscribe(context.Background(), req)
	var ce *gqlerr.CompileError
	require.ErrorAs(t, err, &ce)
}

func TestResolve_SubscriptionReturnsFirstEvent(t *testing.T) {
	sub := newSubscription()
	h := newHarness(t, data(nil), nil, WithSubscriber(sub))
	req, sel := subRequest(h.table, cache.Default, "onMessage")

	go func() {
		src := <-sub.streams
		src.Send(&transport.Response{Data: map[string]any{"onMessage": "first"}})
	}()
	res, err := h.r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Fetched)
	v, _ := res.Cache.Get(sel.CacheKeys())
	require.Equal(t, "first", v)

	select {
	case <-sub.closed:
	case <-time.After(time.Second):
		t.Fatal("one-shot subscription was not closed")
	}
}
