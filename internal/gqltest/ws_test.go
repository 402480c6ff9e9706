package gqltest

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/kleberbaum/gqty/internal/transport"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.WebsocketHandler())
	t.Cleanup(ts.Close)
	d := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	wc, resp, err := d.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	require.Equal(t, Subprotocol, resp.Header.Get("Sec-Websocket-Protocol"))
	t.Cleanup(func() { wc.Close() })
	return wc
}

func send(t *testing.T, wc *websocket.Conn, m wsMessage) {
	t.Helper()
	require.NoError(t, wc.WriteJSON(m))
}

func recv(t *testing.T, wc *websocket.Conn) wsMessage {
	t.Helper()
	var m wsMessage
	require.NoError(t, wc.ReadJSON(&m))
	return m
}

func subscribeMessage(t *testing.T, id, query string) wsMessage {
	t.Helper()
	b, err := json.Marshal(transport.QueryPayload{Query: query})
	require.NoError(t, err)
	return wsMessage{ID: id, Type: "subscribe", Payload: b}
}

func ticks(n int) Resolver {
	return func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		ch := make(chan any)
		go func() {
			defer close(ch)
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

func TestWebsocket_Subscription(t *testing.T) {
	tokens := make(chan []string, 1)
	s := newTestServer(t, map[string]Resolver{
		"Subscription.ticks": func(ctx context.Context, src any, args map[string]any) (any, error) {
			tokens <- Metadata(ctx).Get("init-token")
			return ticks(2)(ctx, src, args)
		},
	})
	wc := dial(t, s)

	send(t, wc, wsMessage{Type: "connection_init", Payload: json.RawMessage(`{"token":"abc"}`)})
	require.Equal(t, "connection_ack", recv(t, wc).Type)

	send(t, wc, subscribeMessage(t, "1", "subscription { ticks }"))
	for _, want := range []float64{1, 2} {
		m := recv(t, wc)
		require.Equal(t, "next", m.Type)
		require.Equal(t, "1", m.ID)
		var resp transport.Response
		require.NoError(t, json.Unmarshal(m.Payload, &resp))
		require.Equal(t, want, resp.Data["ticks"])
	}
	m := recv(t, wc)
	require.Equal(t, "complete", m.Type)
	require.Equal(t, "1", m.ID)
	require.Equal(t, []string{"abc"}, <-tokens)
}

func TestWebsocket_QueryOverSubscribe(t *testing.T) {
	s := newTestServer(t, nil)
	wc := dial(t, s)
	send(t, wc, wsMessage{Type: "connection_init"})
	recv(t, wc)

	send(t, wc, subscribeMessage(t, "q", "{ hello }"))
	m := recv(t, wc)
	require.Equal(t, "next", m.Type)
	require.JSONEq(t, `{"data":{"hello":"hello world"}}`, string(m.Payload))
	require.Equal(t, "complete", recv(t, wc).Type)
}

func TestWebsocket_PingPong(t *testing.T) {
	wc := dial(t, newTestServer(t, nil))
	send(t, wc, wsMessage{Type: "ping"})
	require.Equal(t, "pong", recv(t, wc).Type)
}

func TestWebsocket_ClientComplete(t *testing.T) {
	cancelled := make(chan struct{})
	s := newTestServer(t, map[string]Resolver{
		"Subscription.ticks": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			ch := make(chan any, 1)
			ch <- 1
			go func() {
				<-ctx.Done()
				close(cancelled)
			}()
			return ch, nil
		},
	})
	wc := dial(t, s)
	send(t, wc, wsMessage{Type: "connection_init"})
	recv(t, wc)

	send(t, wc, subscribeMessage(t, "1", "subscription { ticks }"))
	require.Equal(t, "next", recv(t, wc).Type)
	send(t, wc, wsMessage{ID: "1", Type: "complete"})
	<-cancelled
}

func TestWebsocket_SubscribeBeforeInit(t *testing.T) {
	wc := dial(t, newTestServer(t, nil))
	send(t, wc, subscribeMessage(t, "1", "subscription { ticks }"))
	_, _, err := wc.ReadMessage()
	require.True(t, websocket.IsCloseError(err, 4401), "got %v", err)
}
