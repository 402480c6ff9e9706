package gqltest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/transport"
	"google.golang.org/grpc/metadata"
)

// Subprotocol is the websocket subprotocol spoken by WebsocketHandler.
const Subprotocol = "graphql-transport-ws"

const writeTimeout = 10 * time.Second

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WebsocketHandler serves s over the graphql-transport-ws protocol. String
// values of the connection_init payload reach resolvers as incoming metadata
// prefixed with "init-".
func (s *Server) WebsocketHandler() http.Handler {
	upgr := &websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc, err := upgr.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		c := &wsConn{
			srv:  s,
			wc:   wc,
			send: make(chan wsMessage, 32),
			subs: make(map[string]transport.Stream),
		}
		go c.write(ctx)
		c.read(ctx)
	})
}

type wsConn struct {
	srv  *Server
	wc   *websocket.Conn
	send chan wsMessage
	md   metadata.MD

	mu   sync.Mutex
	subs map[string]transport.Stream
}

func (c *wsConn) read(ctx context.Context) {
	defer c.closeAll()
	acked := false
	for {
		var m wsMessage
		if err := c.wc.ReadJSON(&m); err != nil {
			return
		}
		switch m.Type {
		case "connection_init":
			if acked {
				c.closeWith(4429, "Too many initialisation requests")
				return
			}
			acked = true
			c.md = initMetadata(m.Payload)
			c.post(ctx, wsMessage{Type: "connection_ack"})
		case "ping":
			c.post(ctx, wsMessage{Type: "pong"})
		case "pong":
		case "subscribe":
			if !acked {
				c.closeWith(4401, "Unauthorized")
				return
			}
			if !c.subscribe(ctx, m) {
				return
			}
		case "complete":
			c.stop(m.ID)
		default:
			c.closeWith(4400, "Invalid message received")
			return
		}
	}
}

func (c *wsConn) subscribe(ctx context.Context, m wsMessage) bool {
	var payload transport.QueryPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil || m.ID == "" {
		c.closeWith(4400, "Invalid message received")
		return false
	}
	c.mu.Lock()
	if _, dup := c.subs[m.ID]; dup {
		c.mu.Unlock()
		c.closeWith(4409, "Subscriber for "+m.ID+" already exists")
		return false
	}
	c.subs[m.ID] = nil
	c.mu.Unlock()

	sctx := metadata.NewIncomingContext(ctx, c.md)
	stream, err := c.srv.subscribe(incoming(sctx, payload), payload, 0)
	if err != nil {
		c.forget(m.ID)
		b, _ := json.Marshal([]gqlerr.GraphQLError{{Message: err.Error()}})
		c.post(ctx, wsMessage{ID: m.ID, Type: "error", Payload: b})
		return true
	}
	c.mu.Lock()
	c.subs[m.ID] = stream
	c.mu.Unlock()
	go c.forward(ctx, m.ID, stream)
	return true
}

func (c *wsConn) forward(ctx context.Context, id string, stream transport.Stream) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if c.forget(id) && errors.Is(err, io.EOF) {
				c.post(ctx, wsMessage{ID: id, Type: "complete"})
			}
			return
		}
		b, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		c.post(ctx, wsMessage{ID: id, Type: "next", Payload: b})
	}
}

// forget drops id and reports whether it was still registered.
func (c *wsConn) forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	return ok
}

func (c *wsConn) stop(id string) {
	c.mu.Lock()
	stream := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

func (c *wsConn) closeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]transport.Stream)
	c.mu.Unlock()
	for _, s := range subs {
		if s != nil {
			s.Close()
		}
	}
}

func (c *wsConn) post(ctx context.Context, m wsMessage) {
	select {
	case c.send <- m:
	case <-ctx.Done():
	}
}

func (c *wsConn) write(ctx context.Context) {
	defer c.wc.Close()
	for {
		select {
		case m := <-c.send:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteJSON(m); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *wsConn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.wc.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func initMetadata(raw json.RawMessage) metadata.MD {
	md := metadata.MD{}
	var payload map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &payload) != nil {
		return md
	}
	for k, v := range payload {
		if s, ok := v.(string); ok {
			md.Set("init-"+k, s)
		}
	}
	return md
}
