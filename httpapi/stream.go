// Package httpapi - stream.go
//
// This file implements the websocket event stream. Connected clients receive
// a JSON envelope for every state transition and routed plugin error, pushed
// through a hub so a slow client never blocks dispatch.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/codetalcott/fixiplug/hooks"
)

const (
	// writeWait bounds one websocket write.
	writeWait = 10 * time.Second

	// sendBuffer is the per-client outbound queue; a client that falls this
	// far behind is dropped.
	sendBuffer = 64

	// streamPriority keeps the stream observers behind functional handlers.
	streamPriority = -950
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream carries introspection data only; origin policy is left to
	// the deployment's proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage is the envelope pushed to websocket clients.
type StreamMessage struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Hook      string         `json:"hook"`
	Payload   map[string]any `json:"payload"`
}

// Hub fans events out to connected websocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan StreamMessage
	register   chan *client
	unregister chan *client
	log        zerolog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan StreamMessage
}

// NewHub creates an empty hub; call Run on its own goroutine.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan StreamMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		log:        log,
	}
}

// Run owns the client set. It loops until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug().Int("clients", len(h.clients)).Msg("stream client connected")
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Client too slow; drop it.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast queues one message for every connected client. It never blocks
// dispatch: when the hub itself is saturated the message is dropped.
func (h *Hub) Broadcast(hook string, payload hooks.Event) {
	msg := StreamMessage{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		Hook:      hook,
		Payload:   streamPayload(payload),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn().Str("hook", hook).Msg("stream hub saturated, event dropped")
	}
}

// streamPayload copies an event, flattening error values to strings so the
// envelope always marshals.
func streamPayload(event hooks.Event) map[string]any {
	payload := make(map[string]any, len(event))
	for key, value := range event {
		if err, ok := value.(error); ok {
			payload[key] = err.Error()
			continue
		}
		payload[key] = value
	}
	return payload
}

// StreamPlugin registers the hub's observers as the "http-stream" plugin.
func StreamPlugin(hub *Hub) *hooks.Plugin {
	return &hooks.Plugin{
		Name: "http-stream",
		Setup: func(ctx *hooks.Ctx) error {
			ctx.On("state:transition", func(_ context.Context, event hooks.Event) (any, error) {
				hub.Broadcast("state:transition", event)
				return nil, nil
			}, streamPriority)
			ctx.On(hooks.HookPluginError, func(_ context.Context, event hooks.Event) (any, error) {
				hub.Broadcast(hooks.HookPluginError, event)
				return nil, nil
			}, streamPriority)
			return nil
		},
	}
}

// events upgrades the request and attaches the client to the hub.
func (s *Server) events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	cl := &client{conn: conn, send: make(chan StreamMessage, sendBuffer)}
	s.hub.register <- cl

	go cl.writePump()
	go cl.readPump(s.hub)
}

// writePump drains the client's queue onto the wire.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound frames and detaches the client on close.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
