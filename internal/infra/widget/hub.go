package widget

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19stream/internal/app/notification"
)

// ErrHubStopped is returned by Send once Run has exited.
var ErrHubStopped = errors.New("widget: hub stopped")

const clientBuffer = 16

// InitialFunc returns the state sent to an observer right after it connects.
type InitialFunc func(ctx context.Context) (any, error)

// Hub fans notifications out to observer connections.
// It implements notification.Stream and is subscribed once to the notification manager.
type Hub struct {
	upgrader websocket.Upgrader
	initial  InitialFunc

	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      atomic.Int32
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub accepting observers from allowedOrigins.
// initial may be nil.
func NewHub(allowedOrigins []string, initial InitialFunc) *Hub {
	return &Hub{
		upgrader:   newUpgrader(allowedOrigins),
		initial:    initial,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run serves register, unregister and broadcast requests until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					zlog.Debug().Msgf("widget: observer too slow, dropping: id=%s", c.id)
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	h.count.Add(-1)
	close(c.send)
}

// Clients returns the number of registered observers.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Send implements notification.Stream.
func (h *Hub) Send(n *notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "widget: marshal notification")
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// ServeHTTP upgrades an observer connection and registers it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("widget: observer upgrade failed: remote=%s error=%v", r.RemoteAddr, err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	if h.initial != nil {
		if b, err := h.initialMessage(r.Context()); err == nil {
			c.send <- b
		} else {
			zlog.Warn().Msgf("widget: initial state unavailable: id=%s error=%v", c.id, err)
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	zlog.Debug().Msgf("widget: observer connected: id=%s remote=%s", c.id, r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) initialMessage(ctx context.Context) ([]byte, error) {
	state, err := h.initial(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&notification.Notification{
		Reason:    "initial",
		Timestamp: time.Now(),
		State:     state,
	})
}

// readPump discards inbound frames and unregisters the client when the peer goes away.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
