package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/recallbox/recallbox/internal/watch"
)

// SubscriberQueueCap bounds each subscriber's send queue. A subscriber whose
// queue overflows is dropped and must reconnect and refetch.
const SubscriberQueueCap = 256

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the same origin in the default setup;
	// cross-origin access is governed by the CORS config, so the upgrade
	// itself accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans change-bus events out to WebSocket subscribers.
type Hub struct {
	bus    *watch.Bus
	logger *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{} // closed when Run exits
}

type wsClient struct {
	conn *websocket.Conn
	send chan watch.Event
}

// NewHub wires the fan-out over the change bus.
func NewHub(bus *watch.Bus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run consumes the change bus until the context is cancelled. Each event is
// queued per subscriber; a full queue drops the subscriber rather than
// blocking the bus.
func (h *Hub) Run(ctx context.Context) {
	events, unsub := h.bus.Subscribe()
	defer unsub()
	defer close(h.done)

	clients := make(map[*wsClient]bool)
	closeClient := func(c *wsClient) {
		if clients[c] {
			delete(clients, c)
			close(c.send)
			wsSubscribers.Dec()
		}
	}

	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				closeClient(c)
			}
			return
		case c := <-h.register:
			clients[c] = true
			wsSubscribers.Inc()
		case c := <-h.unregister:
			closeClient(c)
		case ev, ok := <-events:
			if !ok {
				return
			}
			wsEventsTotal.Inc()
			for c := range clients {
				select {
				case c.send <- ev:
				default:
					h.logger.Warn("dropping slow websocket subscriber")
					wsDroppedTotal.Inc()
					closeClient(c)
				}
			}
		}
	}
}

// ServeHTTP upgrades the connection and attaches it to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan watch.Event, SubscriberQueueCap)}
	// A hub that has already stopped will never drain register; refuse the
	// connection instead of parking the handler goroutine forever.
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
