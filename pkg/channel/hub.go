package channel

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"magentic/pkg/logx"
	"magentic/pkg/proto"
)

const (
	writeTimeout = 10 * time.Second
	// sendBuffer bounds the per-connection outbound queue; a slow consumer
	// that fills it gets dropped rather than stalling publishers.
	sendBuffer = 64
)

// Hub is a websocket fan-out keyed by user id. Each user may hold several
// connections; every published event for a user is written to all of them.
// Events for users with no connection are dropped.
type Hub struct {
	mu       sync.Mutex
	conns    map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *logx.Logger
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens before the upgrade; origin policy is the
			// reverse proxy's concern in this deployment.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logx.NewLogger("channel"),
	}
}

// ServeWS upgrades the request and attaches the connection to userID's
// stream until the peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade for user %s failed: %v", userID, err)
		return
	}

	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	h.attach(c)
	h.logger.Info("user %s connected", userID)

	go h.writeLoop(c)
	h.readLoop(c)
}

// Publish serializes the event and queues it to every connection of the
// event's user. Never blocks; full queues cause the connection to be
// dropped.
func (h *Hub) Publish(event *proto.Event) {
	data, err := event.ToJSON()
	if err != nil {
		h.logger.Error("failed to serialize event %s: %v", event.ID, err)
		return
	}

	// Queue under the lock so a concurrent drop cannot close a channel
	// mid-send. The sends are non-blocking, so holding the lock is cheap.
	h.mu.Lock()
	set := h.conns[event.UserID]
	if len(set) == 0 {
		h.mu.Unlock()
		h.logger.Debug("no listener for user %s, dropping %s event", event.UserID, event.Type)
		return
	}
	var slow []*client
	for c := range set {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("user %s consumer too slow, dropping connection", c.userID)
		h.drop(c)
	}
}

// ConnectionCount returns the number of live connections for userID.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// Close terminates every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*client, 0)
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		h.drop(c)
	}
}

func (h *Hub) attach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if set, ok := h.conns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

func (h *Hub) writeLoop(c *client) {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("write to user %s failed: %v", c.userID, err)
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames; the websocket is outbound-only (inbound
// operations arrive over the HTTP API). It exists to notice disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
