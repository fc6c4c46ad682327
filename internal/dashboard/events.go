package dashboard

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lincsquery/logger"
)

// Event is one lifecycle notification pushed to dashboard websocket clients.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Gene      string                 `json:"gene,omitempty"`
	Direction string                 `json:"direction,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Event types published over /ws/events.
const (
	EventQueryStarted  = "query_started"
	EventQueryRetry    = "query_retry"
	EventQueryFinished = "query_finished"
	EventQueryFailed   = "query_failed"
	EventExport        = "export"
	EventMetric        = "metric"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// eventHub fans events out to connected websocket clients. Slow consumers
// lose events instead of stalling the publisher.
type eventHub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
	log     *logger.Log

	sent    int64
	dropped int64
}

type hubClient struct {
	conn *websocket.Conn
	send chan Event
}

func newEventHub(log *logger.Log) *eventHub {
	return &eventHub{
		clients: make(map[*hubClient]struct{}),
		log:     log,
	}
}

func (h *eventHub) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- ev:
			atomic.AddInt64(&h.sent, 1)
		default:
			atomic.AddInt64(&h.dropped, 1)
		}
	}
}

func (h *eventHub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister removes the client and closes its send channel. Removal and
// close share one critical section so publish never races a closed channel.
func (h *eventHub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *eventHub) stats() (clients int, sent, dropped int64) {
	h.mu.RLock()
	clients = len(h.clients)
	h.mu.RUnlock()
	return clients, atomic.LoadInt64(&h.sent), atomic.LoadInt64(&h.dropped)
}

func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("dashboard").WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &hubClient{conn: conn, send: make(chan Event, eventBuffer)}
	if !h.register(client) {
		conn.Close()
		return
	}

	h.log.WithComponent("dashboard").WithFields(logger.Fields{
		"remote": conn.RemoteAddr().String(),
	}).Debug("websocket client connected")

	go h.writePump(client)
	go h.readPump(client)
}

func (h *eventHub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump drains client frames so close handshakes and pongs are processed.
// The dashboard never acts on inbound messages.
func (h *eventHub) readPump(c *hubClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
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
