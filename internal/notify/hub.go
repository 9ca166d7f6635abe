// Package notify pushes container exit events to connected websocket
// subscribers. Delivery is at most once: a subscriber that connects after an
// event was published never sees it, and a subscriber whose write fails is
// dropped.
package notify

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"recommerce"
	"recommerce/internal/metrics"
)

const writeTimeout = 10 * time.Second

// Conn is a subscriber connection.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type subscriber struct {
	mu   sync.Mutex
	conn Conn
}

type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	metrics *metrics.Metrics
	log     *slog.Logger

	upgrader websocket.Upgrader
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		metrics: m,
		log:     slog.With("component", "notify"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Subscribe adds conn to the subscriber set. The returned func removes it.
func (h *Hub) Subscribe(conn Conn) func() {
	s := &subscriber{conn: conn}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetSubscribers(n)
	return func() { h.drop(s) }
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.SetSubscribers(n)
	_ = s.conn.Close()
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish sends ev to every current subscriber.
func (h *Hub) Publish(ev recommerce.ExitEvent) {
	h.mu.Lock()
	snapshot := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	for _, s := range snapshot {
		s.mu.Lock()
		err := s.conn.WriteJSON(ev)
		s.mu.Unlock()
		if err != nil {
			h.log.Debug("dropping subscriber", "err", err)
			h.drop(s)
		}
	}
}

// ServeHTTP upgrades the request to a websocket and keeps it subscribed until
// the peer goes away. Messages from the peer are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	unsubscribe := h.Subscribe(&deadlineConn{Conn: ws})
	defer unsubscribe()

	for {
		if _, _, err := ws.NextReader(); err != nil {
			return
		}
	}
}

// deadlineConn bounds each write so a stalled peer cannot hold up a publish.
type deadlineConn struct {
	*websocket.Conn
}

func (c *deadlineConn) WriteJSON(v any) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Conn.WriteJSON(v)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	snapshot := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()
	for _, s := range snapshot {
		h.drop(s)
	}
}
