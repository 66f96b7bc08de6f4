// Package hub fans out combined-state updates to websocket subscribers.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	pingInterval   = 45 * time.Second
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// StateProvider returns the current full combined state. The hub calls it
// once per new subscriber so the first frame is always a complete snapshot.
type StateProvider func() ([]byte, error)

type client struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
}

// Hub tracks connected subscribers and pushes serialized state to all of
// them. Failed or slow subscribers are skipped within a publish and dropped
// when their connection errors.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	state   StateProvider
	logger  zerolog.Logger
}

// New constructs an empty hub.
func New(state StateProvider, logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		state:   state,
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Subscribers reports the current connection count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish serializes v once and enqueues it to every connected subscriber.
// A subscriber with a full buffer misses this message rather than stalling
// the rest.
func (h *Hub) Publish(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal broadcast payload")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.out <- payload:
		default:
		}
	}
}

// ServeWS upgrades the request and runs the subscriber until its connection
// closes. The full current state is enqueued before the client becomes
// eligible for broadcasts, so its first received frame is a complete
// snapshot.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	cl := &client{
		conn: conn,
		out:  make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	initial, err := h.state()
	if err != nil {
		h.logger.Error().Err(err).Msg("render initial state")
		return
	}

	h.mu.Lock()
	cl.out <- initial
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("subscriber connected")

	go cl.writeLoop()
	cl.readLoop()

	close(cl.done)
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()

	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("subscriber disconnected")
}

func (c *client) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case payload := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) readLoop() {
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
