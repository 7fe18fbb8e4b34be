package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"voiceai/internal/application"
	"voiceai/internal/domain"
)

// Hub fans assistant events out to connected websocket clients. It
// implements application.EventPublisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan application.Event
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "remote", c.remote)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "remote", c.remote)
}

// Publish sends event to every client. Clients with a full buffer miss it.
func (h *Hub) Publish(event application.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			h.logger.Warn("client send buffer full, dropping event", "remote", c.remote, "type", event.Type)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// FollowUsage publishes the newest record of every usage snapshot after the
// first, until updates is closed.
func (h *Hub) FollowUsage(updates <-chan []domain.UsageRecord) {
	first := true
	for records := range updates {
		if first {
			first = false
			continue
		}
		if len(records) == 0 {
			continue
		}
		latest := records[0]
		h.Publish(application.Event{
			Type:      application.EventUsage,
			Usage:     &latest,
			Timestamp: latest.Time(),
		})
	}
}

// serveWS upgrades to a websocket. Cross-origin browser requests are refused
// unless their host matches one of origins.
func (h *Hub) serveWS(origins []string) http.HandlerFunc {
	opts := &websocket.AcceptOptions{OriginPatterns: origins}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			h.logger.Warn("websocket accept failed", "error", err, "origin", r.Header.Get("Origin"))
			return
		}

		c := &client{
			conn:   conn,
			remote: r.RemoteAddr,
			send:   make(chan application.Event, 64),
			logger: h.logger,
		}
		h.register(c)

		ctx := r.Context()
		done := make(chan struct{})
		go func() {
			c.writePump(ctx)
			close(done)
		}()

		c.readPump(ctx)

		h.unregister(c)
		conn.Close(websocket.StatusNormalClosure, "")
		<-done
	}
}

func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c.conn, event)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

// readPump drains client frames until the connection closes.
func (c *client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
