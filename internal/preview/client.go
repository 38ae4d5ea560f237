package preview

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/handoff"
)

// client is one WebSocket viewer. Each viewer has its own latest-wins slot,
// so a slow viewer skips thumbnails instead of delaying the others.
type client struct {
	conn *websocket.Conn
	slot handoff.Slot[[]byte]
	wake chan struct{}
	done chan struct{}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("preview: websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	addr := conn.RemoteAddr().String()
	slog.Info("preview: client connected", "remote", addr)

	// Newest thumbnail first so the viewer is not blank until the next one
	if jpg := s.latest.Load(); jpg != nil {
		c.offer(*jpg)
	}

	go c.writeLoop()
	c.readLoop()

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	close(c.done)
	conn.Close()

	slog.Info("preview: client disconnected", "remote", addr)
}

func (c *client) offer(jpg []byte) {
	c.slot.Publish(&jpg)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// readLoop discards incoming messages until the peer goes away.
func (c *client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		jpg, ok := c.slot.TryDrain()
		if !ok {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, *jpg); err != nil {
			slog.Debug("preview: write failed", "error", err)
			c.conn.Close()
			return
		}
	}
}

func (s *Server) broadcast(jpg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.offer(jpg)
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
}
