package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/walkie/pkg/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsConn adapts a gorilla WebSocket to hub.Conn. Messages are queued on
// send and written by a single writePump goroutine; the queue is never
// closed, so Send cannot panic after Close.
type wsConn struct {
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Send queues msg without blocking.
func (c *wsConn) Send(msg []byte) error {
	if c.closed.Load() {
		return hub.ErrConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return hub.ErrSendBufferFull
	}
}

// Close stops the writer after it flushes what is already queued.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

// Closed reports whether Close has been called.
func (c *wsConn) Closed() bool {
	return c.closed.Load()
}

func (c *wsConn) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsConn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// handleWS upgrades the request and runs the connection's read loop on the
// handler goroutine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	conn := newWSConn(ws, s.cfg.SendBuffer)
	id := uuid.NewString()
	sess := s.hub.NewSession(conn, id)
	s.logger.Debug("websocket connected", "conn", id, "remote", r.RemoteAddr)

	go conn.writePump()
	s.readPump(conn, sess)
}

func (s *Server) readPump(conn *wsConn, sess *hub.Session) {
	defer sess.Close()

	conn.ws.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !conn.Closed() {
				s.logger.Debug("websocket read failed", "conn", sess.ID(), "err", err)
			}
			return
		}
		sess.HandleMessage(data)
	}
}
