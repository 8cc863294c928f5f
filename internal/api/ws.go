package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/metrics"
	"github.com/JakeFAU/docsort/internal/progress"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 512
	sendBuffer     = 64
)

var (
	errSessionClosed = errors.New("session closed")
	errSessionFull   = errors.New("session send buffer full")
)

// progressSocket upgrades GET /ws/{project_id} and registers the connection
// on the progress channel until the peer goes away.
func (s *Server) progressSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	if s.deps.Channel == nil {
		writeError(w, http.StatusServiceUnavailable, "progress channel unavailable")
		return
	}
	// The session is registered before the handshake; frames published before
	// the writer starts wait in its queue.
	sess := newWSSession(nil, s.logger.With(zap.Int64("project_id", id)))
	sub, err := s.deps.Channel.Connect(id, sess)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "progress channel closed")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Channel.Disconnect(sub)
		s.logger.Warn("websocket upgrade failed", zap.Int64("project_id", id), zap.Error(err))
		return
	}
	sess.conn = conn
	metrics.SessionOpened()
	defer metrics.SessionClosed()

	go sess.writePump()
	sess.readPump()

	s.deps.Channel.Disconnect(sub)
	_ = sess.Close()
}

// wsSession adapts a websocket connection to progress.Session. Send queues
// frames for a single writer goroutine so a slow peer never blocks Publish.
type wsSession struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *zap.Logger

	// mu orders enqueues against Close: no frame is queued once done is closed.
	mu     sync.Mutex
	closed bool
}

func newWSSession(conn *websocket.Conn, logger *zap.Logger) *wsSession {
	return &wsSession{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send implements progress.Session.
func (s *wsSession) Send(_ context.Context, evt progress.Event) error {
	payload, err := evt.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return errSessionFull
	}
}

// Close implements progress.Session. It is idempotent; the writer flushes
// queued frames and then sends a close frame.
func (s *wsSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *wsSession) readPump() {
	s.conn.SetReadLimit(maxClientFrame)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				_ = s.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = s.Close()
				return
			}
		case <-s.done:
			s.flush()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *wsSession) flush() {
	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *wsSession) write(msg []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
