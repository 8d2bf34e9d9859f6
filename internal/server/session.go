package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remotectl/remotectl/internal/protocol"
)

// Connection keepalive tuning, shared with the relay client.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// session is the per-connection state for one controller. It is created
// on upgrade and destroyed when the read loop exits; the server only ever
// touches it through its own connection goroutine and the dispatch queue's
// writer goroutine.
type session struct {
	id     string
	remote string
	conn   *websocket.Conn

	mu            sync.Mutex // guards writes and the auth flag
	authenticated bool
	closed        bool
}

// authenticate marks the session authenticated. Returns false if it
// already was, letting callers treat repeat auth as a re-ack.
func (s *session) authenticate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := !s.authenticated
	s.authenticated = true
	return first
}

func (s *session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// sendResult writes a result envelope on the session's connection. Send
// failures are logged, not raised: by the time a write fails the read
// loop is already tearing the session down.
func (s *session) sendResult(res protocol.Result) {
	if err := s.write(websocket.TextMessage, protocol.Encode(res)); err != nil {
		log.Printf("[Server] %s: send failed: %v", s.id, err)
	}
}

func (s *session) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// reject sends an error envelope followed by a close frame with the given
// code, then closes the socket. Used for failed authentication; the
// socket must never stay open after a rejected token.
func (s *session) reject(res protocol.Result, closeCode int) {
	s.sendResult(res)
	msg := websocket.FormatCloseMessage(closeCode, res.Message)
	_ = s.write(websocket.CloseMessage, msg)
	s.close()
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.conn.Close()
}
