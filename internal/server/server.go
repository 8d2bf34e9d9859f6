// Package server implements the listening transport: controllers dial into
// the device over websocket, authenticate with the shared token, and issue
// commands that are dispatched concurrently with per-connection response
// ordering preserved.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/remotectl/remotectl/internal/dispatch"
	"github.com/remotectl/remotectl/internal/protocol"
)

// Config holds the listening manager's configuration. The host layer owns
// where these values come from; the server only consumes them.
type Config struct {
	// Port to listen on.
	Port int

	// Token is the shared authentication secret.
	Token string

	// BindAddress defaults to all interfaces, since controllers dial in
	// from elsewhere on the network.
	BindAddress string
}

// Server accepts many concurrent controller connections and multiplexes
// command dispatch across them.
type Server struct {
	config     Config
	dispatcher *dispatch.Dispatcher

	httpServer *http.Server
	upgrader   websocket.Upgrader

	sessions  sync.Map // session id -> *session
	authCount atomic.Int64

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a listening server over the given dispatcher.
func New(config Config, dispatcher *dispatch.Dispatcher) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The protocol runs on a trusted network; the token check is
			// the only gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins accepting connections. It returns once the listener is up.
func (s *Server) Start() error {
	s.shutdownMu.Lock()
	if s.shutdown {
		s.shutdownMu.Unlock()
		return errors.New("server already shut down")
	}
	s.shutdownMu.Unlock()

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			log.Printf("[Server] listener error: %v", err)
		}
	}()

	// Give a bad bind a moment to surface so callers get a real error
	// instead of a silently dead server.
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}

	log.Printf("[Server] listening on %s", addr)
	return nil
}

// Stop abruptly shuts the server down: all sockets are closed and in-flight
// dispatch tasks are canceled without waiting for capability calls to
// finish. A second call is a no-op.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	if s.shutdown {
		s.shutdownMu.Unlock()
		return
	}
	s.shutdown = true
	s.shutdownMu.Unlock()

	s.cancel()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(ctx)
	}

	s.sessions.Range(func(_, value any) bool {
		value.(*session).close()
		return true
	})

	s.wg.Wait()
	log.Printf("[Server] stopped")
}

// ConnectionCount returns the number of live authenticated sessions.
func (s *Server) ConnectionCount() int64 {
	return s.authCount.Load()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.ConnectionCount(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	sess := &session{
		id:     uuid.NewString(),
		remote: r.RemoteAddr,
		conn:   conn,
	}

	// A token presented at the handshake authenticates immediately. A
	// wrong token closes the socket with the unauthorized code; no token
	// leaves the session open but unauthenticated until an auth message
	// arrives.
	if token, present := handshakeToken(r); present {
		if !s.tokenMatches(token) {
			log.Printf("[Server] %s: rejected, bad handshake token", r.RemoteAddr)
			sess.reject(protocol.Error("invalid auth token"), protocol.CloseUnauthorized)
			return
		}
		s.markAuthenticated(sess)
		sess.sendResult(protocol.OKMessage("authenticated"))
	}

	s.sessions.Store(sess.id, sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveSession(sess)
	}()
}

// serveSession owns the session's read loop and keepalive, and tears the
// session down when either ends.
func (s *Server) serveSession(sess *session) {
	queue := dispatch.NewQueue(s.ctx, sess.sendResult)
	done := make(chan struct{})

	defer func() {
		close(done)
		queue.Close()
		sess.close()
		s.sessions.Delete(sess.id)
		if sess.isAuthenticated() {
			s.authCount.Add(-1)
		}
		log.Printf("[Server] %s disconnected (%s)", sess.id, sess.remote)
	}()

	go s.keepalive(sess, done)

	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	log.Printf("[Server] %s connected (%s)", sess.id, sess.remote)

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Server] %s: read error: %v", sess.id, err)
			}
			return
		}
		if closed := s.handleFrame(sess, queue, raw); closed {
			return
		}
	}
}

// handleFrame routes one inbound frame. All responses, including decode
// and auth-state errors, flow through the queue so they stay ordered with
// respect to real command results. Returns true when the frame ended the
// connection (failed auth).
func (s *Server) handleFrame(sess *session, queue *dispatch.Queue, raw []byte) bool {
	cmd, event, err := protocol.Decode(raw)
	if err != nil {
		queue.Submit(func(context.Context) protocol.Result {
			return protocol.Error("invalid JSON")
		})
		return false
	}
	if event != nil {
		// Control events are a relay concern; observed here, never answered.
		log.Printf("[Server] %s: ignoring event %q", sess.id, event.Name)
		return false
	}

	if cmd.Action == protocol.ActionAuth {
		return s.handleAuth(sess, queue, cmd)
	}

	if !sess.isAuthenticated() {
		id := cmd.ID
		queue.Submit(func(context.Context) protocol.Result {
			return protocol.Error("not authenticated").WithID(id)
		})
		return false
	}

	s.submit(queue, cmd)
	return false
}

// handleAuth processes a message-level authentication attempt. Repeat
// valid attempts just re-acknowledge. Returns true when the connection
// was closed (bad token).
func (s *Server) handleAuth(sess *session, queue *dispatch.Queue, cmd *protocol.Command) bool {
	token, ok := cmd.String("token")
	if !ok {
		id := cmd.ID
		queue.Submit(func(context.Context) protocol.Result {
			return protocol.Error("missing token").WithID(id)
		})
		return false
	}
	if !s.tokenMatches(token) {
		log.Printf("[Server] %s: rejected, bad auth token", sess.remote)
		sess.reject(protocol.Error("invalid auth token").WithID(cmd.ID), protocol.CloseUnauthorized)
		return true
	}
	s.markAuthenticated(sess)
	id := cmd.ID
	queue.Submit(func(context.Context) protocol.Result {
		return protocol.OKMessage("authenticated").WithID(id)
	})
	return false
}

// submit schedules a command for dispatch, echoing its id on the result.
func (s *Server) submit(queue *dispatch.Queue, cmd *protocol.Command) {
	queue.Submit(func(ctx context.Context) protocol.Result {
		return s.dispatcher.Dispatch(ctx, cmd).WithID(cmd.ID)
	})
}

func (s *Server) markAuthenticated(sess *session) {
	if sess.authenticate() {
		s.authCount.Add(1)
	}
}

func (s *Server) tokenMatches(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) == 1
}

func (s *Server) keepalive(sess *session, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sess.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// handshakeToken extracts the auth token from an upgrade request: a
// bearer-style Authorization header or a token query parameter. The
// second return reports whether any token was presented at all.
func handshakeToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")), true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}
