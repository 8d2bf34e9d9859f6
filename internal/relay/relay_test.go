package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotectl/remotectl/internal/capability"
	"github.com/remotectl/remotectl/internal/dispatch"
	"github.com/remotectl/remotectl/internal/protocol"
)

type okInjector struct{}

func (okInjector) Available() bool { return true }

func (okInjector) Tap(context.Context, float64, float64) error { return nil }

func (okInjector) Swipe(_ context.Context, _, _, _, _ float64, _ int) error { return nil }

func (okInjector) TypeText(context.Context, string) error { return nil }

func (okInjector) Global(context.Context, capability.GlobalAction) error { return nil }

func (okInjector) Scroll(context.Context, string) error { return nil }

// fakeRelay is a websocket endpoint standing in for the relay service.
type fakeRelay struct {
	ts       *httptest.Server
	upgrader websocket.Upgrader

	conns   chan *websocket.Conn
	queries chan url.Values
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{
		conns:   make(chan *websocket.Conn, 8),
		queries: make(chan url.Values, 8),
	}
	f.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.queries <- r.URL.Query()
		f.conns <- conn
	}))
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http")
}

func (f *fakeRelay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no relay connection arrived")
		return nil
	}
}

func (f *fakeRelay) acceptNone(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case <-f.conns:
		t.Fatal("unexpected relay connection")
	case <-time.After(window):
	}
}

func readResult(t *testing.T, conn *websocket.Conn) protocol.Result {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var res protocol.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	return res
}

func newClient(f *fakeRelay, cfg Config) *Client {
	cfg.URL = f.url()
	if cfg.Token == "" {
		cfg.Token = "relay-secret"
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 50 * time.Millisecond
	}
	return New(cfg, dispatch.New(okInjector{}, nil))
}

func TestDialCarriesTokenAndRole(t *testing.T) {
	f := newFakeRelay(t)
	c := newClient(f, Config{Token: "relay-secret"})
	require.NoError(t, c.Start())
	defer c.Stop()

	f.accept(t)
	query := <-f.queries
	assert.Equal(t, "relay-secret", query.Get("token"))
	assert.Equal(t, "phone", query.Get("role"))
}

func TestCommandsDispatchedAndAnswered(t *testing.T) {
	f := newFakeRelay(t)
	c := newClient(f, Config{})
	require.NoError(t, c.Start())
	defer c.Stop()

	conn := f.accept(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"tap","x":500,"y":1000,"id":"abc"}`)))

	res := readResult(t, conn)
	assert.Equal(t, protocol.StatusOK, res.Status)
	assert.Equal(t, `"abc"`, string(res.ID))
}

func TestControlEventsObservedNotAnswered(t *testing.T) {
	f := newFakeRelay(t)
	events := make(chan string, 1)
	c := newClient(f, Config{
		OnEvent: func(e *protocol.Event) { events <- e.Name },
	})
	require.NoError(t, c.Start())
	defer c.Stop()

	conn := f.accept(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"peer-joined"}`)))

	select {
	case name := <-events:
		assert.Equal(t, "peer-joined", name)
	case <-time.After(2 * time.Second):
		t.Fatal("event not observed")
	}

	// The event itself gets no reply; the next read must be the answer
	// to a real command.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping","id":"p"}`)))
	res := readResult(t, conn)
	assert.Equal(t, "pong", res.Message)
	assert.Equal(t, `"p"`, string(res.ID))
}

func TestInvalidJSONAnsweredWithoutHalting(t *testing.T) {
	f := newFakeRelay(t)
	c := newClient(f, Config{})
	require.NoError(t, c.Start())
	defer c.Stop()

	conn := f.accept(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	res := readResult(t, conn)
	assert.Equal(t, protocol.StatusError, res.Status)
	assert.Equal(t, "invalid JSON", res.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)))
	res = readResult(t, conn)
	assert.Equal(t, "pong", res.Message)
}

func TestReconnectAfterDrop(t *testing.T) {
	f := newFakeRelay(t)
	var mu sync.Mutex
	var statuses []Status
	c := newClient(f, Config{
		OnStatus: func(s Status) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	})
	require.NoError(t, c.Start())
	defer c.Stop()

	first := f.accept(t)
	first.Close()

	// One reconnect attempt after the fixed delay, no manual intervention.
	second := f.accept(t)
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)))
	res := readResult(t, second)
	assert.Equal(t, "pong", res.Message)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, StatusConnected)
	assert.Contains(t, statuses, StatusDisconnected)
}

func TestStopBeforeDelayCancelsReconnect(t *testing.T) {
	f := newFakeRelay(t)
	c := newClient(f, Config{ReconnectDelay: 100 * time.Millisecond})
	require.NoError(t, c.Start())

	first := f.accept(t)
	first.Close()

	c.Stop()
	f.acceptNone(t, 400*time.Millisecond)
}

func TestStopClosesLiveConnection(t *testing.T) {
	f := newFakeRelay(t)
	c := newClient(f, Config{})
	require.NoError(t, c.Start())

	conn := f.accept(t)
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)

	c.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "stop must close the socket")
	assert.False(t, c.IsConnected())
	f.acceptNone(t, 300*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFakeRelay(t)
	c := newClient(f, Config{})
	require.NoError(t, c.Start())
	f.accept(t)

	c.Stop()
	c.Stop()
}

func TestStartAfterStopFails(t *testing.T) {
	f := newFakeRelay(t)
	c := newClient(f, Config{})
	require.NoError(t, c.Start())
	f.accept(t)
	c.Stop()

	assert.Error(t, c.Start())
}

func TestDialURLComposition(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{"plain", "ws://relay.example.com/ws", "ws://relay.example.com/ws?role=phone&token=s3cret"},
		{"existing query", "wss://relay.example.com/ws?room=7", "wss://relay.example.com/ws?role=phone&room=7&token=s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dialURL(tt.base, "s3cret")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
