package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer upgrades every request to a websocket and hands the server-side
// conn to onAccept, so tests can register it with a Hub.
func testServer(t *testing.T, onAccept func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		onAccept(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestConnectRegistersConnectionAndFiresHook(t *testing.T) {
	var connected int32
	h := New(WithHooks(Hooks{OnConsumerConnect: func(string) { atomic.AddInt32(&connected, 1) }}))

	var serverConn *websocket.Conn
	var mu sync.Mutex
	ready := make(chan struct{})
	srv := testServer(t, func(c *websocket.Conn) {
		mu.Lock()
		serverConn = c
		mu.Unlock()
		close(ready)
		<-context.Background().Done()
	})
	dial(t, srv)
	<-ready

	mu.Lock()
	connID := h.Connect("consumer-1", serverConn)
	mu.Unlock()

	assert.NotEmpty(t, connID)
	assert.Equal(t, 1, h.ActiveWSCount("consumer-1"))
	assert.True(t, h.HasActiveWS("consumer-1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&connected))
}

func TestDisconnectFiresHookOnlyWhenLastConnectionRemoved(t *testing.T) {
	var disconnected int32
	h := New(WithHooks(Hooks{OnConsumerDisconnect: func(string) { atomic.AddInt32(&disconnected, 1) }}))

	conns := make(chan *websocket.Conn, 2)
	srv := testServer(t, func(c *websocket.Conn) {
		conns <- c
		<-context.Background().Done()
	})
	dial(t, srv)
	dial(t, srv)

	c1 := <-conns
	c2 := <-conns
	id1 := h.Connect("consumer-1", c1)
	id2 := h.Connect("consumer-1", c2)
	require.Equal(t, 2, h.ActiveWSCount("consumer-1"))

	h.Disconnect("consumer-1", id1)
	assert.Equal(t, int32(0), atomic.LoadInt32(&disconnected))
	assert.Equal(t, 1, h.ActiveWSCount("consumer-1"))

	h.Disconnect("consumer-1", id2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&disconnected))
	assert.False(t, h.HasActiveWS("consumer-1"))
}

func TestPublishWSDeliversToAllConsumerConnections(t *testing.T) {
	h := New()

	var mu sync.Mutex
	var serverConns []*websocket.Conn
	srv := testServer(t, func(c *websocket.Conn) {
		mu.Lock()
		serverConns = append(serverConns, c)
		mu.Unlock()
		<-context.Background().Done()
	})

	client1 := dial(t, srv)
	client2 := dial(t, srv)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(serverConns) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	h.Connect("consumer-1", serverConns[0])
	h.Connect("consumer-1", serverConns[1])
	mu.Unlock()

	env := NewUpstreamEnvelope("evt-1", "stream.online", map[string]any{"broadcaster_user_id": "123"})
	h.PublishWS(context.Background(), "consumer-1", env)

	var got1, got2 Envelope
	require.NoError(t, wsjson.Read(context.Background(), client1, &got1))
	require.NoError(t, wsjson.Read(context.Background(), client2, &got2))
	assert.Equal(t, "stream.online", got1.Type)
	assert.Equal(t, "stream.online", got2.Type)
}

func TestAnyActiveWSReflectsWhetherAnyConsumerIsConnected(t *testing.T) {
	h := New()
	assert.False(t, h.AnyActiveWS())

	var serverConn *websocket.Conn
	var mu sync.Mutex
	ready := make(chan struct{})
	srv := testServer(t, func(c *websocket.Conn) {
		mu.Lock()
		serverConn = c
		mu.Unlock()
		close(ready)
		<-context.Background().Done()
	})
	dial(t, srv)
	<-ready

	mu.Lock()
	connID := h.Connect("consumer-1", serverConn)
	mu.Unlock()
	assert.True(t, h.AnyActiveWS())

	h.Disconnect("consumer-1", connID)
	assert.False(t, h.AnyActiveWS())
}

func TestPublishWSPrunesConnectionsThatFailToWrite(t *testing.T) {
	var disconnected int32
	h := New(WithHooks(Hooks{OnConsumerDisconnect: func(string) { atomic.AddInt32(&disconnected, 1) }}))

	var serverConn *websocket.Conn
	var mu sync.Mutex
	ready := make(chan struct{})
	srv := testServer(t, func(c *websocket.Conn) {
		mu.Lock()
		serverConn = c
		mu.Unlock()
		close(ready)
		<-context.Background().Done()
	})
	dial(t, srv)
	<-ready

	mu.Lock()
	h.Connect("consumer-1", serverConn)
	// CloseNow drops the connection without a clean handshake, so the next
	// write on it fails.
	_ = serverConn.CloseNow()
	mu.Unlock()
	require.Equal(t, 1, h.ActiveWSCount("consumer-1"))

	env := NewUpstreamEnvelope("evt-1", "stream.online", map[string]any{"broadcaster_user_id": "123"})
	h.PublishWS(context.Background(), "consumer-1", env)

	assert.Equal(t, 0, h.ActiveWSCount("consumer-1"))
	assert.False(t, h.HasActiveWS("consumer-1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&disconnected))

	// A second publish must be a no-op: the failed connection is gone, not
	// retried.
	assert.NotPanics(t, func() {
		h.PublishWS(context.Background(), "consumer-1", env)
	})
}

func TestPublishWSToUnknownConsumerIsNoop(t *testing.T) {
	h := New()
	assert.NotPanics(t, func() {
		h.PublishWS(context.Background(), "nobody", NewUpstreamEnvelope("1", "x", nil))
	})
}

func TestPublishWebhookPostsEnvelopeAndFiresHook(t *testing.T) {
	var sent int32
	h := New(WithHooks(Hooks{OnWebhookSent: func(string) { atomic.AddInt32(&sent, 1) }}))

	received := make(chan Envelope, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		received <- env
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env := NewUpstreamEnvelope("evt-2", "channel.chat.message", map[string]any{"text": "hi"})
	err := h.PublishWebhook(context.Background(), "consumer-1", srv.URL, env)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "channel.chat.message", got.Type)
	case <-time.After(time.Second):
		t.Fatal("webhook was not received")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&sent))
}

func TestPublishWebhookReturnsErrorOnNon2xx(t *testing.T) {
	h := New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := h.PublishWebhook(context.Background(), "consumer-1", srv.URL, NewUpstreamEnvelope("1", "x", nil))
	assert.Error(t, err)
}
