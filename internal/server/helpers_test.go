package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/presencechat/internal/chat"
	"github.com/Tyrowin/presencechat/internal/metrics"
)

const (
	testOrigin   = "http://localhost:8080"
	readTimeout  = 2 * time.Second
	quietTimeout = 150 * time.Millisecond
)

type testEnv struct {
	cfg      *Config
	gateway  *chat.Gateway
	srv      *Server
	registry *prometheus.Registry
	http     *httptest.Server
}

// newTestEnv starts a gateway and an httptest server in front of it. mutate,
// when non-nil, adjusts the default configuration first.
func newTestEnv(t *testing.T, mutate func(cfg *Config)) *testEnv {
	t.Helper()

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.RateLimit.Burst = 100
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	logger := zaptest.NewLogger(t)
	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	require.NoError(t, err)

	gateway := chat.NewGateway(logger, append(cfg.GatewayOptions(), chat.WithMetrics(m))...)
	go gateway.Run()

	srv := NewServer(cfg, gateway, registry, logger)
	ts := httptest.NewServer(srv.SetupRoutes())

	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Shutdown(2 * time.Second) })

	return &testEnv{cfg: cfg, gateway: gateway, srv: srv, registry: registry, http: ts}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(e.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type testFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type testEnvelope struct {
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	IsPrivate bool   `json:"isPrivate"`
	Recipient string `json:"recipient"`
}

// wsClient is a test-side WebSocket peer. Every message it reads must hold
// exactly one frame.
type wsClient struct {
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", testOrigin)

	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{conn: conn}
}

// join dials, claims name and drains the claim broadcasts from itself and
// every watcher.
func (e *testEnv) join(t *testing.T, name string, watchers ...*wsClient) *wsClient {
	t.Helper()
	c := e.dial(t)
	c.send(t, chat.EventNewUser, name)
	for _, w := range append(watchers, c) {
		w.expectString(t, chat.EventUserConnected, name)
		w.expectFrame(t, chat.EventOnlineUsers)
	}
	return c
}

func (c *wsClient) send(t *testing.T, event string, data any) {
	t.Helper()
	require.NoError(t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func (c *wsClient) sendRaw(t *testing.T, raw string) {
	t.Helper()
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (c *wsClient) read(timeout time.Duration) (testFrame, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return testFrame{}, err
	}
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return testFrame{}, err
	}

	var frame testFrame
	err = json.Unmarshal(msg, &frame)
	return frame, err
}

func (c *wsClient) next(t *testing.T) testFrame {
	t.Helper()
	frame, err := c.read(readTimeout)
	require.NoError(t, err)
	return frame
}

func (c *wsClient) expectFrame(t *testing.T, event string) testFrame {
	t.Helper()
	frame := c.next(t)
	require.Equal(t, event, frame.Event, "data: %s", frame.Data)
	return frame
}

func (c *wsClient) expectString(t *testing.T, event, want string) {
	t.Helper()
	var got string
	require.NoError(t, json.Unmarshal(c.expectFrame(t, event).Data, &got))
	require.Equal(t, want, got)
}

func (c *wsClient) expectOnline(t *testing.T, want ...string) {
	t.Helper()
	var got []string
	require.NoError(t, json.Unmarshal(c.expectFrame(t, chat.EventOnlineUsers).Data, &got))
	if len(want) == 0 {
		require.Empty(t, got)
		return
	}
	require.Equal(t, want, got)
}

func (c *wsClient) expectEnvelope(t *testing.T, event string) testEnvelope {
	t.Helper()
	var got testEnvelope
	require.NoError(t, json.Unmarshal(c.expectFrame(t, event).Data, &got))
	return got
}

// expectNone fails if a frame arrives within quietTimeout. The connection's
// read deadline has passed afterwards, so call it last.
func (c *wsClient) expectNone(t *testing.T) {
	t.Helper()
	frame, err := c.read(quietTimeout)
	require.Error(t, err, "unexpected frame %s %s", frame.Event, frame.Data)
}

// expectClosed waits for the server to end the connection.
func (c *wsClient) expectClosed(t *testing.T) {
	t.Helper()
	for {
		_, err := c.read(readTimeout)
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection still open: %v", err)
		}
		return
	}
}
