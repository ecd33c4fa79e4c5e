package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencechat/internal/chat"
)

// Server exposes the gateway over HTTP: the WebSocket endpoint, health and
// presence queries, metrics and the built-in test page.
type Server struct {
	cfg      *Config
	gateway  *chat.Gateway
	logger   *zap.Logger
	origins  *originPolicy
	upgrader websocket.Upgrader
	metrics  http.Handler
	pumps    sync.WaitGroup
}

// NewServer creates a Server for gateway. Metrics are served from gatherer;
// a nil gatherer uses the prometheus default registry.
func NewServer(cfg *Config, gateway *chat.Gateway, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:     cfg,
		gateway: gateway,
		logger:  logger,
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		metrics: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// WebSocketHandler handles WebSocket upgrade requests.
// It only accepts GET, upgrades the connection, attaches a new Client to the
// gateway and starts the client's read/write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("WebSocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, s.gateway, r.RemoteAddr, s.cfg, s.logger)
	s.pumps.Add(2)
	client.start(s.pumps.Done)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "PresenceChat server is running!")
}

// OnlineResponse is the body of GET /api/online.
type OnlineResponse struct {
	Users     []string `json:"users"`
	Connected int      `json:"connected"`
}

// OnlineHandler reports the online identities in join order and the number
// of connected sessions.
func (s *Server) OnlineHandler(w http.ResponseWriter, _ *http.Request) {
	resp := OnlineResponse{
		Users:     s.gateway.Online(),
		Connected: s.gateway.Connected(),
	}
	if resp.Users == nil {
		resp.Users = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Error writing online users response", zap.Error(err))
	}
}

// MetricsHandler serves prometheus metrics.
func (s *Server) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	s.metrics.ServeHTTP(w, r)
}

// TestPageHandler serves an HTML page that claims an identity and sends
// public and private messages over the WebSocket endpoint.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.logger.Warn("Error writing HTML response", zap.Error(err))
	}
}

// Shutdown stops the gateway, which closes every client, and waits for the
// client pumps to exit or for timeout to pass.
func (s *Server) Shutdown(timeout time.Duration) error {
	start := time.Now()
	if err := s.gateway.Shutdown(timeout); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All client connections closed")
		return nil
	case <-time.After(timeout - time.Since(start)):
		s.logger.Warn("Shutdown timeout reached, some client goroutines may still be running")
		return context.DeadlineExceeded
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>PresenceChat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #online { margin: 10px 0; color: #555; }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .system { color: gray; font-style: italic; }
        .private { color: purple; }
    </style>
</head>
<body>
    <h1>PresenceChat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="nameInput" placeholder="Choose a username...">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div id="online">Online: none</div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <input type="text" id="recipientInput" placeholder="Private to (optional)" disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const nameInput = document.getElementById('nameInput');
        const messageInput = document.getElementById('messageInput');
        const recipientInput = document.getElementById('recipientInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');
        const onlineDiv = document.getElementById('online');

        function addLine(text, cls) {
            const line = document.createElement('div');
            line.textContent = text;
            if (cls) {
                line.className = cls;
            }
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            recipientInput.disabled = !connected;
            sendButton.disabled = !connected;
            nameInput.disabled = connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(event, data) {
            ws.send(JSON.stringify({ event: event, data: data }));
        }

        function handleFrame(frame) {
            switch (frame.event) {
            case 'user connected':
                addLine(frame.data + ' joined', 'system');
                break;
            case 'user disconnected':
                addLine(frame.data + ' left', 'system');
                break;
            case 'online users':
                onlineDiv.textContent = 'Online: ' + (frame.data.length ? frame.data.join(', ') : 'none');
                break;
            case 'system message':
                addLine(frame.data.text, 'system');
                break;
            case 'public message':
                addLine(frame.data.user + ': ' + frame.data.text);
                break;
            case 'private message':
                addLine(frame.data.user + ' -> ' + frame.data.recipient + ': ' + frame.data.text, 'private');
                break;
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                updateStatus(true);
                send('new user', nameInput.value.trim());
            };

            ws.onmessage = function(event) {
                handleFrame(JSON.parse(event.data));
            };

            ws.onclose = function() {
                addLine('Connection closed', 'system');
                updateStatus(false);
                onlineDiv.textContent = 'Online: none';
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value;
            const recipient = recipientInput.value.trim();
            if (!text || !ws || ws.readyState !== WebSocket.OPEN) {
                return;
            }
            if (recipient) {
                send('private message', { text: text, recipient: recipient });
            } else {
                send('public message', { text: text });
            }
            messageInput.value = '';
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
