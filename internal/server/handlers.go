package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/palmchat/internal/auth"
	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/Tyrowin/palmchat/internal/config"
	"github.com/gorilla/websocket"
)

// ChatService is the message side of the application.
type ChatService interface {
	MessageSender
	History(ctx context.Context) ([]chat.MessageView, error)
	Stats(ctx context.Context) (chat.Stats, error)
}

// AccountService is the user side of the application.
type AccountService interface {
	Register(ctx context.Context, creds auth.Credentials) (auth.Session, error)
	Login(ctx context.Context, creds auth.Credentials) (auth.Session, error)
	Authenticate(ctx context.Context, token string) (chat.Identity, error)
	ListUsers(ctx context.Context, who chat.Identity) ([]chat.Identity, error)
	UpdateUser(ctx context.Context, who chat.Identity, id string, upd auth.ProfileUpdate) (chat.Identity, error)
	DeleteUser(ctx context.Context, who chat.Identity, id string) error
}

// Server holds the HTTP and WebSocket handlers and what they depend on.
type Server struct {
	log      *slog.Logger
	hub      *Hub
	chat     ChatService
	accounts AccountService
	origins  *originPolicy
	session  SessionConfig
	upgrader websocket.Upgrader
}

func New(log *slog.Logger, hub *Hub, chatSvc ChatService, accounts AccountService, cfg config.Config) *Server {
	s := &Server{
		log:      log,
		hub:      hub,
		chat:     chatSvc,
		accounts: accounts,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		session:  SessionConfigFrom(cfg),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// WebSocketHandler upgrades the request and hands the session to the hub.
// A request without a token joins anonymously and may only listen; an
// invalid token is refused before the upgrade.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	var who chat.Identity
	if token := bearerToken(r); token != "" {
		var err error
		if who, err = s.accounts.Authenticate(r.Context(), token); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, s.chat, who, r.RemoteAddr, s.session)
	if err := s.hub.Register(client); err != nil {
		s.log.Info("rejecting websocket, hub closed", "remote", r.RemoteAddr)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// HealthHandler reports liveness and the current online count.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "PalmChat server is running! Online: %d", s.hub.OnlineCount())
}

// TestPageHandler serves a small browser client for manual testing.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Warn("error writing test page", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>PalmChat Test</title>
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
        input[type="text"], input[type="password"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .error { color: #721c24; }
    </style>
</head>
<body>
    <h1>PalmChat</h1>

    <div>
        <input type="text" id="username" placeholder="username">
        <input type="password" id="password" placeholder="password">
        <button onclick="account('login')">Login</button>
        <button onclick="account('register')">Register</button>
        <span id="who">anonymous</span>
    </div>

    <div id="status" class="status disconnected">Disconnected</div>
    <div>Online: <span id="online">0</span></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        let session = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, cls) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            if (cls) el.className = cls;
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function showMessage(m) {
            const name = m.sender.username || 'unknown';
            addLine(new Date(m.createdAt).toLocaleTimeString() + ' ' + name + ': ' + m.content);
        }

        async function account(kind) {
            const res = await fetch('/api/users/' + kind, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({
                    username: document.getElementById('username').value,
                    password: document.getElementById('password').value,
                }),
            });
            const body = await res.json();
            if (!res.ok) {
                addLine(body.message, 'error');
                return;
            }
            session = body;
            document.getElementById('who').textContent = session.username;
            const hist = await fetch('/api/chat/history', {headers: {'Authorization': 'Bearer ' + session.token}});
            if (hist.ok) (await hist.json()).forEach(showMessage);
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            let url = proto + location.host + '/ws';
            if (session) url += '?token=' + encodeURIComponent(session.token);
            ws = new WebSocket(url);

            ws.onopen = function() {
                addLine('Connected to PalmChat');
                updateStatus(true);
            };
            ws.onmessage = function(event) {
                const ev = JSON.parse(event.data);
                if (ev.type === 'message') showMessage(ev.data);
                else if (ev.type === 'online users') document.getElementById('online').textContent = ev.data;
                else if (ev.type === 'error') addLine(ev.data.message, 'error');
            };
            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) ws.close();
            else connect();
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            if (content && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({type: 'sendMessage', data: {content: content}}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
