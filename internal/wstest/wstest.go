// Package wstest provides helpers shared by tests that drive the chat
// server over real HTTP and WebSocket connections.
package wstest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Origin is sent on every test dial; test servers should allow it.
const Origin = "http://localhost:8080"

// Frame is an outbound event as received by a client.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Count decodes the payload of an "online users" frame.
func (f Frame) Count(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, json.Unmarshal(f.Data, &n), "frame %s", f.Data)
	return n
}

// Message is the payload of a "message" frame.
type Message struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Sender  struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message decodes the payload of a "message" frame.
func (f Frame) Message(t *testing.T) Message {
	t.Helper()
	var m Message
	require.NoError(t, json.Unmarshal(f.Data, &m), "frame %s", f.Data)
	return m
}

// ErrorMessage decodes the payload of an "error" frame.
func (f Frame) ErrorMessage(t *testing.T) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &body), "frame %s", f.Data)
	return body.Message
}

// URL converts an httptest server URL into the WebSocket endpoint.
func URL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// Connect dials the WebSocket endpoint, authenticating with token when it
// is not empty. The response is returned so callers can inspect refusals.
func Connect(wsURL, token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", Origin)
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials and registers the connection for cleanup.
func MustConnect(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := Connect(wsURL, token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendMessage writes a sendMessage frame.
func SendMessage(conn *websocket.Conn, content string) error {
	return conn.WriteJSON(map[string]any{
		"type": "sendMessage",
		"data": map[string]string{"content": content},
	})
}

// ReadFrame reads the next frame, failing the test after timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// ReadUntil reads frames until one has the given type, discarding the
// rest. Presence updates from other tests' clients are the usual noise.
func ReadUntil(t *testing.T, conn *websocket.Conn, eventType string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		f := ReadFrame(t, conn, time.Until(deadline))
		if f.Type == eventType {
			return f
		}
	}
}

// WaitForOnline reads presence frames until the announced count is want.
func WaitForOnline(t *testing.T, conn *websocket.Conn, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		f := ReadUntil(t, conn, "online users", time.Until(deadline))
		if f.Count(t) == want {
			return
		}
	}
}

// ExpectNoFrame fails if anything arrives on conn within d.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest performs an HTTP request with an optional JSON body and
// bearer token.
func MakeRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
