package realtime

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astanek/livechat-relay/internal/relay"
	"github.com/astanek/livechat-relay/internal/session"
	"github.com/astanek/livechat-relay/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

// newTestServer wires a registry, hub and relay core behind a live
// websocket endpoint.
func newTestServer(t *testing.T, origins []string) (*httptest.Server, *session.Registry) {
	t.Helper()

	log := testLogger()
	registry := session.NewRegistry(log)
	hub := NewHub(registry, log)
	core := relay.New(relay.Config{AdminChatID: 1}, registry, hub, relay.NopSender{}, log, nil)
	handler := NewHandler(hub, core, log, origins)

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readEnvelope(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func payloadString(t *testing.T, env Envelope) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(env.Payload, &s))
	return s
}

func registerVisitor(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	send(t, ws, EventRegister, "visitor")
	env := readEnvelope(t, ws)
	require.Equal(t, EventVisitorID, env.Type)
	return payloadString(t, env)
}

// registerAdmin waits for the registry to reflect the registration since
// admin registration has no acknowledgement frame.
func registerAdmin(t *testing.T, ws *websocket.Conn, registry *session.Registry) string {
	t.Helper()
	prev, _ := registry.AdminConn()
	send(t, ws, EventRegister, "admin")
	var connID string
	require.Eventually(t, func() bool {
		id, ok := registry.AdminConn()
		connID = id
		return ok && id != prev
	}, 2*time.Second, 10*time.Millisecond)
	return connID
}

func TestVisitorRegistrationGetsID(t *testing.T) {
	srv, registry := newTestServer(t, nil)
	ws := dial(t, srv)

	id := registerVisitor(t, ws)
	assert.True(t, strings.HasPrefix(id, "visitor-"))
	assert.Equal(t, 1, registry.VisitorCount())
}

func TestVisitorMessageReachesAdmin(t *testing.T) {
	srv, registry := newTestServer(t, nil)

	admin := dial(t, srv)
	registerAdmin(t, admin, registry)

	visitor := dial(t, srv)
	registerVisitor(t, visitor)

	send(t, visitor, EventChat, ChatPayload{Text: "hello there"})

	env := readEnvelope(t, admin)
	assert.Equal(t, EventChat, env.Type)
	assert.Equal(t, "hello there", payloadString(t, env))
}

func TestAdminBroadcastReachesAllVisitors(t *testing.T) {
	srv, registry := newTestServer(t, nil)

	admin := dial(t, srv)
	registerAdmin(t, admin, registry)

	v1 := dial(t, srv)
	registerVisitor(t, v1)
	v2 := dial(t, srv)
	registerVisitor(t, v2)

	send(t, admin, EventChat, "we are online")

	for _, ws := range []*websocket.Conn{v1, v2} {
		env := readEnvelope(t, ws)
		assert.Equal(t, EventChat, env.Type)
		assert.Equal(t, "we are online", payloadString(t, env))
	}
}

func TestVisitorDoesNotSeeOtherVisitorMessages(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	v1 := dial(t, srv)
	registerVisitor(t, v1)
	v2 := dial(t, srv)
	registerVisitor(t, v2)

	send(t, v1, EventChat, "private question")

	require.NoError(t, v2.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := v2.ReadMessage()
	assert.Error(t, err, "second visitor must not receive another visitor's message")
}

func TestUnknownRoleGetsSystemMessage(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ws := dial(t, srv)

	send(t, ws, EventRegister, "superuser")

	env := readEnvelope(t, ws)
	assert.Equal(t, EventSystem, env.Type)
	assert.Equal(t, "unknown role", payloadString(t, env))
}

func TestRoleChangeRejected(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ws := dial(t, srv)

	registerVisitor(t, ws)
	send(t, ws, EventRegister, "admin")

	env := readEnvelope(t, ws)
	assert.Equal(t, EventSystem, env.Type)
	assert.Equal(t, "already registered", payloadString(t, env))
}

func TestAdminDisplacement(t *testing.T) {
	srv, registry := newTestServer(t, nil)

	first := dial(t, srv)
	registerAdmin(t, first, registry)

	second := dial(t, srv)
	registerAdmin(t, second, registry)

	visitor := dial(t, srv)
	registerVisitor(t, visitor)
	send(t, visitor, EventChat, "anyone there?")

	env := readEnvelope(t, second)
	assert.Equal(t, EventChat, env.Type)
	assert.Equal(t, "anyone there?", payloadString(t, env))

	require.NoError(t, first.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err, "displaced admin must not receive visitor messages")

	_, ok := registry.AdminConn()
	assert.True(t, ok)
}

func TestDisconnectCleansRegistry(t *testing.T) {
	srv, registry := newTestServer(t, nil)

	ws := dial(t, srv)
	registerVisitor(t, ws)
	require.Equal(t, 1, registry.VisitorCount())

	ws.Close()

	assert.Eventually(t, func() bool {
		return registry.VisitorCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ws := dial(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))

	// Connection still usable afterwards.
	id := registerVisitor(t, ws)
	assert.NotEmpty(t, id)
}

func TestUserInfoForwardedToAdmin(t *testing.T) {
	srv, registry := newTestServer(t, nil)

	admin := dial(t, srv)
	registerAdmin(t, admin, registry)

	visitor := dial(t, srv)
	id := registerVisitor(t, visitor)

	send(t, visitor, EventUserInfo, session.UserInfo{Name: "Sam", Email: "sam@example.com"})

	env := readEnvelope(t, admin)
	assert.Equal(t, EventChat, env.Type)
	text := payloadString(t, env)
	assert.Contains(t, text, "Visitor: "+id)
	assert.Contains(t, text, "Name: Sam")
	assert.Contains(t, text, "Email: sam@example.com")
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://EXAMPLE.com/")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	req.Header.Del("Origin")
	assert.True(t, check(req), "non-browser clients without Origin are allowed")

	allowAll := originChecker(nil)
	req.Header.Set("Origin", "https://anything.example")
	assert.True(t, allowAll(req))
}

func TestUpgradeRejectedForDisallowedOrigin(t *testing.T) {
	srv, _ := newTestServer(t, []string{"https://example.com"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if ws != nil {
		ws.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
