package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astanek/livechat-relay/internal/session"
	"github.com/astanek/livechat-relay/pkg/logger"
)

// fakeTransport records deliveries instead of writing to sockets. It
// resolves recipients from the same registry the relay uses.
type fakeTransport struct {
	mu       sync.Mutex
	registry *session.Registry

	adminMsgs  []string            // delivered to the current admin conn
	visitorLog map[string][]string // conn id -> delivered texts
	systemLog  map[string][]string
	visitorIDs map[string]string
}

func newFakeTransport(reg *session.Registry) *fakeTransport {
	return &fakeTransport{
		registry:   reg,
		visitorLog: make(map[string][]string),
		systemLog:  make(map[string][]string),
		visitorIDs: make(map[string]string),
	}
}

func (f *fakeTransport) SendToAdmin(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.registry.AdminConn(); !ok {
		return false
	}
	f.adminMsgs = append(f.adminMsgs, text)
	return true
}

func (f *fakeTransport) BroadcastToVisitors(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	conns := f.registry.VisitorConns()
	for _, id := range conns {
		f.visitorLog[id] = append(f.visitorLog[id], text)
	}
	return len(conns)
}

func (f *fakeTransport) SendVisitorID(connID, visitorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visitorIDs[connID] = visitorID
	return nil
}

func (f *fakeTransport) SendSystem(connID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systemLog[connID] = append(f.systemLog[connID], text)
	return nil
}

func (f *fakeTransport) adminReceived() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.adminMsgs...)
}

func (f *fakeTransport) visitorReceived(connID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.visitorLog[connID]...)
}

// fakeSender records Telegram sends.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("telegram unreachable")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

const testAdminChat = int64(424242)

func newTestRelay(t *testing.T) (*Relay, *session.Registry, *fakeTransport, *fakeSender) {
	t.Helper()
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Format: "text"})
	reg := session.NewRegistry(log)
	rt := newFakeTransport(reg)
	tg := &fakeSender{}
	r := New(Config{AdminChatID: testAdminChat}, reg, rt, tg, log, nil)
	return r, reg, rt, tg
}

func adminUpdate(id int64, text string) *models.Update {
	return &models.Update{
		ID: id,
		Message: &models.Message{
			Text: text,
			From: &models.User{ID: 7, FirstName: "Operator"},
			Chat: models.Chat{ID: testAdminChat},
		},
	}
}

func TestRoleExclusivity(t *testing.T) {
	r, _, rt, _ := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-1", "visitor"))
	require.Error(t, r.HandleRegister("conn-1", "admin"))

	// Routing still matches the first role: an admin broadcast reaches it.
	require.NoError(t, r.HandleRegister("conn-a", "admin"))
	r.HandleChat("conn-a", ChatMessage{Text: "hello all"})
	assert.Equal(t, []string{"hello all"}, rt.visitorReceived("conn-1"))
}

func TestAdminSingletonDisplacement(t *testing.T) {
	r, reg, rt, _ := newTestRelay(t)

	require.NoError(t, r.HandleRegister("admin-a", "admin"))
	require.NoError(t, r.HandleRegister("admin-b", "admin"))

	admin, ok := reg.AdminConn()
	require.True(t, ok)
	assert.Equal(t, "admin-b", admin)

	require.NoError(t, r.HandleRegister("conn-v", "visitor"))
	r.HandleChat("conn-v", ChatMessage{Text: "ping"})

	// Delivered to the admin role exactly once (held by B now).
	assert.Equal(t, []string{"ping"}, rt.adminReceived())
}

func TestVisitorIsolation(t *testing.T) {
	r, _, rt, tg := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-x", "visitor"))
	require.NoError(t, r.HandleRegister("conn-y", "visitor"))
	require.NoError(t, r.HandleRegister("conn-a", "admin"))

	r.HandleChat("conn-x", ChatMessage{Text: "secret"})

	assert.Empty(t, rt.visitorReceived("conn-y"), "visitor Y must not see X's message")
	assert.Empty(t, rt.visitorReceived("conn-x"), "no server echo to the sender")
	assert.Equal(t, []string{"secret"}, rt.adminReceived())
	assert.Eventually(t, func() bool { return tg.sentCount() == 1 }, time.Second, 10*time.Millisecond)

	// Subsequent admin broadcast reaches both X and Y.
	r.HandleChat("conn-a", ChatMessage{Text: "answer"})
	assert.Equal(t, []string{"answer"}, rt.visitorReceived("conn-x"))
	assert.Equal(t, []string{"answer"}, rt.visitorReceived("conn-y"))
}

func TestTelegramFallbackWithoutAdmin(t *testing.T) {
	r, reg, rt, tg := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-1", "visitor"))
	vs, _ := reg.Visitor("conn-1")

	r.HandleChat("conn-1", ChatMessage{Text: "anyone there?"})

	require.Eventually(t, func() bool { return tg.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	sent := tg.sentMessages()[0]
	assert.Contains(t, sent, "anyone there?")
	assert.Contains(t, sent, vs.VisitorID)
	assert.Empty(t, rt.adminReceived())

	// Exactly one send, no duplicates trailing in.
	r.Close()
	assert.Equal(t, 1, tg.sentCount())
}

func TestVisitorMessageWithUserInfo(t *testing.T) {
	r, reg, _, tg := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-1", "visitor"))
	r.HandleChat("conn-1", ChatMessage{Text: "hi", UserInfo: &session.UserInfo{Name: "Sam"}})

	require.Eventually(t, func() bool { return tg.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	sent := tg.sentMessages()[0]
	vs, _ := reg.Visitor("conn-1")
	assert.Contains(t, sent, "hi")
	assert.Contains(t, sent, vs.VisitorID)
	assert.Contains(t, sent, "Name: Sam")
}

func TestAdminMessageSkipsTelegram(t *testing.T) {
	r, _, _, tg := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-a", "admin"))
	require.NoError(t, r.HandleRegister("conn-1", "visitor"))

	r.HandleChat("conn-a", ChatMessage{Text: "realtime only"})
	r.Close()
	assert.Zero(t, tg.sentCount())
}

func TestUnregisteredSenderDropped(t *testing.T) {
	r, _, rt, tg := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-1", "visitor"))
	r.HandleChat("stranger", ChatMessage{Text: "let me in"})

	r.Close()
	assert.Zero(t, tg.sentCount())
	assert.Empty(t, rt.visitorReceived("conn-1"))
}

func TestUserInfoSubmission(t *testing.T) {
	r, reg, rt, tg := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-a", "admin"))
	require.NoError(t, r.HandleRegister("conn-1", "visitor"))

	r.HandleUserInfo("conn-1", session.UserInfo{Name: "Sam", Phone: " 555-0100 "})

	vs, _ := reg.Visitor("conn-1")
	require.NotNil(t, vs.UserInfo)

	require.Len(t, rt.adminReceived(), 1)
	forwarded := rt.adminReceived()[0]
	assert.Contains(t, forwarded, vs.VisitorID)
	assert.Contains(t, forwarded, "Name: Sam")
	assert.Contains(t, forwarded, "Phone: 555-0100")

	require.Eventually(t, func() bool { return tg.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, tg.sentMessages()[0], "Name: Sam")
}

func TestUserInfoFromAdminIgnored(t *testing.T) {
	r, _, rt, tg := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-a", "admin"))
	r.HandleUserInfo("conn-a", session.UserInfo{Name: "Boss"})

	r.Close()
	assert.Zero(t, tg.sentCount())
	assert.Empty(t, rt.adminReceived())
}

func TestIdempotentDisconnect(t *testing.T) {
	r, _, rt, _ := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-1", "visitor"))
	require.NoError(t, r.HandleRegister("conn-2", "visitor"))

	r.HandleDisconnect("conn-1")
	r.HandleDisconnect("conn-1")
	r.HandleDisconnect("never-connected")

	require.NoError(t, r.HandleRegister("conn-a", "admin"))
	r.HandleChat("conn-a", ChatMessage{Text: "still here?"})
	assert.Equal(t, []string{"still here?"}, rt.visitorReceived("conn-2"))
	assert.Empty(t, rt.visitorReceived("conn-1"))
}

func TestTelegramUpdate_ChatIDFilter(t *testing.T) {
	r, _, rt, _ := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-1", "visitor"))
	require.NoError(t, r.HandleRegister("conn-2", "visitor"))

	wrongChat := adminUpdate(10, "hello")
	wrongChat.Message.Chat.ID = 999
	r.HandleTelegramUpdate(wrongChat)
	assert.Empty(t, rt.visitorReceived("conn-1"))
	assert.Empty(t, rt.visitorReceived("conn-2"))

	r.HandleTelegramUpdate(adminUpdate(11, "hello"))
	assert.Equal(t, []string{"Admin: hello"}, rt.visitorReceived("conn-1"))
	assert.Equal(t, []string{"Admin: hello"}, rt.visitorReceived("conn-2"))
}

func TestTelegramUpdate_CursorAdvances(t *testing.T) {
	r, _, rt, _ := newTestRelay(t)

	require.NoError(t, r.HandleRegister("conn-1", "visitor"))
	require.NoError(t, r.HandleRegister("conn-2", "visitor"))

	r.HandleTelegramUpdate(adminUpdate(42, "reply"))

	assert.Equal(t, []string{"Admin: reply"}, rt.visitorReceived("conn-1"))
	assert.Equal(t, []string{"Admin: reply"}, rt.visitorReceived("conn-2"))
	assert.Equal(t, int64(43), r.NextOffset())

	// A replay of the same update id is dropped.
	r.HandleTelegramUpdate(adminUpdate(42, "reply"))
	assert.Equal(t, []string{"Admin: reply"}, rt.visitorReceived("conn-1"))
}

func TestTelegramUpdate_Malformed(t *testing.T) {
	r, _, rt, _ := newTestRelay(t)
	require.NoError(t, r.HandleRegister("conn-1", "visitor"))

	r.HandleTelegramUpdate(nil)
	r.HandleTelegramUpdate(&models.Update{ID: 5})
	r.HandleTelegramUpdate(&models.Update{ID: 6, Message: &models.Message{Chat: models.Chat{ID: testAdminChat}}})

	assert.Empty(t, rt.visitorReceived("conn-1"))
}

func TestTelegramSendFailureDoesNotAffectRealtime(t *testing.T) {
	r, _, rt, tg := newTestRelay(t)
	tg.fail = true

	require.NoError(t, r.HandleRegister("conn-a", "admin"))
	require.NoError(t, r.HandleRegister("conn-1", "visitor"))

	r.HandleChat("conn-1", ChatMessage{Text: "still delivered"})
	r.Close()

	assert.Equal(t, []string{"still delivered"}, rt.adminReceived())
}

func TestRegisterUnknownRoleGetsSystemMessage(t *testing.T) {
	r, _, rt, _ := newTestRelay(t)

	require.Error(t, r.HandleRegister("conn-1", "owner"))
	rt.mu.Lock()
	defer rt.mu.Unlock()
	assert.NotEmpty(t, rt.systemLog["conn-1"])
}
