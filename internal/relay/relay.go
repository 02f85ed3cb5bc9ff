// Package relay implements the message-routing core between visitor
// connections, the single admin connection and the Telegram transport.
// Messages are transient values: routed once, never stored.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/astanek/livechat-relay/internal/session"
	"github.com/astanek/livechat-relay/pkg/logger"
	"github.com/astanek/livechat-relay/pkg/metrics"
)

const adminPrefix = "Admin: "

// ChatMessage is an inbound chat event from a connection. UserInfo may ride
// along with the first message a visitor sends.
type ChatMessage struct {
	Text     string
	UserInfo *session.UserInfo
}

// Config holds the relay core's settings.
type Config struct {
	// AdminChatID is the only Telegram chat whose updates are accepted.
	AdminChatID int64

	// TelegramTimeout bounds each outbound Telegram send.
	TelegramTimeout time.Duration
}

// Relay routes messages between the realtime transport, the session
// registry and the Telegram transport.
type Relay struct {
	cfg      Config
	registry *session.Registry
	rt       RealtimeTransport
	tg       TelegramSender
	log      logger.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	lastUpdateID int64

	// pending tracks in-flight Telegram sends so Close can wait for them.
	pending sync.WaitGroup
}

// New creates a relay core. Pass NopSender as tg when Telegram is not
// configured; m may be nil.
func New(cfg Config, registry *session.Registry, rt RealtimeTransport, tg TelegramSender, log logger.Logger, m *metrics.Metrics) *Relay {
	if cfg.TelegramTimeout <= 0 {
		cfg.TelegramTimeout = 10 * time.Second
	}
	if tg == nil {
		tg = NopSender{}
	}
	return &Relay{
		cfg:      cfg,
		registry: registry,
		rt:       rt,
		tg:       tg,
		log:      log,
		metrics:  m,
	}
}

// HandleRegister assigns a role to a connection and, for visitors, sends
// back the generated visitor id. Errors are reported to the connection as
// system text and returned.
func (r *Relay) HandleRegister(connID, role string) error {
	parsed, err := session.ParseRole(role)
	if err != nil {
		r.log.Warn("Registration with unknown role dropped",
			logger.StringField("conn_id", connID),
			logger.StringField("role", role))
		_ = r.rt.SendSystem(connID, "unknown role")
		return err
	}

	visitorID, err := r.registry.Register(connID, parsed)
	if err != nil {
		r.log.Warn("Registration rejected",
			logger.StringField("conn_id", connID),
			logger.ErrorField(err))
		_ = r.rt.SendSystem(connID, "already registered")
		return err
	}

	if parsed == session.RoleVisitor {
		if err := r.rt.SendVisitorID(connID, visitorID); err != nil {
			r.log.Warn("Failed to send visitor id",
				logger.StringField("conn_id", connID),
				logger.ErrorField(err))
		}
		r.updateVisitorGauge()
		r.log.Info("Visitor registered",
			logger.StringField("conn_id", connID),
			logger.StringField("visitor_id", visitorID))
		return nil
	}

	r.log.Info("Admin registered", logger.StringField("conn_id", connID))
	return nil
}

// HandleChat routes an inbound chat message according to the sender's role.
// Messages from unregistered connections are logged and dropped.
func (r *Relay) HandleChat(connID string, msg ChatMessage) {
	role, ok := r.registry.RoleOf(connID)
	if !ok {
		r.log.Warn("Chat message from unregistered connection dropped",
			logger.StringField("conn_id", connID))
		return
	}

	switch role {
	case session.RoleAdmin:
		r.routeAdminChat(msg)
	default:
		r.routeVisitorChat(connID, msg)
	}
}

// routeVisitorChat delivers a visitor message to the admin connection (when
// present) and forwards it to Telegram. The sender gets no echo; the widget
// echoes locally. Telegram delivery never blocks nor rolls back the
// realtime delivery.
func (r *Relay) routeVisitorChat(connID string, msg ChatMessage) {
	if msg.UserInfo != nil {
		r.registry.RecordUserInfo(connID, *msg.UserInfo)
	}

	vs, ok := r.registry.Visitor(connID)
	if !ok {
		return
	}

	if r.metrics != nil {
		r.metrics.VisitorMessagesCounter.Inc()
	}

	if delivered := r.rt.SendToAdmin(msg.Text); !delivered {
		r.log.Debug("No admin connection, visitor message goes to Telegram only",
			logger.StringField("visitor_id", vs.VisitorID))
	}

	r.forwardToTelegram(formatVisitorMessage(msg.Text, vs.VisitorID, vs.UserInfo))
}

// routeAdminChat broadcasts an admin message to every visitor connection.
// Telegram is not involved for realtime admin messages.
func (r *Relay) routeAdminChat(msg ChatMessage) {
	if r.metrics != nil {
		r.metrics.AdminMessagesCounter.Inc()
	}
	n := r.rt.BroadcastToVisitors(msg.Text)
	r.log.Debug("Admin message broadcast", logger.IntField("recipients", n))
}

// HandleUserInfo records a visitor's contact info and announces it to the
// admin connection and Telegram. Submissions from the admin connection or
// from unregistered connections are silent no-ops.
func (r *Relay) HandleUserInfo(connID string, info session.UserInfo) {
	role, ok := r.registry.RoleOf(connID)
	if !ok || role != session.RoleVisitor {
		r.log.Debug("User info from non-visitor connection ignored",
			logger.StringField("conn_id", connID))
		return
	}

	r.registry.RecordUserInfo(connID, info)

	vs, ok := r.registry.Visitor(connID)
	if !ok || vs.UserInfo == nil {
		return
	}

	text := formatUserInfo(vs.VisitorID, vs.UserInfo)
	r.rt.SendToAdmin(text)
	r.forwardToTelegram(text)
}

// HandleDisconnect removes the connection's registry entry. Safe to call
// more than once; messages already handed to the relay still complete.
func (r *Relay) HandleDisconnect(connID string) {
	r.registry.Remove(connID)
	r.updateVisitorGauge()
	r.log.Debug("Connection removed", logger.StringField("conn_id", connID))
}

// HandleTelegramUpdate processes one inbound Telegram update, from either
// the poller or the webhook receiver. Updates from chats other than the
// configured admin chat, stale updates and malformed updates are dropped;
// accepted text is broadcast to every visitor connection as an admin
// message. The admin's realtime connection is not a delivery target here.
func (r *Relay) HandleTelegramUpdate(update *models.Update) {
	if update == nil {
		return
	}

	if !r.advanceCursor(update.ID) {
		r.log.Debug("Stale Telegram update dropped",
			logger.Int64Field("update_id", update.ID))
		r.countDroppedUpdate()
		return
	}

	if update.Message == nil || update.Message.Text == "" {
		r.log.Debug("Non-text Telegram update ignored",
			logger.Int64Field("update_id", update.ID))
		r.countDroppedUpdate()
		return
	}

	if update.Message.From != nil && update.Message.From.IsBot {
		r.countDroppedUpdate()
		return
	}

	if update.Message.Chat.ID != r.cfg.AdminChatID {
		r.log.Warn("Telegram update from unexpected chat dropped",
			logger.Int64Field("chat_id", update.Message.Chat.ID),
			logger.Int64Field("update_id", update.ID))
		r.countDroppedUpdate()
		return
	}

	n := r.rt.BroadcastToVisitors(adminPrefix + update.Message.Text)
	if r.metrics != nil {
		r.metrics.AdminMessagesCounter.Inc()
	}
	r.log.Info("Telegram admin reply broadcast",
		logger.Int64Field("update_id", update.ID),
		logger.IntField("recipients", n))
}

// advanceCursor moves lastUpdateID forward and reports whether the update
// is new. The next poll offset is always lastUpdateID+1.
func (r *Relay) advanceCursor(updateID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastUpdateID != 0 && updateID <= r.lastUpdateID {
		return false
	}
	r.lastUpdateID = updateID
	return true
}

// NextOffset returns the getUpdates offset implied by the updates seen so
// far: one greater than the highest update id processed.
func (r *Relay) NextOffset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastUpdateID == 0 {
		return 0
	}
	return r.lastUpdateID + 1
}

// forwardToTelegram sends text to the admin chat on its own goroutine.
// Failures are logged and counted, never retried, and never affect the
// realtime delivery that already happened.
func (r *Relay) forwardToTelegram(text string) {
	if r.metrics != nil {
		r.metrics.TelegramForwardsCounter.Inc()
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TelegramTimeout)
		defer cancel()

		if err := r.tg.Send(ctx, text); err != nil {
			if r.metrics != nil {
				r.metrics.TelegramFailuresCounter.Inc()
			}
			r.log.Error("Telegram send failed", logger.ErrorField(err))
		}
	}()
}

// Close waits for in-flight Telegram sends to finish.
func (r *Relay) Close() {
	r.pending.Wait()
}

func (r *Relay) countDroppedUpdate() {
	if r.metrics != nil {
		r.metrics.DroppedUpdatesCounter.Inc()
	}
}

func (r *Relay) updateVisitorGauge() {
	if r.metrics != nil {
		r.metrics.ConnectedVisitorsGauge.Set(float64(r.registry.VisitorCount()))
	}
}
