// Package realtime carries the websocket side of the relay: the JSON
// envelope protocol, per-connection write pumps and the hub that fans
// messages out to registered roles.
package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astanek/livechat-relay/internal/relay"
	"github.com/astanek/livechat-relay/internal/session"
	"github.com/astanek/livechat-relay/pkg/logger"
)

const maxMessageSize = 64 * 1024

// Handler upgrades HTTP requests to websocket connections and feeds
// decoded events into the relay core.
type Handler struct {
	hub      *Hub
	relay    *relay.Relay
	log      logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket endpoint. allowedOrigins restricts the
// Origin header on upgrade; an empty list allows every origin.
func NewHandler(hub *Hub, r *relay.Relay, log logger.Logger, allowedOrigins []string) *Handler {
	h := &Handler{hub: hub, relay: r, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSuffix(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		_, ok := set[strings.TrimSuffix(strings.ToLower(origin), "/")]
		return ok
	}
}

// ServeHTTP upgrades the request and runs the read loop until the peer
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", logger.ErrorField(err))
		return
	}

	conn := NewConnection(ws)
	h.hub.Add(conn)
	h.log.Info("Websocket connected",
		logger.StringField("conn_id", conn.ID()),
		logger.StringField("remote", r.RemoteAddr))

	defer func() {
		h.hub.Remove(conn)
		h.relay.HandleDisconnect(conn.ID())
		_ = conn.Close()
		h.log.Info("Websocket disconnected", logger.StringField("conn_id", conn.ID()))
	}()

	h.readLoop(conn)
}

func (h *Handler) readLoop(conn *Connection) {
	ws := conn.ws
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("Websocket read error",
					logger.StringField("conn_id", conn.ID()),
					logger.ErrorField(err))
			}
			return
		}
		h.dispatch(conn, data)
	}
}

// dispatch decodes one envelope and hands it to the relay. Malformed or
// unknown frames are logged and dropped; they never terminate the
// connection.
func (h *Handler) dispatch(conn *Connection, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.log.Warn("Malformed frame dropped",
			logger.StringField("conn_id", conn.ID()),
			logger.ErrorField(err))
		return
	}

	switch env.Type {
	case EventRegister:
		var role string
		if err := json.Unmarshal(env.Payload, &role); err != nil {
			h.log.Warn("Malformed register payload dropped",
				logger.StringField("conn_id", conn.ID()))
			return
		}
		_ = h.relay.HandleRegister(conn.ID(), role)

	case EventChat:
		p, err := DecodeChatPayload(env.Payload)
		if err != nil {
			h.log.Warn("Malformed chat payload dropped",
				logger.StringField("conn_id", conn.ID()),
				logger.ErrorField(err))
			return
		}
		h.relay.HandleChat(conn.ID(), relay.ChatMessage{Text: p.Text, UserInfo: p.UserInfo})

	case EventUserInfo:
		var info session.UserInfo
		if err := json.Unmarshal(env.Payload, &info); err != nil {
			h.log.Warn("Malformed user info payload dropped",
				logger.StringField("conn_id", conn.ID()),
				logger.ErrorField(err))
			return
		}
		h.relay.HandleUserInfo(conn.ID(), info)

	default:
		h.log.Warn("Unknown event type dropped",
			logger.StringField("conn_id", conn.ID()),
			logger.StringField("type", env.Type))
	}
}
