package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/astanek/livechat-relay/internal/session"
)

// Event types carried in the JSON envelope. The same vocabulary is spoken
// in both directions; see the table in the protocol contract.
const (
	EventRegister  = "register"     // client -> server: "admin" | "visitor"
	EventVisitorID = "visitor_id"   // server -> client: generated visitor id
	EventSystem    = "system"       // server -> client: status text
	EventUserInfo  = "user_info"    // client -> server: contact info
	EventChat      = "chat_message" // both directions
)

// Envelope is the wire frame for every message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals an envelope with the given payload.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(Envelope{Type: event, Payload: raw})
}

// ChatPayload is the structured form of an inbound chat_message payload.
// Clients may alternatively send a bare JSON string.
type ChatPayload struct {
	Text     string            `json:"text"`
	UserInfo *session.UserInfo `json:"userInfo,omitempty"`
}

// DecodeChatPayload accepts either a bare string or a {text, userInfo}
// object.
func DecodeChatPayload(raw json.RawMessage) (ChatPayload, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return ChatPayload{Text: text}, nil
	}

	var p ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ChatPayload{}, fmt.Errorf("decode chat payload: %w", err)
	}
	return p, nil
}
