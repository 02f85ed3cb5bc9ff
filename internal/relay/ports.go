package relay

import "context"

// RealtimeTransport is the capability the relay core needs from the
// connection layer. The concrete implementation today is the gorilla
// websocket hub; the interface exists so an alternative transport can be
// swapped in without touching routing logic.
type RealtimeTransport interface {
	// SendToAdmin delivers a chat message to the admin connection.
	// Returns false when no admin connection exists.
	SendToAdmin(text string) bool

	// BroadcastToVisitors delivers a chat message to every visitor
	// connection and returns the number of recipients.
	BroadcastToVisitors(text string) int

	// SendVisitorID informs a visitor connection of its generated id.
	SendVisitorID(connID, visitorID string) error

	// SendSystem delivers informational status text to one connection.
	SendSystem(connID, text string) error
}

// TelegramSender is the outbound half of the Telegram transport. Send
// reports failure to the caller instead of swallowing it; the relay logs
// and counts failures but does not retry.
type TelegramSender interface {
	Send(ctx context.Context, text string) error
}

// NopSender is used when the Telegram transport is not configured: visitor
// traffic still flows between browsers, Telegram forwarding silently
// becomes a no-op.
type NopSender struct{}

func (NopSender) Send(context.Context, string) error { return nil }
