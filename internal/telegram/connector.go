// Package telegram is the bot-side transport of the relay: outbound
// sends to the admin chat plus inbound updates by long polling or
// webhook.
package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/astanek/livechat-relay/pkg/logger"
)

// maxMessageLen is Telegram's hard limit on message text.
const maxMessageLen = 4096

// UpdateHandler consumes one inbound update. The relay core's
// HandleTelegramUpdate satisfies it.
type UpdateHandler func(update *models.Update)

// Config holds Telegram transport settings.
type Config struct {
	BotToken    string // Bot token from @BotFather
	AdminChatID int64  // Chat that receives forwarded visitor messages
	WebhookURL  string // Public URL for webhook mode, empty for polling
	Debug       bool   // Enable library debug logging
}

// Connector wraps the bot API client. Inbound updates from either
// polling or the webhook receiver are funneled through the same
// UpdateHandler.
type Connector struct {
	bot      *bot.Bot
	cfg      Config
	log      logger.Logger
	onUpdate UpdateHandler
}

// NewConnector creates the Telegram transport. onUpdate receives every
// inbound update; it must not be nil.
func NewConnector(cfg Config, onUpdate UpdateHandler, log logger.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.AdminChatID == 0 {
		return nil, fmt.Errorf("admin chat id is required")
	}
	if onUpdate == nil {
		return nil, fmt.Errorf("update handler is required")
	}

	c := &Connector{
		cfg:      cfg,
		log:      log,
		onUpdate: onUpdate,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(c.handleUpdate),
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	c.bot = b

	log.Info("Telegram bot initialized",
		logger.Int64Field("admin_chat_id", cfg.AdminChatID),
		logger.BoolField("webhook", cfg.WebhookURL != ""))
	return c, nil
}

// Send delivers text to the admin chat, splitting messages that exceed
// the API limit.
func (c *Connector) Send(ctx context.Context, text string) error {
	for _, chunk := range splitMessage(text) {
		_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: c.cfg.AdminChatID,
			Text:   chunk,
		})
		if err != nil {
			return fmt.Errorf("send to admin chat: %w", err)
		}
	}
	return nil
}

// BotInfo returns the bot's own account, used as a readiness probe.
func (c *Connector) BotInfo(ctx context.Context) (*models.User, error) {
	return c.bot.GetMe(ctx)
}

// handleUpdate receives updates from the library's polling loop and
// forwards them to the relay. Filtering happens there, not here, so the
// webhook path applies identical rules.
func (c *Connector) handleUpdate(_ context.Context, _ *bot.Bot, update *models.Update) {
	c.onUpdate(update)
}

// splitMessage cuts text into chunks within the API limit, preferring
// newline boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxMessageLen {
		cut := maxMessageLen
		for i := maxMessageLen; i > maxMessageLen/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
