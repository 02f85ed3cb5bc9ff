package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/astanek/livechat-relay/pkg/logger"
)

const maxWebhookBody = 1 << 20

// WebhookReceiver decodes Telegram update callbacks posted by the API
// servers. It always answers 200 so Telegram never retries: a malformed
// body is a dropped update, not a delivery failure.
type WebhookReceiver struct {
	onUpdate UpdateHandler
	log      logger.Logger
}

// NewWebhookReceiver builds the HTTP handler for the webhook endpoint.
// It is independent of the Connector so it can serve without a live bot
// client.
func NewWebhookReceiver(onUpdate UpdateHandler, log logger.Logger) *WebhookReceiver {
	return &WebhookReceiver{onUpdate: onUpdate, log: log}
}

func (wr *WebhookReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer ack(w)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		wr.log.Warn("Webhook body read failed", logger.ErrorField(err))
		return
	}

	var update models.Update
	if err := json.Unmarshal(body, &update); err != nil {
		wr.log.Warn("Malformed webhook update dropped", logger.ErrorField(err))
		return
	}

	wr.onUpdate(&update)
}

func ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// RegisterWebhook tells Telegram to deliver updates to the configured
// public URL instead of polling, then reads the registration back.
func (c *Connector) RegisterWebhook(ctx context.Context) error {
	ok, err := c.bot.SetWebhook(ctx, &bot.SetWebhookParams{URL: c.cfg.WebhookURL})
	if err != nil {
		return err
	}
	if !ok {
		c.log.Warn("Webhook registration not confirmed",
			logger.StringField("url", c.cfg.WebhookURL))
		return nil
	}

	info, err := c.bot.GetWebhookInfo(ctx)
	if err != nil {
		c.log.Warn("Webhook info unavailable", logger.ErrorField(err))
		return nil
	}
	c.log.Info("Webhook registered",
		logger.StringField("url", info.URL),
		logger.IntField("pending_updates", info.PendingUpdateCount))
	return nil
}

// RemoveWebhook unregisters the webhook on shutdown so a later polling
// deployment starts clean.
func (c *Connector) RemoveWebhook(ctx context.Context) error {
	_, err := c.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: false})
	return err
}
