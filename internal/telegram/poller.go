package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
)

// StartPolling removes any registered webhook and runs the long-polling
// loop until ctx is cancelled. It blocks; run it on its own goroutine.
func (c *Connector) StartPolling(ctx context.Context) error {
	// A leftover webhook registration makes getUpdates return 409.
	ok, err := c.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: false})
	if err != nil {
		return fmt.Errorf("delete webhook before polling: %w", err)
	}
	if !ok {
		c.log.Warn("Webhook deletion not confirmed, polling anyway")
	}

	c.log.Info("Telegram polling started")
	c.bot.Start(ctx)
	c.log.Info("Telegram polling stopped")
	return nil
}
