package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Start runs the bot in polling mode until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	_, err := b.api.Request(tgbotapi.DeleteWebhookConfig{})
	if err != nil {
		b.logger.Warn("Failed to delete webhook", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Bot started successfully. Waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Stopped receiving updates")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// webhookPath is where the app serves Telegram updates
const webhookPath = "/telegram-webhook"

// StartWebhook registers baseURL + webhookPath with Telegram
func (b *Bot) StartWebhook(baseURL string) error {
	endpoint := strings.TrimSuffix(baseURL, "/") + webhookPath
	b.logger.Info("Setting up webhook", zap.String("endpoint", endpoint))

	webhookConfig, err := tgbotapi.NewWebhook(endpoint)
	if err != nil {
		return fmt.Errorf("invalid webhook URL %q: %w", endpoint, err)
	}
	webhookConfig.MaxConnections = 40
	webhookConfig.AllowedUpdates = []string{"message"}

	if _, err := b.api.Request(webhookConfig); err != nil {
		b.logger.Error("Failed to set webhook", zap.Error(err), zap.String("endpoint", endpoint))
		return fmt.Errorf("failed to set webhook: %w", err)
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		b.logger.Warn("Failed to get webhook info", zap.Error(err))
		return nil
	}
	if info.URL != endpoint {
		return fmt.Errorf("telegram reports webhook %q, expected %q", info.URL, endpoint)
	}
	if info.LastErrorDate != 0 {
		b.logger.Warn("Telegram reported a previous webhook delivery error",
			zap.String("last_error", info.LastErrorMessage),
			zap.Time("at", time.Unix(int64(info.LastErrorDate), 0)),
		)
	}
	b.logger.Info("Webhook set successfully",
		zap.String("url", info.URL),
		zap.Int("pending_updates", info.PendingUpdateCount),
	)
	return nil
}

// HandleUpdate processes a single update from polling or webhook
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.From == nil {
		return
	}

	if !b.allowedUsers[message.From.ID] {
		b.logger.Warn("Unauthorized access attempt",
			zap.Int64("user_id", message.From.ID),
			zap.String("username", message.From.UserName),
			zap.String("first_name", message.From.FirstName),
			zap.String("last_name", message.From.LastName),
			zap.String("text", message.Text),
		)
		b.reply(message, "Sorry, you are not allowed to use this service.")
		return
	}

	b.handleMessage(ctx, message)
}
