package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage",
				zap.Any("panic", r),
				zap.Int64("user_id", message.From.ID),
			)
			b.reply(message, "An error occurred while processing your request. Please try again.")
		}
	}()

	if !message.IsCommand() {
		b.reply(message, "I did not understand your message. Use /help to see available commands.")
		return
	}

	switch message.Command() {
	case "start", "help":
		b.handleStart(message)
	case "new":
		b.handleNew(ctx, message)
	case "next":
		b.handleNext(ctx, message)
	case "last":
		b.handleLast(ctx, message)
	case "resync":
		b.handleResync(ctx, message)
	case "export":
		b.handleExport(ctx, message)
	case "stats", "clear":
		b.reply(message, "This command is not available yet.")
	default:
		b.reply(message, "Unknown command. Use /help to see available commands.")
	}
}
