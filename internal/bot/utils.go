package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// sendMessage sends any chattable, logging failures
func (b *Bot) sendMessage(msg tgbotapi.Chattable) {
	if b.sender == nil {
		return // For testing
	}

	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Error(err))
	}
}

// reply answers in the chat the message came from
func (b *Bot) reply(message *tgbotapi.Message, text string) {
	b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, text))
}
