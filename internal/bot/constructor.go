package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// menuCommands is the command list shown by Telegram clients
var menuCommands = []tgbotapi.BotCommand{
	{Command: "new", Description: "Record a reading: km liters price [partial] [DDMMYYYY]"},
	{Command: "next", Description: "Show the id of the next reading"},
	{Command: "last", Description: "Show your last readings"},
	{Command: "resync", Description: "Repair your reading counter"},
	{Command: "export", Description: "Download your readings as CSV"},
	{Command: "help", Description: "Show help"},
}

// NewBot connects to Telegram and registers the command menu
func NewBot(token string, ledger Ledger, allowedUserIDs []int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, ledger, allowedUserIDs, logger)
	b.api = api
	b.registerCommands()

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))
	return b, nil
}

// newBot builds a bot replying through s
func newBot(s sender, ledger Ledger, allowedUserIDs []int64, logger *zap.Logger) *Bot {
	allowedUsers := make(map[int64]bool, len(allowedUserIDs))
	for _, id := range allowedUserIDs {
		allowedUsers[id] = true
	}

	return &Bot{
		sender:       s,
		ledger:       ledger,
		allowedUsers: allowedUsers,
		logger:       logger,
		now:          time.Now,
	}
}

// registerCommands publishes menuCommands; failure only costs the client menu
func (b *Bot) registerCommands() {
	if _, err := b.sender.Request(tgbotapi.NewSetMyCommands(menuCommands...)); err != nil {
		b.logger.Warn("Failed to register bot commands", zap.Error(err))
	}
}

// SetExporter enables the /export command
func (b *Bot) SetExporter(exporter Exporter) {
	b.exporter = exporter
}
