package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"consumo/internal/models"
)

// Ledger is the reading ledger the bot records into
type Ledger interface {
	NewReading(ctx context.Context, r models.Reading) (int, error)
	GetNextReadingID(ctx context.Context, user int64) (int, error)
	LastReadings(ctx context.Context, user int64, limit int) ([]models.Reading, error)
	Resync(ctx context.Context, user int64) (int, error)
}

// Exporter lists every journaled reading of a user
type Exporter interface {
	Readings(ctx context.Context, user int64) ([]models.Reading, error)
}

// sender is the part of the Telegram API the bot talks through
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api          *tgbotapi.BotAPI
	sender       sender
	ledger       Ledger
	exporter     Exporter
	allowedUsers map[int64]bool
	logger       *zap.Logger
	now          func() time.Time
}
