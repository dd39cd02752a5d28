package bot

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"consumo/internal/ledger"
	"consumo/internal/storage"
)

const (
	defaultLastReadings = 5
	maxLastReadings     = 20
)

const helpText = `This bot stores fuel consumption ⛽

Available commands:
` + newUsage + ` - Record a reading
/next - Show the id of the next reading
/last [n] - Show your last readings
/resync - Repair your reading counter
/export - Download your readings as CSV

Example: /new 540 41.5 1.459 partial 14032020`

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	b.reply(message, helpText)
}

// handleNew records a new reading
func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID

	reading, err := ParseNewCommand(message.CommandArguments())
	if err != nil {
		b.logger.Info("Message parsing error",
			zap.Int64("user_id", userID),
			zap.String("text", message.Text),
			zap.Error(err),
		)
		b.reply(message, fmt.Sprintf("I did not understand your message.\nUsage: %s", newUsage))
		return
	}
	reading.User = userID
	if reading.Date.IsZero() {
		reading.Date = b.now()
	}

	readingID, err := b.ledger.NewReading(ctx, reading)
	if err != nil {
		b.logger.Error("There was an error saving the reading",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, ledger.ErrInvalidReading):
			b.reply(message, fmt.Sprintf("The reading is not valid: %v", err))
		case errors.Is(err, storage.ErrConflict):
			b.reply(message, "Another reading was saved at the same time. Please send it again, or use /resync if this keeps happening.")
		default:
			b.reply(message, "Sorry, the reading could not be saved. Please try again later.")
		}
		return
	}

	reading.ReadingID = readingID
	text := formatReading(reading)
	b.logger.Info("Reading recorded", zap.Int64("user_id", userID), zap.String("reading", text))
	b.reply(message, text)
}

// handleNext shows the id the next reading will get
func (b *Bot) handleNext(ctx context.Context, message *tgbotapi.Message) {
	next, err := b.ledger.GetNextReadingID(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to get next reading id", zap.Int64("user_id", message.From.ID), zap.Error(err))
		b.reply(message, "Sorry, something went wrong. Please try again later.")
		return
	}
	b.reply(message, fmt.Sprintf("Next reading: #%d", next))
}

// handleLast shows the most recent readings
func (b *Bot) handleLast(ctx context.Context, message *tgbotapi.Message) {
	limit := defaultLastReadings
	if arg := strings.TrimSpace(message.CommandArguments()); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			b.reply(message, "Usage: /last [n]")
			return
		}
		limit = min(n, maxLastReadings)
	}

	readings, err := b.ledger.LastReadings(ctx, message.From.ID, limit)
	if err != nil {
		b.logger.Error("Failed to list readings", zap.Int64("user_id", message.From.ID), zap.Error(err))
		b.reply(message, "Sorry, something went wrong. Please try again later.")
		return
	}

	if len(readings) == 0 {
		b.reply(message, "No readings recorded yet.")
		return
	}

	var text strings.Builder
	text.WriteString("Last readings:\n\n")
	for _, r := range readings {
		text.WriteString(formatReading(r))
		text.WriteByte('\n')
	}
	b.reply(message, text.String())
}

// handleResync repairs a stale reading counter
func (b *Bot) handleResync(ctx context.Context, message *tgbotapi.Message) {
	last, err := b.ledger.Resync(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to resync reading counter", zap.Int64("user_id", message.From.ID), zap.Error(err))
		b.reply(message, "Sorry, something went wrong. Please try again later.")
		return
	}
	b.reply(message, fmt.Sprintf("Reading counter is at #%d.", last))
}

// handleExport sends the journaled readings as a CSV document
func (b *Bot) handleExport(ctx context.Context, message *tgbotapi.Message) {
	if b.exporter == nil {
		b.reply(message, "Export is not configured.")
		return
	}

	readings, err := b.exporter.Readings(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to export readings", zap.Int64("user_id", message.From.ID), zap.Error(err))
		b.reply(message, "Sorry, something went wrong. Please try again later.")
		return
	}
	if len(readings) == 0 {
		b.reply(message, "No readings recorded yet.")
		return
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"reading_id", "date", "distance_km", "volume_l", "price_per_l", "total", "partial"})
	for _, r := range readings {
		w.Write([]string{
			strconv.Itoa(r.ReadingID),
			r.Date.Format("2006-01-02"),
			strconv.Itoa(r.Distance),
			formatDecimal(r.Volume),
			formatDecimal(r.Price),
			strconv.FormatFloat(r.Total(), 'f', 2, 64),
			strconv.FormatBool(r.Partial),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		b.logger.Error("Failed to write CSV export", zap.Error(err))
		return
	}

	doc := tgbotapi.NewDocument(message.Chat.ID, tgbotapi.FileBytes{Name: "readings.csv", Bytes: buf.Bytes()})
	b.sendMessage(doc)
}
