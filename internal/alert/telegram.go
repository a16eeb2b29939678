// Package alert raises out-of-band clinician notifications for dangerous
// signs. Alert delivery is best effort and never blocks or fails the
// patient-facing pipeline.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mamacare/internal/domain"
)

// Telegram notifies the on-call clinician chat when a message classifies at
// or above the configured urgency.
type Telegram struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	minUrgency domain.Urgency
	logger     *slog.Logger
}

type TelegramConfig struct {
	Token      string
	ChatID     string
	MinUrgency string // "critical" (default) | "high"
	Logger     *slog.Logger
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}
	min := domain.UrgencyCritical
	if cfg.MinUrgency == "high" {
		min = domain.UrgencyHigh
	}
	cfg.Logger.Info("clinician alerts enabled", "bot", bot.Self.UserName, "min_urgency", min)
	return &Telegram{bot: bot, chatID: chatID, minUrgency: min, logger: cfg.Logger}, nil
}

// Alert sends a triage notification. Below-threshold urgencies are a no-op.
func (t *Telegram) Alert(ctx context.Context, patient *domain.Patient, urgency domain.Urgency, message string) error {
	if !urgency.MoreSevere(t.minUrgency) && urgency != t.minUrgency {
		return nil
	}

	text := fmt.Sprintf("⚠️ %s triage alert\nPatient: %s (week %d)\nPhone: %s\nMessage: %s",
		urgency, patient.Name, patient.GestationalWeek, patient.Address, message)

	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return domain.ProviderError("telegram alert", err)
	}
	t.logger.Info("clinician alerted", "patient_id", patient.ID, "urgency", urgency)
	return nil
}
