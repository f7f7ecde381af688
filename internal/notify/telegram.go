package notify

import (
	"context"
	"fmt"

	"kassir/internal/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier шлёт операторам сообщение, когда задача очереди
// исчерпала попытки и требует ручного вмешательства.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

// NewTelegramNotifier возвращает nil без ошибки, если бот не настроен:
// оповещения — необязательная подсистема.
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}

	return &TelegramNotifier{bot: bot, chatID: cfg.ChatID, logger: logger}, nil
}

func (n *TelegramNotifier) AlertDeadLetter(ctx context.Context, queue string, itemID string, lastError string) error {
	if n == nil {
		return nil
	}

	text := fmt.Sprintf(
		"⚠️ Задача синхронизации остановлена\nОчередь: %s\nID: %s\nОшибка: %s\nТребуется ручной повтор.",
		queue, itemID, lastError,
	)

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Str("queue", queue).Str("item_id", itemID).Msg("Failed to send dead letter alert")
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}
