// Package notify delivers intrusion alerts to the account owner.
package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dsmirnov/homesec/internal/logging"
)

// Telegram sends alerts as Telegram messages. Each account may carry its own
// chat id; defaultChat is used when it doesn't.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	defaultChat int64
	log         logging.Logger
}

func NewTelegram(token string, defaultChat int64, log logging.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	log.Info(context.Background(), "telegram notifier ready", "account", bot.Self.UserName)
	return &Telegram{bot: bot, defaultChat: defaultChat, log: log}, nil
}

func (t *Telegram) Alert(ctx context.Context, chat string, text string) error {
	chatID := t.defaultChat
	if chat != "" {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return fmt.Errorf("bad chat id %q: %w", chat, err)
		}
		chatID = id
	}
	if chatID == 0 {
		t.log.Debug(ctx, "no chat configured, alert dropped", "text", text)
		return nil
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("sending telegram alert: %w", err)
	}
	return nil
}

// Noop is used when no Telegram token is configured.
type Noop struct {
	log logging.Logger
}

func NewNoop(log logging.Logger) *Noop {
	return &Noop{log: log}
}

func (n *Noop) Alert(ctx context.Context, _ string, text string) error {
	n.log.Info(ctx, "alert", "text", text)
	return nil
}
