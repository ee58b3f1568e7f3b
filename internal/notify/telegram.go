package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"mailpilot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram implements domain.Chat via the Telegram bot API. The bot
// client is created on first use: tgbotapi.NewBotAPI performs a
// network call, which does not belong in a constructor.
type Telegram struct {
	token  string
	chatID int64
	logger *slog.Logger

	once    sync.Once
	bot     *tgbotapi.BotAPI
	initErr error
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
	Logger   *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:  cfg.BotToken,
		chatID: cfg.ChatID,
		logger: cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) init() (*tgbotapi.BotAPI, error) {
	t.once.Do(func() {
		bot, err := tgbotapi.NewBotAPI(t.token)
		if err != nil {
			t.initErr = err
			return
		}
		t.bot = bot
		t.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	})
	return t.bot, t.initErr
}

func (t *Telegram) PostMessage(ctx context.Context, text string) error {
	bot, err := t.init()
	if err != nil {
		return domain.Transient(fmt.Errorf("%w: telegram auth: %v", domain.ErrChatTransient, err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := bot.Send(msg); err != nil {
		return domain.Transient(fmt.Errorf("%w: telegram send: %v", domain.ErrChatTransient, err))
	}
	return nil
}
