package channels

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/delivery"
)

const telegramLimit = 4096

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Token string `yaml:"token" env:"IRONCLAW_TELEGRAM_TOKEN"`
	// AllowFrom lists permitted sender ids; empty means public.
	AllowFrom []string `yaml:"allow_from"`
	// DefaultChatID receives proactive posts; optional.
	DefaultChatID int64 `yaml:"default_chat_id"`
}

// Telegram is the long-polling Telegram adapter.
type Telegram struct {
	bot       *telego.Bot
	allowList AllowList
	defChatID int64
}

// NewTelegram builds the adapter, validating the token eagerly so a bad
// config fails at startup rather than on first poll.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Telegram{
		bot:       bot,
		allowList: AllowList(cfg.AllowFrom),
		defChatID: cfg.DefaultChatID,
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Allows(userID string) bool { return t.allowList.Allows(userID) }

func (t *Telegram) Limit() int { return telegramLimit }

// Start long-polls for updates until ctx is cancelled. A dead update
// stream surfaces as an error so the supervisor can restart us.
func (t *Telegram) Start(ctx context.Context, onMessage OnMessage) error {
	updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram long polling: %w", err)
	}

	for update := range updates {
		msg := update.Message
		if msg == nil || msg.Text == "" || msg.From == nil {
			continue
		}
		onMessage(ctx, msg.Text, bus.DeliveryContext{
			Channel: t.Name(),
			ChatID:  strconv.FormatInt(msg.Chat.ID, 10),
			UserID:  strconv.FormatInt(msg.From.ID, 10),
		})
	}

	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("telegram update stream closed")
}

func (t *Telegram) Reply(ctx context.Context, content string, dctx bus.DeliveryContext) error {
	chatID, err := strconv.ParseInt(dctx.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", dctx.ChatID, delivery.ErrInvalidDestination)
	}
	return t.send(ctx, chatID, content)
}

func (t *Telegram) Post(ctx context.Context, content string) error {
	if t.defChatID == 0 {
		return fmt.Errorf("telegram has no default chat configured: %w", delivery.ErrInvalidDestination)
	}
	return t.send(ctx, t.defChatID, content)
}

func (t *Telegram) send(ctx context.Context, chatID int64, content string) error {
	if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), content)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *Telegram) Stop(ctx context.Context) error {
	// Long polling stops with the start context; nothing else to release.
	return nil
}
