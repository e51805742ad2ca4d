package publisher

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

const platformTelegram = "telegram"

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram публикует посты в канал через Bot API.
type Telegram struct {
	bot     sender
	channel string
}

var _ domain.Publisher = (*Telegram)(nil)

// NewTelegram создаёт публикатора. channel — @username канала или числовой chat id.
func NewTelegram(bot sender, channel string) *Telegram {
	return &Telegram{bot: bot, channel: strings.TrimSpace(channel)}
}

func (t *Telegram) message(text string) (tgbotapi.MessageConfig, error) {
	if t.channel == "" {
		return tgbotapi.MessageConfig{}, errors.New("channel is empty")
	}
	var msg tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(t.channel, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(t.channel, text)
	}
	return msg, nil
}

// Publish отправляет текст в канал. Контекст проверяется до отправки:
// Bot API клиент не принимает ctx.
func (t *Telegram) Publish(ctx context.Context, text string) (domain.PublishResult, error) {
	start := time.Now()
	id, err := t.publish(ctx, text)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", t.channel, start, err)
	metrics.ObservePublish(platformTelegram, err)
	if err != nil {
		return domain.PublishResult{}, &domain.PublishError{Platform: platformTelegram, Err: err}
	}
	return domain.PublishResult{ID: id}, nil
}

func (t *Telegram) publish(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg, err := t.message(text)
	if err != nil {
		return "", err
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}
