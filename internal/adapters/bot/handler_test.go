package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"autopost/internal/domain"
)

type recordingBot struct {
	sent      []tgbotapi.MessageConfig
	callbacks []tgbotapi.CallbackConfig
}

func (b *recordingBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (b *recordingBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		b.callbacks = append(b.callbacks, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type stubModeration struct {
	byStatus   map[domain.DraftStatus][]domain.Draft
	approveErr error
	approved   []string
	rejected   []string
}

func (s *stubModeration) ListDrafts(_ context.Context, status domain.DraftStatus, _ int) ([]domain.Draft, error) {
	return s.byStatus[status], nil
}

func (s *stubModeration) Approve(_ context.Context, id string) (domain.Draft, error) {
	s.approved = append(s.approved, id)
	if s.approveErr != nil {
		return domain.Draft{}, s.approveErr
	}
	return domain.Draft{ID: id, PostID: "1789"}, nil
}

func (s *stubModeration) Reject(_ context.Context, id string, _ bool) (domain.Draft, error) {
	s.rejected = append(s.rejected, id)
	return domain.Draft{ID: id}, nil
}

type stubStats struct{}

func (stubStats) Stats(context.Context) (domain.DedupStats, error) {
	return domain.DedupStats{
		TotalProcessed:     4,
		DuplicatesDetected: 2,
		UniqueSources:      []string{"habr.com"},
		BySource: map[string]domain.SourceStats{
			"habr.com": {Total: 4, ByReason: map[domain.DispositionReason]int{domain.ReasonApproved: 1, domain.ReasonUserRejected: 2}},
		},
	}, nil
}

func message(from int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: text,
	}}
}

func callback(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		Data:    data,
	}}
}

func TestPendingListsDraftsWithButtons(t *testing.T) {
	now := time.Now()
	mod := &stubModeration{byStatus: map[domain.DraftStatus][]domain.Draft{
		domain.DraftPending:     {{ID: "old", CreatedAt: now.Add(-time.Hour), Tweet: domain.TweetDraft{Body: "старый"}}},
		domain.DraftNeedsReview: {{ID: "new", CreatedAt: now, Tweet: domain.TweetDraft{Body: "новый"}, LastError: "429"}},
	}}
	bot := &recordingBot{}
	h := NewHandler(bot, zerolog.Nop(), mod, stubStats{}, []int64{1})

	h.HandleUpdate(context.Background(), message(1, "/pending"))

	if len(bot.sent) != 2 {
		t.Fatalf("ожидали 2 сообщения, получили %d", len(bot.sent))
	}
	if !strings.Contains(bot.sent[0].Text, "новый") || !strings.Contains(bot.sent[0].Text, "Последняя ошибка: 429") {
		t.Fatalf("свежий черновик должен идти первым: %q", bot.sent[0].Text)
	}
	markup, ok := bot.sent[0].ReplyMarkup.(*tgbotapi.InlineKeyboardMarkup)
	if !ok || *markup.InlineKeyboard[0][0].CallbackData != "approve:new" {
		t.Fatalf("нет кнопки одобрения")
	}
}

func TestPendingRespectsLimitAndEmpty(t *testing.T) {
	bot := &recordingBot{}
	h := NewHandler(bot, zerolog.Nop(), &stubModeration{}, stubStats{}, []int64{1})

	h.HandleUpdate(context.Background(), message(1, "/pending"))
	if len(bot.sent) != 1 || bot.sent[0].Text != "Очередь модерации пуста" {
		t.Fatalf("неожиданный ответ на пустую очередь: %+v", bot.sent)
	}
	h.HandleUpdate(context.Background(), message(1, "/pending abc"))
	if !strings.Contains(bot.sent[1].Text, "Использование") {
		t.Fatalf("ожидали подсказку, получили %q", bot.sent[1].Text)
	}
}

func TestCallbacksApproveAndReject(t *testing.T) {
	mod := &stubModeration{}
	bot := &recordingBot{}
	h := NewHandler(bot, zerolog.Nop(), mod, stubStats{}, []int64{1})

	h.HandleUpdate(context.Background(), callback(1, "approve:d1"))
	h.HandleUpdate(context.Background(), callback(1, "reject:d2"))

	if len(mod.approved) != 1 || mod.approved[0] != "d1" || len(mod.rejected) != 1 || mod.rejected[0] != "d2" {
		t.Fatalf("действия не переданы: %v %v", mod.approved, mod.rejected)
	}
	if len(bot.callbacks) != 2 || bot.callbacks[0].Text != "Опубликовано" || bot.callbacks[1].Text != "Отклонено" {
		t.Fatalf("неожиданные ответы на callback: %+v", bot.callbacks)
	}
	if !strings.Contains(bot.sent[0].Text, "1789") {
		t.Fatalf("нет id поста в ответе: %q", bot.sent[0].Text)
	}
}

func TestApproveErrorIsExplained(t *testing.T) {
	mod := &stubModeration{approveErr: &domain.ValidationError{Length: 301, Limit: 280}}
	bot := &recordingBot{}
	h := NewHandler(bot, zerolog.Nop(), mod, stubStats{}, []int64{1})

	h.HandleUpdate(context.Background(), callback(1, "approve:d1"))
	if len(bot.sent) != 1 || !strings.Contains(bot.sent[0].Text, "301 из 280") {
		t.Fatalf("ожидали пояснение о длине: %+v", bot.sent)
	}

	if got := describeError(errors.New("x")); !strings.Contains(got, "Попробуйте позже") {
		t.Fatalf("неожиданный текст для прочей ошибки: %q", got)
	}
}

func TestNonAdminIsDenied(t *testing.T) {
	mod := &stubModeration{}
	bot := &recordingBot{}
	h := NewHandler(bot, zerolog.Nop(), mod, stubStats{}, []int64{42})

	h.HandleUpdate(context.Background(), message(7, "/pending"))
	h.HandleUpdate(context.Background(), callback(7, "approve:d1"))

	if len(mod.approved) != 0 {
		t.Fatalf("не-модератор не должен публиковать")
	}
	if bot.sent[0].Text != "Доступ только для модераторов" || bot.callbacks[0].Text != "Доступ только для модераторов" {
		t.Fatalf("ожидали отказ: %+v %+v", bot.sent, bot.callbacks)
	}
}

func TestStatsMessage(t *testing.T) {
	bot := &recordingBot{}
	h := NewHandler(bot, zerolog.Nop(), &stubModeration{}, stubStats{}, []int64{1})

	h.HandleUpdate(context.Background(), message(1, "/stats"))
	text := bot.sent[0].Text
	if !strings.Contains(text, "Найдено дублей: 2\n") {
		t.Fatalf("ожидали общий счётчик дублей: %q", text)
	}
	if !strings.Contains(text, "Обработано материалов: 4") || !strings.Contains(text, "habr.com: 4 (опубликовано 1, отклонено 2)") {
		t.Fatalf("неожиданная статистика: %q", text)
	}
}

func TestEmptyAdminsDeniesEveryone(t *testing.T) {
	mod := &stubModeration{}
	bot := &recordingBot{}
	h := NewHandler(bot, zerolog.Nop(), mod, stubStats{}, nil)

	h.HandleUpdate(context.Background(), callback(999999, "approve:d1"))
	h.HandleUpdate(context.Background(), message(999999, "/pending"))

	if len(mod.approved) != 0 {
		t.Fatalf("без списка модераторов публиковать нельзя: %v", mod.approved)
	}
	if len(bot.callbacks) != 1 || bot.callbacks[0].Text != "Доступ только для модераторов" {
		t.Fatalf("ожидали отказ: %+v", bot.callbacks)
	}
}
