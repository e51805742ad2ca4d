package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
	"autopost/internal/usecase/budget"
)

const defaultPendingLimit = 5

// Moderation описывает операции над черновиками, доступные из бота.
type Moderation interface {
	ListDrafts(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.Draft, error)
	Approve(ctx context.Context, id string) (domain.Draft, error)
	Reject(ctx context.Context, id string, byUser bool) (domain.Draft, error)
}

// StatsSource отдаёт сводку детектора дублей.
type StatsSource interface {
	Stats(ctx context.Context) (domain.DedupStats, error)
}

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler обслуживает вебхук бота модерации.
type Handler struct {
	bot    botAPI
	log    zerolog.Logger
	drafts Moderation
	stats  StatsSource
	admins map[int64]struct{}
}

// NewHandler создаёт обработчик. Пустой admins не пускает никого.
func NewHandler(bot botAPI, log zerolog.Logger, drafts Moderation, stats StatsSource, admins []int64) *Handler {
	allowed := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		allowed[id] = struct{}{}
	}
	return &Handler{
		bot:    bot,
		log:    log.With().Str("component", "bot").Logger(),
		drafts: drafts,
		stats:  stats,
		admins: allowed,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) allowed(user *tgbotapi.User) bool {
	if user == nil {
		return false
	}
	_, ok := h.admins[user.ID]
	return ok
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !h.allowed(msg.From) {
		h.reply(msg.Chat.ID, "Доступ только для модераторов", nil)
		return
	}
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"), strings.HasPrefix(text, "/help"):
		h.reply(msg.Chat.ID, h.buildHelpMessage(), h.mainKeyboard())
	case strings.HasPrefix(text, "/pending"):
		limit := defaultPendingLimit
		if arg := strings.TrimSpace(strings.TrimPrefix(text, "/pending")); arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				h.reply(msg.Chat.ID, "Использование: /pending 10", nil)
				return
			}
			limit = n
		}
		h.handlePending(ctx, msg.Chat.ID, limit)
	case strings.HasPrefix(text, "/stats"):
		h.handleStats(ctx, msg.Chat.ID)
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help", nil)
	}
}

func (h *Handler) handlePending(ctx context.Context, chatID int64, limit int) {
	var drafts []domain.Draft
	for _, status := range []domain.DraftStatus{domain.DraftPending, domain.DraftNeedsReview} {
		batch, err := h.drafts.ListDrafts(ctx, status, limit)
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось получить черновики")
			h.reply(chatID, "Не удалось получить черновики. Попробуйте позже.", nil)
			return
		}
		drafts = append(drafts, batch...)
	}
	if len(drafts) == 0 {
		h.reply(chatID, "Очередь модерации пуста", nil)
		return
	}
	sort.SliceStable(drafts, func(i, j int) bool { return drafts[i].CreatedAt.After(drafts[j].CreatedAt) })
	if len(drafts) > limit {
		drafts = drafts[:limit]
	}
	for _, d := range drafts {
		h.reply(chatID, formatDraft(d), draftKeyboard(d.ID))
	}
}

func (h *Handler) handleStats(ctx context.Context, chatID int64) {
	stats, err := h.stats.Stats(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить статистику")
		h.reply(chatID, "Статистика временно недоступна", nil)
		return
	}
	h.reply(chatID, formatStats(stats), nil)
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	notice := ""
	if !h.allowed(cb.From) {
		notice = "Доступ только для модераторов"
	} else if cb.Message != nil {
		chatID := cb.Message.Chat.ID
		data := cb.Data
		switch {
		case data == "pending":
			h.handlePending(ctx, chatID, defaultPendingLimit)
		case data == "stats":
			h.handleStats(ctx, chatID)
		case strings.HasPrefix(data, "approve:"):
			notice = h.approve(ctx, chatID, strings.TrimPrefix(data, "approve:"))
		case strings.HasPrefix(data, "reject:"):
			notice = h.reject(ctx, chatID, strings.TrimPrefix(data, "reject:"))
		}
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, notice))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) approve(ctx context.Context, chatID int64, id string) string {
	draft, err := h.drafts.Approve(ctx, id)
	if err != nil {
		h.log.Warn().Err(err).Str("draft_id", id).Msg("одобрение не выполнено")
		h.reply(chatID, describeError(err), nil)
		return "Не опубликовано"
	}
	h.reply(chatID, fmt.Sprintf("Опубликовано, id поста: %s", draft.PostID), nil)
	return "Опубликовано"
}

func (h *Handler) reject(ctx context.Context, chatID int64, id string) string {
	if _, err := h.drafts.Reject(ctx, id, true); err != nil {
		h.log.Warn().Err(err).Str("draft_id", id).Msg("отклонение не выполнено")
		h.reply(chatID, describeError(err), nil)
		return "Ошибка"
	}
	return "Отклонено"
}

func describeError(err error) string {
	var (
		validation *domain.ValidationError
		publish    *domain.PublishError
	)
	switch {
	case errors.Is(err, domain.ErrDraftNotFound):
		return "Черновик не найден"
	case errors.Is(err, domain.ErrDraftNotPending):
		return "Черновик уже обработан"
	case errors.As(err, &validation):
		return fmt.Sprintf("Текст не помещается: %d из %d символов", validation.Length, validation.Limit)
	case errors.As(err, &publish):
		return fmt.Sprintf("Площадка %s отклонила публикацию, черновик отправлен на повторную проверку", publish.Platform)
	case errors.Is(err, domain.ErrTimeout):
		return "Площадка не ответила вовремя, попробуйте ещё раз"
	}
	return "Не удалось выполнить действие. Попробуйте позже."
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}
	start := time.Now()
	_, err := h.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось отправить сообщение")
	}
}

func (h *Handler) mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📝 На модерации", "pending"),
			tgbotapi.NewInlineKeyboardButtonData("📊 Статистика", "stats"),
		),
	)
	return &buttons
}

func draftKeyboard(id string) *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Опубликовать", "approve:"+id),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Отклонить", "reject:"+id),
		),
	)
	return &buttons
}

func formatDraft(d domain.Draft) string {
	lines := []string{
		fmt.Sprintf("%s · %s · %d/%d", d.Item.Source, d.Status, d.Length, budget.Limit),
		"",
		d.Tweet.Text(),
	}
	if d.LastError != "" {
		lines = append(lines, "", "Последняя ошибка: "+d.LastError)
	}
	return strings.Join(lines, "\n")
}

func formatStats(stats domain.DedupStats) string {
	lines := []string{
		fmt.Sprintf("Обработано материалов: %d", stats.TotalProcessed),
		fmt.Sprintf("Найдено дублей: %d", stats.DuplicatesDetected),
	}
	if len(stats.UniqueSources) > 0 {
		lines = append(lines, "", "По источникам:")
		for _, name := range stats.UniqueSources {
			s := stats.BySource[name]
			rejected := s.ByReason[domain.ReasonRejected] + s.ByReason[domain.ReasonUserRejected]
			lines = append(lines, fmt.Sprintf("• %s: %d (опубликовано %d, отклонено %d)", name, s.Total, s.ByReason[domain.ReasonApproved], rejected))
		}
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) buildHelpMessage() string {
	sections := []string{
		"📖 Бот модерации публикаций",
		"",
		"• /pending — показать черновики, ожидающие решения.",
		"• /pending 10 — показать до 10 черновиков.",
		"• /stats — статистика детектора дублей.",
		"",
		"Под каждым черновиком есть кнопки «Опубликовать» и «Отклонить».",
	}
	return strings.Join(sections, "\n")
}
