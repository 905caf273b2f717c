package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"melon-bot/internal/db"
	"melon-bot/internal/logger"
)

// handleTrial выдаёт пробный аккаунт. Свежевыданная ссылка некоторое
// время живёт в кеше: повторное нажатие кнопки не создаёт второй
// аккаунт, а возвращает ту же ссылку.
func (s *Service) handleTrial(user *db.User, chatID int64) {
	ctx := context.Background()

	if cached, err := s.cache.TrialLink(ctx, user.TgID); err == nil && cached != "" {
		s.sendTrialLink(chatID, cached)
		return
	}

	order, err := s.billing.CreateTrial(ctx, user)
	if err != nil {
		s.handleError(chatID, err)
		return
	}

	if err := s.cache.StoreTrialLink(ctx, user.TgID, order.ConfigLink); err != nil {
		logger.Warn("не удалось закешировать пробную ссылку",
			zap.Int64("tg_id", user.TgID), zap.Error(err))
	}

	s.sendTrialLink(chatID, order.ConfigLink)
}

func (s *Service) sendTrialLink(chatID int64, link string) {
	text := fmt.Sprintf(`🎁 Ваш пробный аккаунт готов!

⏱ Срок действия: %d ч.
📊 Трафик: %d МБ

🔗 Ссылка для подключения:
%s`,
		s.cfg.TrialDurationHours,
		s.cfg.TrialVolumeMB,
		link,
	)

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Тарифы", "/plans"),
		),
	)
	s.replyWithKeyboard(chatID, text, kb)
}
