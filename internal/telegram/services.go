package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"melon-bot/internal/db"
)

// handleMyServices - список оплаченных подключений пользователя.
// Пополнения и аудит-записи продлений подключениями не являются.
func (s *Service) handleMyServices(user *db.User, chatID int64) {
	var orders []db.Order
	err := s.repo.DB().
		Preload("Plan").
		Where("user_id = ? AND status = ? AND panel_username <> '' AND renews_order_id IS NULL",
			user.ID, db.OrderStatusPaid).
		Order("id DESC").
		Find(&orders).Error
	if err != nil {
		s.handleError(chatID, ErrDatabasef("load services: %v", err))
		return
	}

	if len(orders) == 0 {
		s.reply(chatID, "У вас пока нет подключений. Посмотрите тарифы: /plans")
		return
	}

	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, order := range orders {
		label := fmt.Sprintf("%s %s", serviceEmoji(&order), order.PanelUsername)
		if order.ExpiresAt != nil {
			label += " до " + order.ExpiresAt.Format("02.01.2006")
		}
		btn := tgbotapi.NewInlineKeyboardButtonData(label, CallbackShowService.WithID(order.ID))
		keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{btn})
	}

	s.replyWithKeyboard(chatID, "🔑 Ваши подключения:", tgbotapi.NewInlineKeyboardMarkup(keyboard...))
}

func (s *Service) handleShowService(user *db.User, callback *tgbotapi.CallbackQuery) {
	orderID, err := CallbackShowService.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	order, err := s.repo.PaidOrderForUser(orderID, user.ID)
	if err != nil {
		s.answerCallback(callback.ID, "Подключение не найдено")
		return
	}

	text := fmt.Sprintf("%s Подключение %s\n\n", serviceEmoji(order), order.PanelUsername)
	if order.Plan != nil {
		text += fmt.Sprintf("📦 Тариф: %s (%d ГБ)\n", order.Plan.Name, order.Plan.VolumeGB)
	}
	if order.Source == db.OrderSourceTrial {
		text += "📦 Пробный аккаунт\n"
	}
	if order.Server != nil {
		text += fmt.Sprintf("🌍 Локация: %s %s\n", order.Server.Location.Flag, order.Server.Location.Name)
	}
	if order.ExpiresAt != nil {
		if order.ExpiresAt.After(time.Now()) {
			text += fmt.Sprintf("📅 Действует до: %s\n", order.ExpiresAt.Format("02.01.2006 15:04"))
		} else {
			text += fmt.Sprintf("⛔ Истёк: %s\n", order.ExpiresAt.Format("02.01.2006 15:04"))
		}
	}
	text += fmt.Sprintf("\n🔗 Ссылка:\n%s", order.ConfigLink)

	var rows [][]tgbotapi.InlineKeyboardButton
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("📋 Скопировать ссылку", CallbackCopyLink.WithID(order.ID)),
	})
	if order.Plan != nil {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🔄 Продлить (%d руб.)", order.Plan.Price),
				CallbackRenewOrder.WithID(order.ID)),
		})
	}

	s.editWithKeyboard(callback.Message.Chat.ID, callback.Message.MessageID, text,
		tgbotapi.NewInlineKeyboardMarkup(rows...))
	s.answerCallback(callback.ID, "")
}

// handleCopyLink отправляет ссылку отдельным сообщением без разметки,
// чтобы её было удобно копировать целиком.
func (s *Service) handleCopyLink(user *db.User, callback *tgbotapi.CallbackQuery) {
	orderID, err := CallbackCopyLink.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	order, err := s.repo.PaidOrderForUser(orderID, user.ID)
	if err != nil || order.ConfigLink == "" {
		s.answerCallback(callback.ID, "Ссылка не найдена")
		return
	}

	s.reply(callback.Message.Chat.ID, order.ConfigLink)
	s.answerCallback(callback.ID, "")
}

func (s *Service) handleRenewOrder(user *db.User, callback *tgbotapi.CallbackQuery) {
	orderID, err := CallbackRenewOrder.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	quote, err := s.billing.QuoteRenewal(user.ID, orderID)
	if err != nil {
		s.answerCallback(callback.ID, "")
		s.handleError(callback.Message.Chat.ID, err)
		return
	}

	text := fmt.Sprintf(`🔄 Продление подключения %s

📦 Тариф: %s
⏱ Срок: +%d дней
💰 Стоимость: %d руб.

💳 На кошельке: %d руб.`,
		quote.Original.PanelUsername,
		quote.Plan.Name,
		quote.Plan.DurationDays,
		quote.Price,
		user.Balance,
	)

	var rows [][]tgbotapi.InlineKeyboardButton
	if user.Balance >= quote.Price {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("💳 Продлить с кошелька (%d руб.)", quote.Price),
				CallbackRenewPayWallet.WithID(orderID)),
		})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🏦 Оплатить переводом на карту", CallbackRenewPayCard.WithID(orderID)),
	})
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🚫 Отмена", CallbackCancelAction),
	})

	s.editWithKeyboard(callback.Message.Chat.ID, callback.Message.MessageID, text,
		tgbotapi.NewInlineKeyboardMarkup(rows...))
	s.answerCallback(callback.ID, "")
}

func (s *Service) handleRenewPayWallet(user *db.User, callback *tgbotapi.CallbackQuery) {
	orderID, err := CallbackRenewPayWallet.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	renewed, err := s.billing.RenewWithWallet(context.Background(), user.ID, orderID)
	if err != nil {
		s.answerCallback(callback.ID, "")
		s.handleError(callback.Message.Chat.ID, err)
		return
	}

	until := ""
	if renewed.ExpiresAt != nil {
		until = renewed.ExpiresAt.Format("02.01.2006")
	}
	s.answerCallback(callback.ID, "Продлено!")
	s.reply(callback.Message.Chat.ID, fmt.Sprintf(
		"✅ Подключение %s продлено до %s.\n\nСсылка осталась прежней.",
		renewed.PanelUsername, until))
}

func (s *Service) handleRenewPayCard(user *db.User, callback *tgbotapi.CallbackQuery) {
	orderID, err := CallbackRenewPayCard.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	audit, err := s.billing.CreateCardRenewalOrder(user.ID, orderID)
	if err != nil {
		s.answerCallback(callback.ID, "")
		s.handleError(callback.Message.Chat.ID, err)
		return
	}

	s.setState(user, State{Kind: StateWaitingReceipt, OrderID: audit.ID})
	s.sendCardInstructions(callback.Message.Chat.ID, audit)
	s.answerCallback(callback.ID, "")
}

func serviceEmoji(order *db.Order) string {
	if order.ExpiresAt != nil && order.ExpiresAt.Before(time.Now()) {
		return "⛔"
	}
	return "✅"
}
