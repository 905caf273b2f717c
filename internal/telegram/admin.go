package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"melon-bot/internal/db"
)

func operatorChatID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

// handlePayQueue - очередь переводов на карту, ждущих проверки.
// Показываются только заказы с приложенным чеком.
func (s *Service) handlePayQueue(chatID int64) {
	var orders []db.Order
	err := s.repo.DB().
		Preload("User").
		Preload("Plan").
		Where("status = ? AND payment_method = ? AND receipt_file_id <> ''",
			db.OrderStatusPending, db.PaymentMethodCard).
		Order("id").
		Find(&orders).Error
	if err != nil {
		s.handleError(chatID, ErrDatabasef("load pay queue: %v", err))
		return
	}

	if len(orders) == 0 {
		s.reply(chatID, "📭 Очередь платежей пуста")
		return
	}

	s.reply(chatID, fmt.Sprintf("📬 Платежей на проверке: %d", len(orders)))

	for _, order := range orders {
		caption := fmt.Sprintf(`🧾 Заказ #%d (%s)

👤 @%s (id %d)
💰 Сумма: %d руб.`,
			order.ID,
			KindOfOrder(&order).DisplayName(),
			order.User.Username,
			order.User.TgID,
			order.Amount,
		)
		if order.Plan != nil {
			caption += fmt.Sprintf("\n📦 Тариф: %s", order.Plan.Name)
		}

		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", CallbackOrderApprove.WithID(order.ID)),
				tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", CallbackOrderReject.WithID(order.ID)),
			),
		)

		photoMsg := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(order.ReceiptFileID))
		photoMsg.Caption = caption
		photoMsg.ReplyMarkup = kb
		s.bot.Send(photoMsg)
	}
}

// handleOrderApprove - оператор подтвердил перевод. Дальше заказом
// занимается биллинг: пополнение, покупка или продление.
func (s *Service) handleOrderApprove(callback *tgbotapi.CallbackQuery) {
	if !s.isOperator(callback.From.ID) {
		s.answerCallback(callback.ID, "Нет прав")
		return
	}

	orderID, err := CallbackOrderApprove.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	order, err := s.billing.ApproveCardOrder(context.Background(), orderID)
	if err != nil {
		s.answerCallback(callback.ID, "")
		s.handleError(callback.Message.Chat.ID, err)
		return
	}

	s.answerCallback(callback.ID, "Подтверждено")
	s.markProcessed(callback, fmt.Sprintf("✅ Заказ #%d подтверждён", order.ID))
	s.notifyUserAboutApproval(order)
}

func (s *Service) notifyUserAboutApproval(order *db.Order) {
	var user db.User
	if err := s.repo.DB().First(&user, order.UserID).Error; err != nil {
		return
	}

	switch {
	case order.IsDeposit():
		s.reply(user.TgID, fmt.Sprintf(
			"✅ Пополнение на %d руб. зачислено на кошелёк. Баланс: /wallet", order.Amount))

	case order.IsRenewal():
		// Дата сдвинута у исходного заказа, его и показываем
		var original db.Order
		if order.RenewsOrderID != nil {
			s.repo.DB().First(&original, *order.RenewsOrderID)
		}
		until := ""
		if original.ExpiresAt != nil {
			until = original.ExpiresAt.Format("02.01.2006")
		}
		s.reply(user.TgID, fmt.Sprintf(
			"✅ Оплата проверена, подключение %s продлено до %s.", original.PanelUsername, until))

	default:
		s.reply(user.TgID, "✅ Оплата проверена!")
		s.deliverOrder(user.TgID, order)
	}
}

// handleOrderReject - перевод не найден. Заказ удаляется, пользователь
// может начать заново.
func (s *Service) handleOrderReject(callback *tgbotapi.CallbackQuery) {
	if !s.isOperator(callback.From.ID) {
		s.answerCallback(callback.ID, "Нет прав")
		return
	}

	orderID, err := CallbackOrderReject.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	order, err := s.billing.RejectCardOrder(orderID)
	if err != nil {
		s.answerCallback(callback.ID, "")
		s.handleError(callback.Message.Chat.ID, err)
		return
	}

	s.answerCallback(callback.ID, "Отклонено")
	s.markProcessed(callback, fmt.Sprintf("❌ Заказ #%d отклонён", order.ID))

	var user db.User
	if err := s.repo.DB().First(&user, order.UserID).Error; err == nil {
		s.reply(user.TgID, fmt.Sprintf(
			"❌ Оплата по заказу #%d не подтверждена. Если вы уверены, что перевели деньги, напишите в поддержку: /support",
			order.ID))
	}
}

// markProcessed убирает кнопки с карточки заказа и помечает итог.
// Карточка могла быть и фото с подписью, и обычным текстом.
func (s *Service) markProcessed(callback *tgbotapi.CallbackQuery, result string) {
	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID

	if callback.Message.Photo != nil {
		caption := callback.Message.Caption + "\n\n" + result
		edit := tgbotapi.NewEditMessageCaption(chatID, messageID, caption)
		s.bot.Send(edit)
		return
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, callback.Message.Text+"\n\n"+result)
	s.bot.Send(edit)
}
