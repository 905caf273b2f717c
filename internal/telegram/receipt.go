package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"melon-bot/internal/db"
)

// handlePayCard - выбран перевод на карту. Заказ остаётся pending,
// ждём фото чека.
func (s *Service) handlePayCard(user *db.User, callback *tgbotapi.CallbackQuery) {
	orderID, err := CallbackPayCard.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	order, err := s.repo.PendingOrderForUser(orderID, user.ID)
	if err != nil {
		s.answerCallback(callback.ID, "Заказ не найден или уже оплачен")
		return
	}

	s.setState(user, State{Kind: StateWaitingReceipt, OrderID: order.ID})
	s.sendCardInstructions(callback.Message.Chat.ID, order)
	s.answerCallback(callback.ID, "")
}

func (s *Service) sendCardInstructions(chatID int64, order *db.Order) {
	text := fmt.Sprintf(`🏦 Оплата переводом на карту

💰 Сумма: %d руб.
📋 Номер заказа: #%d

💳 Реквизиты:
%s
👤 Получатель: %s

⚠️ ВАЖНО:
1. Переведите точную сумму: %d руб.
2. После оплаты отправьте сюда фото чека
3. Заказ будет обработан после проверки оператором

Отмена: /cancel_action`,
		order.Amount,
		order.ID,
		s.cfg.CardNumber,
		s.cfg.CardHolder,
		order.Amount,
	)

	s.reply(chatID, text)
}

// handleReceiptMessage - пришло сообщение в ожидании чека. Всё, кроме
// фото, вежливо отклоняем и остаёмся в том же состоянии.
func (s *Service) handleReceiptMessage(user *db.User, msg *tgbotapi.Message, st State) {
	// Телеграм отдаёт фото в нескольких размерах, берём самое крупное
	fileID := photoFileID(msg)
	if fileID == "" {
		s.reply(msg.Chat.ID, "📸 Пришлите фото чека об оплате или отмените заказ: /cancel_action")
		return
	}

	order, err := s.billing.AttachReceipt(user.ID, st.OrderID, fileID)
	if err != nil {
		s.setState(user, Idle())
		s.handleError(msg.Chat.ID, err)
		return
	}
	s.setState(user, Idle())

	s.reply(msg.Chat.ID, fmt.Sprintf(
		"✅ Чек по заказу #%d получен. Оператор проверит оплату и вы получите уведомление.", order.ID))

	s.notifyOperatorsAboutReceipt(user, order, fileID)
}

// notifyOperatorsAboutReceipt пересылает чек в операторский чат с
// кнопками подтверждения.
func (s *Service) notifyOperatorsAboutReceipt(user *db.User, order *db.Order, fileID string) {
	chatID, err := operatorChatID(s.cfg.AdminChatID)
	if err != nil {
		return
	}

	caption := fmt.Sprintf(`🧾 Новый чек на проверку

📋 Заказ: #%d (%s)
👤 Пользователь: @%s (id %d)
💰 Сумма: %d руб.`,
		order.ID,
		KindOfOrder(order).DisplayName(),
		user.Username,
		user.TgID,
		order.Amount,
	)

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", CallbackOrderApprove.WithID(order.ID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", CallbackOrderReject.WithID(order.ID)),
		),
	)

	photoMsg := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(fileID))
	photoMsg.Caption = caption
	photoMsg.ReplyMarkup = kb
	s.bot.Send(photoMsg)
}
