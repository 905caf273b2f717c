package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"melon-bot/internal/db"
)

// handlePlans - витрина тарифов. Первый шаг: выбор длительности.
func (s *Service) handlePlans(chatID int64) {
	plans, err := s.repo.ActivePlans()
	if err != nil {
		s.handleError(chatID, ErrDatabasef("load plans: %v", err))
		return
	}
	if len(plans) == 0 {
		s.reply(chatID, "Тарифы пока не добавлены")
		return
	}

	var keyboard [][]tgbotapi.InlineKeyboardButton
	seen := map[int]bool{}
	for _, plan := range plans {
		if seen[plan.DurationDays] {
			continue
		}
		seen[plan.DurationDays] = true
		btn := tgbotapi.NewInlineKeyboardButtonData(
			durationLabel(plan.DurationDays),
			CallbackShowDuration.WithID(plan.DurationDays),
		)
		keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{btn})
	}

	s.replyWithKeyboard(chatID, "📋 Выберите срок подписки:", tgbotapi.NewInlineKeyboardMarkup(keyboard...))
}

func (s *Service) handleShowDuration(callback *tgbotapi.CallbackQuery) {
	days, err := CallbackShowDuration.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	plans, err := s.repo.ActivePlansByDuration(int(days))
	if err != nil {
		s.answerCallback(callback.ID, "Ошибка получения тарифов")
		return
	}
	if len(plans) == 0 {
		s.answerCallback(callback.ID, "Тарифы для этого срока закончились")
		return
	}

	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, plan := range plans {
		btn := tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%s - %d ГБ - %d руб.", plan.Name, plan.VolumeGB, plan.Price),
			CallbackBuyPlan.WithID(plan.ID),
		)
		keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{btn})
	}
	keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", CallbackBackToPlans),
	})

	s.editWithKeyboard(callback.Message.Chat.ID, callback.Message.MessageID,
		fmt.Sprintf("Тарифы на %s:", durationLabel(int(days))),
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: keyboard})
	s.answerCallback(callback.ID, "")
}

// handleBuyPlan - выбран тариф. В мультисерверном режиме дальше идёт
// выбор локации, иначе сразу запрашиваем имя пользователя.
func (s *Service) handleBuyPlan(user *db.User, callback *tgbotapi.CallbackQuery) {
	planID, err := CallbackBuyPlan.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	if !s.cfg.MultiLocationEnabled {
		s.promptUsername(user, callback.Message.Chat.ID, planID, 0)
		s.answerCallback(callback.ID, "")
		return
	}

	var locations []db.Location
	if err := s.repo.DB().Where("active = ?", true).Order("id").Find(&locations).Error; err != nil {
		s.answerCallback(callback.ID, "Ошибка получения локаций")
		return
	}

	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, loc := range locations {
		capacity, used, err := s.repo.LocationCapacity(loc.ID)
		if err != nil {
			continue
		}
		full := used >= capacity
		if full && s.cfg.HideFullLocations {
			continue
		}

		label := fmt.Sprintf("%s %s (%d/%d)", loc.Flag, loc.Name, used, capacity)
		if full {
			label = fmt.Sprintf("%s %s (мест нет)", loc.Flag, loc.Name)
		}
		btn := tgbotapi.NewInlineKeyboardButtonData(
			label,
			fmt.Sprintf("%s%d_plan_%d", CallbackSelectLocation, loc.ID, planID),
		)
		keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{btn})
	}

	if len(keyboard) == 0 {
		s.answerCallback(callback.ID, "Свободных локаций сейчас нет")
		return
	}
	keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", CallbackBackToPlans),
	})

	s.editWithKeyboard(callback.Message.Chat.ID, callback.Message.MessageID,
		"🌍 Выберите локацию:",
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: keyboard})
	s.answerCallback(callback.ID, "")
}

func (s *Service) handleSelectLocation(user *db.User, callback *tgbotapi.CallbackQuery) {
	locID, planID, err := parseLocationCallback(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	full, err := s.billing.LocationIsFull(locID)
	if err != nil {
		s.answerCallback(callback.ID, "Ошибка проверки локации")
		return
	}
	if full {
		s.answerCallback(callback.ID, "В этой локации мест нет, выберите другую")
		return
	}

	s.promptUsername(user, callback.Message.Chat.ID, planID, locID)
	s.answerCallback(callback.ID, "")
}

// parseLocationCallback разбирает select_loc_<loc>_plan_<plan>.
func parseLocationCallback(data string) (locID, planID uint, err error) {
	rest := strings.TrimPrefix(data, CallbackSelectLocation.String())
	parts := strings.SplitN(rest, "_plan_", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad location callback %q", data)
	}
	loc, ok := parseUintToken(parts[0])
	if !ok {
		return 0, 0, fmt.Errorf("bad location id in %q", data)
	}
	plan, ok := parseUintToken(parts[1])
	if !ok {
		return 0, 0, fmt.Errorf("bad plan id in %q", data)
	}
	return loc, plan, nil
}

func (s *Service) promptUsername(user *db.User, chatID int64, planID, locationID uint) {
	s.setState(user, State{Kind: StateAwaitingUsername, PlanID: planID, LocationID: locationID})
	s.reply(chatID, `👤 Придумайте имя пользователя для подключения.

Только латинские буквы и цифры, например: ivan2024

Отмена: /cancel_action`)
}

// handleUsernameInput - введено имя пользователя. При невалидном имени
// остаёмся в том же состоянии и просим ещё раз.
func (s *Service) handleUsernameInput(user *db.User, msg *tgbotapi.Message, st State) {
	username := strings.TrimSpace(msg.Text)

	if err := s.billing.ValidateUsername(username); err != nil {
		botErr := fromBillingError(err)
		if botErr != nil {
			s.reply(msg.Chat.ID, "❌ "+botErr.UserMessage+"\n\nПопробуйте другое имя:")
			return
		}
		s.handleError(msg.Chat.ID, err)
		return
	}

	order, err := s.billing.StartPurchase(user, st.PlanID, username, st.LocationID)
	if err != nil {
		s.setState(user, Idle())
		s.handleError(msg.Chat.ID, err)
		return
	}
	s.setState(user, Idle())

	s.sendInvoice(user, msg.Chat.ID, order)
}

// sendInvoice рисует счёт по заказу: цена, скидка и способы оплаты.
// Кнопка кошелька появляется только когда на нём хватает средств.
func (s *Service) sendInvoice(user *db.User, chatID int64, order *db.Order) {
	text := fmt.Sprintf("🧾 Заказ #%d\n\n", order.ID)
	if order.Plan != nil {
		text += fmt.Sprintf("📦 Тариф: %s (%d дней, %d ГБ)\n", order.Plan.Name, order.Plan.DurationDays, order.Plan.VolumeGB)
	}
	if order.PanelUsername != "" {
		text += fmt.Sprintf("👤 Имя пользователя: %s\n", order.PanelUsername)
	}
	if order.Server != nil {
		text += fmt.Sprintf("🌍 Локация: %s %s\n", order.Server.Location.Flag, order.Server.Location.Name)
	}

	if order.DiscountAmount > 0 {
		text += fmt.Sprintf("\n💵 Цена: %d руб.\n🎟 Скидка: -%d руб.\n💰 К оплате: %d руб.",
			order.BasePrice(), order.DiscountAmount, order.Amount)
	} else {
		text += fmt.Sprintf("\n💰 К оплате: %d руб.", order.Amount)
	}
	text += fmt.Sprintf("\n\n💳 На кошельке: %d руб.", user.Balance)

	var rows [][]tgbotapi.InlineKeyboardButton
	if user.Balance >= order.Amount {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("💳 Оплатить с кошелька (%d руб.)", order.Amount),
				CallbackPayWalletOrder.WithID(order.ID)),
		})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🏦 Оплатить переводом на карту", CallbackPayCard.WithID(order.ID)),
	})
	if order.DiscountCodeID != nil {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("❌ Убрать промокод", CallbackRemoveDiscount.WithID(order.ID)),
		})
	} else {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🎟 У меня есть промокод", CallbackEnterDiscount.WithID(order.ID)),
		})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅️ К тарифам", CallbackBackToPlans),
		tgbotapi.NewInlineKeyboardButtonData("🚫 Отмена", CallbackCancelAction),
	})

	s.replyWithKeyboard(chatID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (s *Service) handleEnterDiscount(user *db.User, callback *tgbotapi.CallbackQuery) {
	orderID, err := CallbackEnterDiscount.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	s.setState(user, State{Kind: StateAwaitingDiscountCode, OrderID: orderID})
	s.reply(callback.Message.Chat.ID, "🎟 Введите промокод:")
	s.answerCallback(callback.ID, "")
}

func (s *Service) handleDiscountCodeInput(user *db.User, msg *tgbotapi.Message, st State) {
	s.setState(user, Idle())

	order, err := s.billing.ApplyDiscount(user, st.OrderID, strings.TrimSpace(msg.Text))
	if err != nil {
		s.handleError(msg.Chat.ID, err)
		return
	}

	s.reply(msg.Chat.ID, fmt.Sprintf("✅ Промокод применён, скидка %d руб.", order.DiscountAmount))
	s.sendInvoice(user, msg.Chat.ID, order)
}

func (s *Service) handleRemoveDiscount(user *db.User, callback *tgbotapi.CallbackQuery) {
	orderID, err := CallbackRemoveDiscount.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	order, err := s.billing.RemoveDiscount(user, orderID)
	if err != nil {
		s.handleError(callback.Message.Chat.ID, err)
		s.answerCallback(callback.ID, "")
		return
	}

	s.answerCallback(callback.ID, "Промокод убран")
	s.sendInvoice(user, callback.Message.Chat.ID, order)
}

func (s *Service) handlePayWalletOrder(user *db.User, callback *tgbotapi.CallbackQuery) {
	orderID, err := CallbackPayWalletOrder.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	order, err := s.billing.PayWithWallet(context.Background(), user.ID, orderID)
	if err != nil {
		s.answerCallback(callback.ID, "")
		s.handleError(callback.Message.Chat.ID, err)
		return
	}

	s.answerCallback(callback.ID, "Оплачено!")
	s.deliverOrder(callback.Message.Chat.ID, order)
}

// handlePayWalletPlan - старые клавиатуры со ссылкой на тариф вместо
// заказа. Находим последний неоплаченный заказ по тарифу и ведём его.
func (s *Service) handlePayWalletPlan(user *db.User, callback *tgbotapi.CallbackQuery) {
	planID, err := CallbackPayWalletPlan.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	order, err := s.billing.LatestPendingOrderForPlan(user, planID)
	if err != nil {
		s.answerCallback(callback.ID, "")
		s.handleError(callback.Message.Chat.ID, err)
		return
	}

	paid, err := s.billing.PayWithWallet(context.Background(), user.ID, order.ID)
	if err != nil {
		s.answerCallback(callback.ID, "")
		s.handleError(callback.Message.Chat.ID, err)
		return
	}

	s.answerCallback(callback.ID, "Оплачено!")
	s.deliverOrder(callback.Message.Chat.ID, paid)
}

// deliverOrder отправляет готовое подключение после успешной оплаты.
func (s *Service) deliverOrder(chatID int64, order *db.Order) {
	until := ""
	if order.ExpiresAt != nil {
		until = order.ExpiresAt.Format("02.01.2006")
	}

	text := fmt.Sprintf(`✅ Оплата прошла, подключение готово!

👤 Имя пользователя: %s
📅 Действует до: %s

🔗 Ваша ссылка:
%s`,
		order.PanelUsername,
		until,
		order.ConfigLink,
	)

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Скопировать ссылку", CallbackCopyLink.WithID(order.ID)),
		),
	)
	s.replyWithKeyboard(chatID, text, kb)
}

func durationLabel(days int) string {
	switch days {
	case 30:
		return "1 месяц"
	case 60:
		return "2 месяца"
	case 90:
		return "3 месяца"
	case 180:
		return "6 месяцев"
	case 365:
		return "1 год"
	}
	return fmt.Sprintf("%d дней", days)
}
