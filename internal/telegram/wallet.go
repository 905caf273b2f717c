package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"melon-bot/internal/db"
)

// Суммы на кнопках быстрого пополнения, в рублях.
var depositPresets = []int{100, 300, 500, 1000}

func (s *Service) handleWallet(user *db.User, chatID int64) {
	text := fmt.Sprintf(`💰 Кошелёк

Баланс: %d руб.

С кошелька можно оплачивать покупки и продления мгновенно, без проверки оператором.`,
		user.Balance)

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Пополнить", "/deposit"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📜 История операций", "/transactions"),
		),
	)
	s.replyWithKeyboard(chatID, text, kb)
}

func (s *Service) handleDeposit(user *db.User, chatID int64) {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, amount := range depositPresets {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%d руб.", amount),
			CallbackDepositAmount.WithID(amount),
		))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("✏️ Другая сумма", CallbackDepositCustom),
	})

	s.replyWithKeyboard(chatID, "➕ Выберите сумму пополнения:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (s *Service) handleDepositAmount(user *db.User, callback *tgbotapi.CallbackQuery) {
	amount, err := CallbackDepositAmount.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	s.startDeposit(user, callback.Message.Chat.ID, int(amount))
	s.answerCallback(callback.ID, "")
}

func (s *Service) handleDepositCustom(user *db.User, callback *tgbotapi.CallbackQuery) {
	s.setState(user, State{Kind: StateAwaitingDepositAmount})
	s.reply(callback.Message.Chat.ID, fmt.Sprintf(
		"✏️ Введите сумму пополнения в рублях (от %d руб.):", s.cfg.MinDepositAmount))
	s.answerCallback(callback.ID, "")
}

func (s *Service) handleDepositAmountInput(user *db.User, msg *tgbotapi.Message) {
	rubles, err := strconv.Atoi(strings.TrimSpace(msg.Text))
	if err != nil || rubles <= 0 {
		s.reply(msg.Chat.ID, "❌ Введите сумму числом, например: 500")
		return
	}

	s.setState(user, Idle())
	s.startDeposit(user, msg.Chat.ID, rubles)
}

// startDeposit создаёт заказ на пополнение и отправляет реквизиты.
func (s *Service) startDeposit(user *db.User, chatID int64, amount int) {
	order, err := s.billing.CreateDepositOrder(user, amount)
	if err != nil {
		s.handleError(chatID, err)
		return
	}

	s.setState(user, State{Kind: StateWaitingReceipt, OrderID: order.ID})
	s.sendCardInstructions(chatID, order)
}

func (s *Service) handleTransactions(user *db.User, chatID int64) {
	transactions, err := s.repo.RecentTransactions(user.ID, 10)
	if err != nil {
		s.handleError(chatID, ErrDatabasef("load transactions: %v", err))
		return
	}

	if len(transactions) == 0 {
		s.reply(chatID, "📜 Операций по кошельку пока не было")
		return
	}

	text := "📜 Последние операции:\n\n"
	for _, tr := range transactions {
		kind := TransactionType(tr.Type)
		sign := "+"
		if tr.Amount < 0 {
			sign = "−"
		}
		text += fmt.Sprintf("%s %s: %s%d руб. (%s)\n",
			kind.Emoji(),
			kind.DisplayName(),
			sign,
			abs(tr.Amount),
			tr.CreatedAt.Format("02.01.2006"),
		)
	}
	text += fmt.Sprintf("\n💰 Текущий баланс: %d руб.", user.Balance)

	s.reply(chatID, text)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
