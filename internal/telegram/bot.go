package telegram

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"melon-bot/internal/billing"
	"melon-bot/internal/cache"
	"melon-bot/internal/config"
	"melon-bot/internal/db"
	"melon-bot/internal/logger"
)

type Service struct {
	bot     *tgbotapi.BotAPI
	repo    *db.Repository
	cfg     *config.Config
	billing *billing.Service
	cache   *cache.Cache
}

func New(cfg *config.Config, repo *db.Repository, bl *billing.Service, ca *cache.Cache) (*Service, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	// Удаляем webhook чтобы использовать long-polling
	_, err = bot.Request(tgbotapi.DeleteWebhookConfig{})
	if err != nil {
		logger.Warn("не удалось удалить webhook", zap.Error(err))
	} else {
		logger.Info("webhook удалён, переключились на long-polling")
	}

	logger.Info("авторизован как телеграм бот", zap.String("username", bot.Self.UserName))

	service := &Service{bot: bot, repo: repo, cfg: cfg, billing: bl, cache: ca}

	// Устанавливаем меню команд
	if err := service.setCommands(); err != nil {
		logger.Warn("не удалось установить меню команд", zap.Error(err))
	}

	return service, nil
}

func (s *Service) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := s.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			s.handleUpdate(upd)
		}
	}
}

func (s *Service) handleUpdate(upd tgbotapi.Update) {
	if upd.Message != nil {
		user, err := s.ensureUser(upd.Message.From)
		if err != nil {
			s.handleError(upd.Message.Chat.ID, err)
			return
		}

		if upd.Message.IsCommand() {
			s.handleCommand(user, upd.Message)
			return
		}
		s.handleStateMessage(user, upd.Message)
		return
	}

	if upd.CallbackQuery != nil {
		user, err := s.ensureUser(upd.CallbackQuery.From)
		if err != nil {
			if upd.CallbackQuery.Message != nil {
				s.handleError(upd.CallbackQuery.Message.Chat.ID, err)
			}
			return
		}
		s.handleCallbackQuery(user, upd.CallbackQuery)
		return
	}
}

func (s *Service) handleCommand(user *db.User, msg *tgbotapi.Message) {
	cmd := Command(msg.Command())

	if !cmd.IsValid() {
		s.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help")
		return
	}

	if cmd.IsAdminOnly() && !s.isOperator(msg.From.ID) {
		s.reply(msg.Chat.ID, "У вас нет прав для этой команды")
		return
	}

	// Любая команда обрывает начатый диалог
	if cmd != CmdCancel {
		s.setState(user, Idle())
	}

	switch cmd {
	case CmdStart:
		s.handleStart(user, msg)
	case CmdHelp:
		s.handleHelp(msg)
	case CmdPlans:
		s.handlePlans(msg.Chat.ID)
	case CmdMyServices:
		s.handleMyServices(user, msg.Chat.ID)
	case CmdWallet:
		s.handleWallet(user, msg.Chat.ID)
	case CmdDeposit:
		s.handleDeposit(user, msg.Chat.ID)
	case CmdTransactions:
		s.handleTransactions(user, msg.Chat.ID)
	case CmdTrial:
		s.handleTrial(user, msg.Chat.ID)
	case CmdSupport:
		s.handleSupport(user, msg.Chat.ID)
	case CmdCancel:
		s.handleCancel(user, msg.Chat.ID)
	case CmdPayQueue:
		s.handlePayQueue(msg.Chat.ID)
	}
}

// handleStateMessage доводит начатые диалоги: ввод суммы, промокода,
// имени пользователя, чека, текста обращения.
func (s *Service) handleStateMessage(user *db.User, msg *tgbotapi.Message) {
	st := ParseState(user.BotState)

	switch st.Kind {
	// Чек и переписка с поддержкой принимают фото
	case StateWaitingReceipt:
		s.handleReceiptMessage(user, msg, st)
	case StateAwaitingTicketMessage:
		s.handleTicketMessageInput(user, msg, st)
	case StateAwaitingTicketReply:
		s.handleTicketReplyInput(user, msg, st)
	default:
		if msg.Photo != nil || msg.Text == "" {
			return
		}
		switch st.Kind {
		case StateAwaitingDepositAmount:
			s.handleDepositAmountInput(user, msg)
		case StateAwaitingDiscountCode:
			s.handleDiscountCodeInput(user, msg, st)
		case StateAwaitingUsername:
			s.handleUsernameInput(user, msg, st)
		case StateAwaitingTicketSubject:
			s.handleTicketSubjectInput(user, msg)
		}
	}
}

func (s *Service) handleCallbackQuery(user *db.User, callback *tgbotapi.CallbackQuery) {
	data := callback.Data

	// Нажатие любой кнопки обрывает текущий диалог, кроме кнопок,
	// которые сами его начинают.
	if !strings.HasPrefix(data, CallbackEnterDiscount.String()) &&
		!strings.HasPrefix(data, CallbackReplyTicket.String()) &&
		data != CallbackSupportNew {
		s.setState(user, Idle())
	}

	// Токены команд из клавиатур следующего шага
	if strings.HasPrefix(data, "/") {
		switch Command(strings.TrimPrefix(data, "/")) {
		case CmdDeposit:
			s.handleDeposit(user, callback.Message.Chat.ID)
		case CmdPlans:
			s.handlePlans(callback.Message.Chat.ID)
		case CmdWallet:
			s.handleWallet(user, callback.Message.Chat.ID)
		case CmdTransactions:
			s.handleTransactions(user, callback.Message.Chat.ID)
		case CmdMyServices:
			s.handleMyServices(user, callback.Message.Chat.ID)
		case CmdSupport:
			s.handleSupport(user, callback.Message.Chat.ID)
		}
		s.answerCallback(callback.ID, "")
		return
	}

	switch data {
	case CallbackTrialRequest:
		s.handleTrial(user, callback.Message.Chat.ID)
		s.answerCallback(callback.ID, "")
		return
	case CallbackDepositCustom:
		s.handleDepositCustom(user, callback)
		return
	case CallbackSupportNew:
		s.handleSupportNew(user, callback)
		return
	case CallbackCancelAction:
		s.handleCancel(user, callback.Message.Chat.ID)
		s.answerCallback(callback.ID, "")
		return
	case CallbackBackToPlans:
		s.handlePlans(callback.Message.Chat.ID)
		s.answerCallback(callback.ID, "")
		return
	}

	switch {
	case strings.HasPrefix(data, CallbackShowDuration.String()):
		s.handleShowDuration(callback)
	case strings.HasPrefix(data, CallbackSelectLocation.String()):
		s.handleSelectLocation(user, callback)
	case strings.HasPrefix(data, CallbackBuyPlan.String()):
		s.handleBuyPlan(user, callback)

	// pay_wallet_order_ проверяется раньше pay_wallet_: второй префикс
	// совпадает с началом первого.
	case strings.HasPrefix(data, CallbackPayWalletOrder.String()):
		s.handlePayWalletOrder(user, callback)
	case strings.HasPrefix(data, CallbackRenewPayWallet.String()):
		s.handleRenewPayWallet(user, callback)
	case strings.HasPrefix(data, CallbackRenewPayCard.String()):
		s.handleRenewPayCard(user, callback)
	case strings.HasPrefix(data, CallbackPayWalletPlan.String()):
		s.handlePayWalletPlan(user, callback)
	case strings.HasPrefix(data, CallbackPayCard.String()):
		s.handlePayCard(user, callback)

	case strings.HasPrefix(data, CallbackEnterDiscount.String()):
		s.handleEnterDiscount(user, callback)
	case strings.HasPrefix(data, CallbackRemoveDiscount.String()):
		s.handleRemoveDiscount(user, callback)

	case strings.HasPrefix(data, CallbackRenewOrder.String()):
		s.handleRenewOrder(user, callback)
	case strings.HasPrefix(data, CallbackDepositAmount.String()):
		s.handleDepositAmount(user, callback)

	case strings.HasPrefix(data, CallbackShowService.String()):
		s.handleShowService(user, callback)
	case strings.HasPrefix(data, CallbackCopyLink.String()):
		s.handleCopyLink(user, callback)

	case strings.HasPrefix(data, CallbackOrderApprove.String()):
		s.handleOrderApprove(callback)
	case strings.HasPrefix(data, CallbackOrderReject.String()):
		s.handleOrderReject(callback)
	case strings.HasPrefix(data, CallbackReplyTicket.String()):
		s.handleReplyTicket(user, callback)
	case strings.HasPrefix(data, CallbackCloseTicket.String()):
		s.handleCloseTicket(user, callback)

	default:
		s.answerCallback(callback.ID, "Кнопка устарела")
	}
}

func (s *Service) handleHelp(msg *tgbotapi.Message) {
	text := `🍈 Melon VPN - быстрый и надёжный VPN

👤 Команды:
/plans - тарифы и покупка
/my_services - мои подключения
/wallet - кошелёк
/deposit - пополнить кошелёк
/transactions - история операций
/trial - пробный аккаунт
/support - служба поддержки
/cancel_action - отменить текущее действие
/help - справка`

	if s.isOperator(msg.From.ID) {
		text += `

⚡ Команды оператора:
/payqueue - очередь платежей на проверку`
	}

	s.reply(msg.Chat.ID, text)
}

func (s *Service) handleCancel(user *db.User, chatID int64) {
	s.setState(user, Idle())
	s.reply(chatID, "Действие отменено. Используйте /plans или /help")
}

// setState сохраняет диалоговое состояние и в БД, и в загруженной копии
// пользователя, чтобы обработчики в рамках одного апдейта видели его.
func (s *Service) setState(user *db.User, st State) {
	encoded := st.Encode()
	if user.BotState == encoded {
		return
	}
	if err := s.repo.SaveState(user.ID, encoded); err != nil {
		logger.Error("не удалось сохранить состояние диалога",
			zap.Uint("user_id", user.ID), zap.Error(err))
		return
	}
	user.BotState = encoded
}

func (s *Service) reply(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := s.bot.Send(msg)
	return err
}

func (s *Service) replyWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	_, err := s.bot.Send(msg)
	return err
}

func (s *Service) editWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) {
	editMsg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	editMsg.ReplyMarkup = &kb
	s.bot.Send(editMsg)
}

func (s *Service) answerCallback(callbackID, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	s.bot.Request(callback)
}

func (s *Service) isOperator(tgID int64) bool {
	if superAdminID, err := strconv.ParseInt(s.cfg.SuperAdminID, 10, 64); err == nil && superAdminID == tgID {
		return true
	}
	if adminChatID, err := strconv.ParseInt(s.cfg.AdminChatID, 10, 64); err == nil && adminChatID == tgID {
		return true
	}
	return false
}

// notifyOperators шлёт сообщение в операторский чат.
func (s *Service) notifyOperators(text string, kb *tgbotapi.InlineKeyboardMarkup) {
	chatID, err := strconv.ParseInt(s.cfg.AdminChatID, 10, 64)
	if err != nil {
		logger.Warn("операторский чат не настроен", zap.String("admin_chat_id", s.cfg.AdminChatID))
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	s.bot.Send(msg)
}

// notifyOperatorsPhoto - то же, но фото с подписью.
func (s *Service) notifyOperatorsPhoto(fileID, caption string, kb *tgbotapi.InlineKeyboardMarkup) {
	chatID, err := strconv.ParseInt(s.cfg.AdminChatID, 10, 64)
	if err != nil {
		logger.Warn("операторский чат не настроен", zap.String("admin_chat_id", s.cfg.AdminChatID))
		return
	}
	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(fileID))
	msg.Caption = caption
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	s.bot.Send(msg)
}

// photoFileID - id самого крупного размера фото в сообщении, пустая
// строка - если фото нет.
func photoFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) == 0 {
		return ""
	}
	return msg.Photo[len(msg.Photo)-1].FileID
}

// messageText - текст сообщения либо подпись к фото.
func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return strings.TrimSpace(msg.Caption)
}

func (s *Service) Bot() *tgbotapi.BotAPI {
	return s.bot
}

func (s *Service) setCommands() error {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "🚀 Начать работу"},
		{Command: "plans", Description: "📋 Тарифы"},
		{Command: "my_services", Description: "🔑 Мои подключения"},
		{Command: "wallet", Description: "💰 Кошелёк"},
		{Command: "deposit", Description: "➕ Пополнить кошелёк"},
		{Command: "transactions", Description: "📜 История операций"},
		{Command: "trial", Description: "🎁 Пробный аккаунт"},
		{Command: "support", Description: "🎧 Поддержка"},
		{Command: "help", Description: "❓ Справка"},
	}

	config := tgbotapi.NewSetMyCommands(commands...)
	_, err := s.bot.Request(config)
	return err
}
