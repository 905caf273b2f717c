package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"melon-bot/internal/db"
)

const ticketSubjectMaxLen = 100

// handleSupport - меню поддержки: открытые обращения и кнопка нового.
func (s *Service) handleSupport(user *db.User, chatID int64) {
	var tickets []db.Ticket
	err := s.repo.DB().
		Where("user_id = ? AND status <> ?", user.ID, "closed").
		Order("id DESC").
		Limit(5).
		Find(&tickets).Error
	if err != nil {
		s.handleError(chatID, ErrDatabasef("load tickets: %v", err))
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, ticket := range tickets {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("💬 #%d %s", ticket.ID, ticket.Subject),
				CallbackReplyTicket.WithID(ticket.ID)),
		})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("✉️ Новое обращение", CallbackSupportNew),
	})

	text := "🎧 Служба поддержки"
	if len(tickets) > 0 {
		text += "\n\nВаши открытые обращения - нажмите, чтобы дописать:"
	}
	s.replyWithKeyboard(chatID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (s *Service) handleSupportNew(user *db.User, callback *tgbotapi.CallbackQuery) {
	s.setState(user, State{Kind: StateAwaitingTicketSubject})
	s.reply(callback.Message.Chat.ID, "✉️ Кратко опишите тему обращения:")
	s.answerCallback(callback.ID, "")
}

func (s *Service) handleTicketSubjectInput(user *db.User, msg *tgbotapi.Message) {
	subject := strings.TrimSpace(msg.Text)
	if subject == "" {
		s.reply(msg.Chat.ID, "Тема не может быть пустой, попробуйте ещё раз:")
		return
	}
	if len([]rune(subject)) > ticketSubjectMaxLen {
		subject = string([]rune(subject)[:ticketSubjectMaxLen])
	}

	s.setState(user, State{Kind: StateAwaitingTicketMessage, Subject: subject})
	s.reply(msg.Chat.ID, "📝 Теперь опишите проблему подробнее:")
}

// В сообщение можно вложить фото: текст тогда берётся из подписи.
func (s *Service) handleTicketMessageInput(user *db.User, msg *tgbotapi.Message, st State) {
	text := messageText(msg)
	attachment := photoFileID(msg)
	if text == "" && attachment == "" {
		s.reply(msg.Chat.ID, "Опишите проблему текстом или пришлите скриншот:")
		return
	}

	ticket, err := s.createTicket(user, st.Subject, text, attachment)
	if err != nil {
		s.setState(user, Idle())
		s.handleError(msg.Chat.ID, ErrDatabasef("create ticket: %v", err))
		return
	}
	s.setState(user, Idle())

	s.reply(msg.Chat.ID, fmt.Sprintf(
		"✅ Обращение #%d создано. Поддержка ответит вам в этом чате.", ticket.ID))

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💬 Ответить", CallbackReplyTicket.WithID(ticket.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🔒 Закрыть", CallbackCloseTicket.WithID(ticket.ID)),
		),
	)
	notice := fmt.Sprintf(`🎧 Новое обращение #%d

👤 @%s (id %d)
📋 Тема: %s

%s`,
		ticket.ID, user.Username, user.TgID, ticket.Subject, text)
	if attachment != "" {
		s.notifyOperatorsPhoto(attachment, notice, &kb)
	} else {
		s.notifyOperators(notice, &kb)
	}
}

// createTicket сохраняет обращение вместе с первым сообщением.
func (s *Service) createTicket(user *db.User, subject, text, attachment string) (*db.Ticket, error) {
	ticket := &db.Ticket{
		UserID:  user.ID,
		Subject: subject,
		Status:  "open",
	}
	err := s.repo.DB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ticket).Error; err != nil {
			return err
		}
		return tx.Create(&db.TicketReply{
			TicketID:         ticket.ID,
			UserID:           user.ID,
			Message:          text,
			AttachmentFileID: attachment,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// handleReplyTicket - кнопка "ответить". Работает и у пользователя, и у
// оператора: сторона определяется при сохранении ответа.
func (s *Service) handleReplyTicket(user *db.User, callback *tgbotapi.CallbackQuery) {
	ticketID, err := CallbackReplyTicket.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	var ticket db.Ticket
	if err := s.repo.DB().First(&ticket, ticketID).Error; err != nil {
		s.answerCallback(callback.ID, "Обращение не найдено")
		return
	}
	if ticket.Status == "closed" {
		s.answerCallback(callback.ID, "Обращение уже закрыто")
		return
	}
	if ticket.UserID != user.ID && !s.isOperator(user.TgID) {
		s.answerCallback(callback.ID, "Это не ваше обращение")
		return
	}

	s.setState(user, State{Kind: StateAwaitingTicketReply, TicketID: ticketID})
	s.reply(callback.Message.Chat.ID, fmt.Sprintf("💬 Ваш ответ по обращению #%d:", ticketID))
	s.answerCallback(callback.ID, "")
}

func (s *Service) handleTicketReplyInput(user *db.User, msg *tgbotapi.Message, st State) {
	text := messageText(msg)
	attachment := photoFileID(msg)
	if text == "" && attachment == "" {
		s.reply(msg.Chat.ID, "Ответ должен содержать текст или фото:")
		return
	}
	s.setState(user, Idle())

	var ticket db.Ticket
	if err := s.repo.DB().Preload("User").First(&ticket, st.TicketID).Error; err != nil {
		s.reply(msg.Chat.ID, "Обращение не найдено")
		return
	}

	fromSupport := s.isOperator(user.TgID) && ticket.UserID != user.ID

	if err := s.addTicketReply(&ticket, user, text, attachment, fromSupport); err != nil {
		s.handleError(msg.Chat.ID, ErrDatabasef("create ticket reply: %v", err))
		return
	}

	s.reply(msg.Chat.ID, "✅ Ответ отправлен")

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💬 Ответить", CallbackReplyTicket.WithID(ticket.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🔒 Закрыть", CallbackCloseTicket.WithID(ticket.ID)),
		),
	)

	if fromSupport {
		// Ответ оператора уходит автору обращения
		notice := fmt.Sprintf("🎧 Ответ поддержки по обращению #%d (%s):\n\n%s",
			ticket.ID, ticket.Subject, text)
		if attachment != "" {
			photoMsg := tgbotapi.NewPhoto(ticket.User.TgID, tgbotapi.FileID(attachment))
			photoMsg.Caption = notice
			photoMsg.ReplyMarkup = kb
			s.bot.Send(photoMsg)
		} else {
			botMsg := tgbotapi.NewMessage(ticket.User.TgID, notice)
			botMsg.ReplyMarkup = kb
			s.bot.Send(botMsg)
		}
		return
	}

	notice := fmt.Sprintf("💬 Новый ответ по обращению #%d (%s) от @%s:\n\n%s",
		ticket.ID, ticket.Subject, user.Username, text)
	if attachment != "" {
		s.notifyOperatorsPhoto(attachment, notice, &kb)
	} else {
		s.notifyOperators(notice, &kb)
	}
}

// addTicketReply пишет ответ и переводит статус обращения: ответ
// поддержки - answered, ответ пользователя возвращает open.
func (s *Service) addTicketReply(ticket *db.Ticket, user *db.User, text, attachment string, fromSupport bool) error {
	status := "open"
	if fromSupport {
		status = "answered"
	}
	return s.repo.DB().Transaction(func(tx *gorm.DB) error {
		reply := &db.TicketReply{
			TicketID:         ticket.ID,
			UserID:           user.ID,
			Message:          text,
			AttachmentFileID: attachment,
			FromSupport:      fromSupport,
		}
		if err := tx.Create(reply).Error; err != nil {
			return err
		}
		return tx.Model(&db.Ticket{}).Where("id = ?", ticket.ID).
			Update("status", status).Error
	})
}

// handleCloseTicket закрывает обращение. Доступно оператору и автору.
func (s *Service) handleCloseTicket(user *db.User, callback *tgbotapi.CallbackQuery) {
	ticketID, err := CallbackCloseTicket.ParseID(callback.Data)
	if err != nil {
		s.answerCallback(callback.ID, "Кнопка устарела")
		return
	}

	var ticket db.Ticket
	if err := s.repo.DB().Preload("User").First(&ticket, ticketID).Error; err != nil {
		s.answerCallback(callback.ID, "Обращение не найдено")
		return
	}
	if ticket.UserID != user.ID && !s.isOperator(user.TgID) {
		s.answerCallback(callback.ID, "Это не ваше обращение")
		return
	}

	if err := s.repo.DB().Model(&db.Ticket{}).Where("id = ?", ticket.ID).
		Update("status", "closed").Error; err != nil {
		s.answerCallback(callback.ID, "Ошибка закрытия")
		return
	}

	s.answerCallback(callback.ID, "Обращение закрыто")
	s.reply(ticket.User.TgID, fmt.Sprintf("🔒 Обращение #%d (%s) закрыто.", ticket.ID, ticket.Subject))
}
