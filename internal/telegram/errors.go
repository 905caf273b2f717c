package telegram

import (
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"melon-bot/internal/billing"
	"melon-bot/internal/logger"
)

// Error коды для различных типов ошибок
const (
	ErrValidation       = "VALIDATION_ERROR"
	ErrCapacity         = "CAPACITY_ERROR"
	ErrFunds            = "FUNDS_ERROR"
	ErrOrderState       = "ORDER_STATE_ERROR"
	ErrProvisioning     = "PROVISIONING_ERROR"
	ErrDatabaseError    = "DATABASE_ERROR"
	ErrPermissionDenied = "PERMISSION_DENIED"
)

// BotError представляет ошибку бота с кодом и сообщением для пользователя
type BotError struct {
	Code        string
	Message     string
	UserMessage string
	Details     string
}

func (e *BotError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
}

// NewBotError создает новую ошибку бота
func NewBotError(code, message, userMessage, details string) *BotError {
	return &BotError{
		Code:        code,
		Message:     message,
		UserMessage: userMessage,
		Details:     details,
	}
}

// fromBillingError переводит доменные ошибки биллинга в BotError.
// Ни одна из них не ретраится: пользователь получает понятное
// сообщение и кнопки следующего шага.
func fromBillingError(err error) *BotError {
	var verr *billing.ValidationError
	if errors.As(err, &verr) {
		return NewBotError(ErrValidation, "Validation failed", verr.UserReason, verr.Error())
	}

	var cerr *billing.CapacityError
	if errors.As(err, &cerr) {
		return NewBotError(ErrCapacity, "No capacity available",
			"К сожалению, свободных мест сейчас нет. Попробуйте другую локацию или зайдите позже.", cerr.Error())
	}

	var ferr *billing.FundsError
	if errors.As(err, &ferr) {
		return NewBotError(ErrFunds, "Insufficient funds",
			fmt.Sprintf("Недостаточно средств на кошельке. Не хватает %d руб. Пополните баланс и попробуйте снова.", ferr.Missing),
			ferr.Error())
	}

	var oerr *billing.OrderStateError
	if errors.As(err, &oerr) {
		return NewBotError(ErrOrderState, "Order in wrong state",
			"Заказ не найден или уже обработан.", oerr.Error())
	}

	var perr *billing.ProvisioningError
	if errors.As(err, &perr) {
		return NewBotError(ErrProvisioning, "Provisioning failed",
			"Не удалось создать подключение. Средства не списаны, попробуйте позже или обратитесь в поддержку.", perr.Error())
	}

	return nil
}

// handleError обрабатывает ошибки и отправляет соответствующие сообщения пользователю
func (s *Service) handleError(chatID int64, err error) {
	logger.Error("bot error", zap.Error(err))

	var botErr *BotError
	if be, ok := err.(*BotError); ok {
		botErr = be
	} else if be := fromBillingError(err); be != nil {
		botErr = be
	} else {
		botErr = &BotError{
			Code:        "UNKNOWN_ERROR",
			Message:     "Unknown error occurred",
			UserMessage: "Произошла внутренняя ошибка. Попробуйте позже.",
			Details:     err.Error(),
		}
	}

	// Отправляем детали ошибки супер-админу
	s.sendErrorReport(botErr)

	msg := tgbotapi.NewMessage(chatID, "❌ "+botErr.UserMessage)
	if kb := nextActionKeyboard(botErr.Code); kb != nil {
		msg.ReplyMarkup = kb
	}
	s.bot.Send(msg)
}

// nextActionKeyboard подбирает кнопки следующего шага под класс ошибки.
func nextActionKeyboard(code string) *tgbotapi.InlineKeyboardMarkup {
	switch code {
	case ErrFunds:
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("💰 Пополнить кошелёк", "/deposit"),
			),
		)
		return &kb
	case ErrCapacity:
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📋 К тарифам", "/plans"),
			),
		)
		return &kb
	}
	return nil
}

// sendErrorReport отправляет отчет об ошибке супер-админу
func (s *Service) sendErrorReport(botErr *BotError) {
	if s.cfg.SuperAdminID == "" {
		return
	}

	adminID, err := strconv.ParseInt(s.cfg.SuperAdminID, 10, 64)
	if err != nil {
		return
	}

	report := fmt.Sprintf(`🚨 Ошибка в боте:

Код: %s
Сообщение: %s
Детали: %s

Пользователю показано: %s`,
		botErr.Code,
		botErr.Message,
		botErr.Details,
		botErr.UserMessage,
	)

	msg := tgbotapi.NewMessage(adminID, report)
	s.bot.Send(msg)
}

// Вспомогательные функции для создания типичных ошибок

func ErrValidationf(userMessage, details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrValidation,
		"Validation failed",
		userMessage,
		fmt.Sprintf(details, args...),
	)
}

func ErrDatabasef(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrDatabaseError,
		"Database operation failed",
		"Ошибка базы данных. Попробуйте позже.",
		fmt.Sprintf(details, args...),
	)
}

func ErrPermission(details string) *BotError {
	return NewBotError(
		ErrPermissionDenied,
		"Permission denied",
		"У вас нет прав для выполнения этой операции.",
		details,
	)
}
