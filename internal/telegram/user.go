package telegram

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"melon-bot/internal/db"
	"melon-bot/internal/logger"
)

// ensureUser находит пользователя по telegram id или регистрирует его.
// Имя и username обновляются при каждом апдейте: в телеграме они меняются.
func (s *Service) ensureUser(from *tgbotapi.User) (*db.User, error) {
	user, err := s.repo.UserByTgID(from.ID)
	if err == nil {
		name := displayName(from)
		if user.Username != from.UserName || user.Name != name {
			user.Username = from.UserName
			user.Name = name
			s.repo.DB().Model(user).Updates(map[string]interface{}{
				"username": from.UserName,
				"name":     name,
			})
		}
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDatabasef("lookup user tg_id=%d: %v", from.ID, err)
	}

	// Пароль нужен только для совместимости с веб-кабинетом, человек
	// его не видит. Генерируем случайный.
	passwordHash, err := bcrypt.GenerateFromPassword(randomToken(16), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user = &db.User{
		TgID:         from.ID,
		Name:         displayName(from),
		Username:     from.UserName,
		PasswordHash: string(passwordHash),
		ReferralCode: generateReferralCode(from.ID),
	}
	if err := s.repo.DB().Create(user).Error; err != nil {
		return nil, ErrDatabasef("create user tg_id=%d: %v", from.ID, err)
	}

	logger.Info("зарегистрирован новый пользователь",
		zap.Int64("tg_id", from.ID), zap.String("username", from.UserName))
	return user, nil
}

func (s *Service) handleStart(user *db.User, msg *tgbotapi.Message) {
	args := msg.CommandArguments()
	if strings.HasPrefix(args, "ref_") {
		s.attachReferrer(user, strings.TrimPrefix(args, "ref_"))
	}

	s.showMainMenu(user, msg.Chat.ID)
}

// attachReferrer привязывает пригласившего один раз, при первом /start
// с реферальным кодом. Повторные переходы и собственный код игнорируются.
func (s *Service) attachReferrer(user *db.User, code string) {
	if user.ReferrerID != nil || code == "" {
		return
	}

	var referrer db.User
	if err := s.repo.DB().Where("referral_code = ?", code).First(&referrer).Error; err != nil {
		return
	}
	if referrer.ID == user.ID {
		return
	}

	err := s.repo.DB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.User{}).Where("id = ? AND referrer_id IS NULL", user.ID).
			Update("referrer_id", referrer.ID).Error; err != nil {
			return err
		}

		if gift := s.cfg.ReferralWelcomeGift; gift > 0 {
			if err := tx.Model(&db.User{}).Where("id = ?", user.ID).
				Update("balance", gorm.Expr("balance + ?", gift)).Error; err != nil {
				return err
			}
			return tx.Create(&db.Transaction{
				UserID:      user.ID,
				Amount:      gift,
				Type:        db.TransactionTypeReferralReward,
				Description: fmt.Sprintf("Приветственный бонус по приглашению @%s", referrer.Username),
			}).Error
		}
		return nil
	})
	if err != nil {
		logger.Error("не удалось привязать реферала",
			zap.Uint("user_id", user.ID), zap.Uint("referrer_id", referrer.ID), zap.Error(err))
		return
	}

	user.ReferrerID = &referrer.ID
	if gift := s.cfg.ReferralWelcomeGift; gift > 0 {
		user.Balance += gift
		s.reply(user.TgID, fmt.Sprintf("🎁 Вам начислен приветственный бонус %d руб. за переход по приглашению!", gift))
	}

	s.reply(referrer.TgID, fmt.Sprintf("🎉 По вашей ссылке зарегистрировался @%s!", user.Username))
}

func (s *Service) showMainMenu(user *db.User, chatID int64) {
	var invited int64
	s.repo.DB().Model(&db.User{}).Where("referrer_id = ?", user.ID).Count(&invited)

	text := fmt.Sprintf(`Добро пожаловать в Melon VPN! 🍈

💰 Баланс кошелька: %d руб.
👥 Приглашено друзей: %d

🔗 Ваша ссылка для приглашений:
https://t.me/%s?start=ref_%s

Выберите действие:`,
		user.Balance,
		invited,
		s.bot.Self.UserName,
		user.ReferralCode,
	)

	rows := [][]tgbotapi.InlineKeyboardButton{
		{tgbotapi.NewInlineKeyboardButtonData("📋 Тарифы", "/plans")},
		{tgbotapi.NewInlineKeyboardButtonData("💰 Пополнить кошелёк", "/deposit")},
	}
	if s.cfg.TrialEnabled && user.TrialAccountsTaken < s.cfg.TrialLimitPerUser {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🎁 Пробный аккаунт", CallbackTrialRequest),
		})
	}

	s.replyWithKeyboard(chatID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func displayName(from *tgbotapi.User) string {
	name := from.FirstName
	if from.LastName != "" {
		name += " " + from.LastName
	}
	return name
}

func generateReferralCode(tgID int64) string {
	bytes := make([]byte, 4)
	rand.Read(bytes)

	code := fmt.Sprintf("%x%s", tgID, hex.EncodeToString(bytes))
	if len(code) > 12 {
		code = code[:12]
	}
	return code
}

func randomToken(n int) []byte {
	bytes := make([]byte, n)
	rand.Read(bytes)
	return []byte(hex.EncodeToString(bytes))
}
