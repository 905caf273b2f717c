package scheduler

import (
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"melon-bot/internal/config"
	"melon-bot/internal/db"
	"melon-bot/internal/logger"
)

type Scheduler struct {
	cron *cron.Cron
	repo *db.Repository
	bot  *tgbotapi.BotAPI
	cfg  *config.Config
}

func NewScheduler(repo *db.Repository, bot *tgbotapi.BotAPI, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		repo: repo,
		bot:  bot,
		cfg:  cfg,
	}
}

func (s *Scheduler) Start() error {
	// Уведомления об истёкших подключениях (ежедневно в 00:10)
	_, err := s.cron.AddFunc("10 0 * * *", s.notifyExpired)
	if err != nil {
		return fmt.Errorf("failed to add expired notices job: %w", err)
	}

	// Напоминания за 3 дня до истечения (ежедневно в 12:00)
	_, err = s.cron.AddFunc("0 12 * * *", s.sendExpirationReminders)
	if err != nil {
		return fmt.Errorf("failed to add expiration reminders job: %w", err)
	}

	s.cron.Start()
	logger.Info("планировщик запущен")

	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	logger.Info("планировщик остановлен")
}

// notifyExpired сообщает пользователям о подключениях, истёкших за
// последние сутки. Окно в сутки не даёт слать одно и то же каждый день.
func (s *Scheduler) notifyExpired() {
	now := time.Now()
	dayAgo := now.AddDate(0, 0, -1)

	var orders []db.Order
	result := s.repo.DB().
		Preload("User").
		Where("status = ? AND renews_order_id IS NULL AND panel_username <> '' AND expires_at >= ? AND expires_at < ?",
			db.OrderStatusPaid, dayAgo, now).
		Find(&orders)
	if result.Error != nil {
		logger.Error("не удалось получить истёкшие заказы", zap.Error(result.Error))
		return
	}

	if len(orders) == 0 {
		return
	}

	for _, order := range orders {
		text := fmt.Sprintf(`⛔ Подключение %s истекло

Продлите его, чтобы вернуть доступ: /my_services`,
			order.PanelUsername,
		)
		msg := tgbotapi.NewMessage(order.User.TgID, text)
		if _, err := s.bot.Send(msg); err != nil {
			logger.Error("не удалось отправить уведомление об истечении",
				zap.Int64("tg_id", order.User.TgID), zap.Error(err))
		}
	}

	logger.Info("разосланы уведомления об истёкших подключениях", zap.Int("count", len(orders)))
	s.sendAdminReport(fmt.Sprintf("🕒 Истекло подключений за сутки: %d", len(orders)))
}

// sendExpirationReminders напоминает о подключениях, истекающих через
// 3 дня. Сравниваем по суточному окну, чтобы задача, запускаясь раз в
// день, видела каждый заказ ровно один раз.
func (s *Scheduler) sendExpirationReminders() {
	from := time.Now().AddDate(0, 0, 3)
	to := from.AddDate(0, 0, 1)

	var orders []db.Order
	result := s.repo.DB().
		Preload("User").
		Preload("Plan").
		Where("status = ? AND renews_order_id IS NULL AND panel_username <> '' AND expires_at >= ? AND expires_at < ?",
			db.OrderStatusPaid, from, to).
		Find(&orders)
	if result.Error != nil {
		logger.Error("не удалось получить истекающие заказы", zap.Error(result.Error))
		return
	}

	if len(orders) == 0 {
		return
	}

	logger.Info("найдены подключения, истекающие через 3 дня", zap.Int("count", len(orders)))

	for _, order := range orders {
		planName := order.PanelUsername
		if order.Plan != nil {
			planName = order.Plan.Name
		}

		text := fmt.Sprintf(`⚠️ Напоминание о подписке

Ваше подключение "%s" истекает %s.

Продлите его заранее, чтобы не остаться без VPN: /my_services`,
			planName,
			order.ExpiresAt.Format("02.01.2006"),
		)

		msg := tgbotapi.NewMessage(order.User.TgID, text)
		if _, err := s.bot.Send(msg); err != nil {
			logger.Error("не удалось отправить напоминание",
				zap.Int64("tg_id", order.User.TgID), zap.Error(err))
		}
	}
}

// sendAdminReport отправляет отчёт супер-админу.
func (s *Scheduler) sendAdminReport(message string) {
	if s.cfg.SuperAdminID == "" {
		return
	}

	adminID, err := strconv.ParseInt(s.cfg.SuperAdminID, 10, 64)
	if err != nil {
		return
	}

	msg := tgbotapi.NewMessage(adminID, message)
	s.bot.Send(msg)
}
