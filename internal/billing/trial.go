package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"melon-bot/internal/db"
)

// CreateTrial выдаёт пробный аккаунт. Лимит на пользователя берётся
// из конфигурации, квота считается в мегабайтах, срок - в часах.
func (s *Service) CreateTrial(ctx context.Context, user *db.User) (*db.Order, error) {
	if !s.cfg.TrialEnabled {
		return nil, newValidationError("trial", "Пробные аккаунты временно отключены.")
	}
	if user.TrialAccountsTaken >= s.cfg.TrialLimitPerUser {
		return nil, newValidationError("trial", "Вы уже использовали все пробные аккаунты.")
	}

	serverID, err := s.pickTrialServer()
	if err != nil {
		return nil, err
	}

	attempt := user.TrialAccountsTaken + 1
	now := time.Now()
	expiry := now.Add(time.Duration(s.cfg.TrialDurationHours) * time.Hour)

	order := &db.Order{
		UserID:        user.ID,
		Status:        db.OrderStatusPaid,
		Amount:        0,
		Source:        db.OrderSourceTrial,
		ServerID:      serverID,
		PanelUsername: fmt.Sprintf("trial-%d-%d", user.ID, attempt),
		ExpiresAt:     &expiry,
	}

	err = s.repo.DB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		if err := s.prov.Provision(ctx, order, megabytes(s.cfg.TrialVolumeMB)); err != nil {
			return &ProvisioningError{OrderID: order.ID, Err: err}
		}
		if order.ConfigLink == "" {
			return &ProvisioningError{OrderID: order.ID, Err: errors.New("panel returned empty link")}
		}

		if err := tx.Model(&db.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"config_link":     order.ConfigLink,
			"panel_client_id": order.PanelClientID,
			"panel_sub_id":    order.PanelSubID,
		}).Error; err != nil {
			return err
		}

		return tx.Model(&db.User{}).Where("id = ?", user.ID).
			Update("trial_accounts_taken", attempt).Error
	})
	if err != nil {
		return nil, err
	}

	user.TrialAccountsTaken = attempt
	return order, nil
}

// pickTrialServer - сервер для пробного аккаунта: явно настроенный
// или первый активный со свободными местами. В режиме одной панели
// сервера нет вовсе.
func (s *Service) pickTrialServer() (*uint, error) {
	if s.cfg.TrialServerID != 0 {
		id := s.cfg.TrialServerID
		return &id, nil
	}
	if !s.cfg.MultiLocationEnabled {
		return nil, nil
	}

	var server db.Server
	err := s.repo.DB().
		Where("active = ? AND current_users < capacity", true).
		Order("current_users ASC, id ASC").First(&server).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &CapacityError{LocationID: 0}
		}
		return nil, err
	}
	return &server.ID, nil
}
