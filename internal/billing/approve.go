package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"melon-bot/internal/db"
	"melon-bot/internal/logger"
)

// ApproveCardOrder подтверждает оплату картой. Для пополнения
// зачисляется баланс, для покупки выполняется провижининг, для
// продления сдвигается дата оригинального заказа. Возвращённый заказ
// уже в статусе paid.
func (s *Service) ApproveCardOrder(ctx context.Context, orderID uint) (*db.Order, error) {
	var order db.Order
	err := s.repo.DB().Preload("Plan").Preload("Server").
		Where("id = ? AND status = ?", orderID, db.OrderStatusPending).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OrderStateError{OrderID: orderID, Reason: "not found or already processed"}
		}
		return nil, err
	}

	switch {
	case order.IsDeposit():
		return s.approveDeposit(&order)
	case order.IsRenewal():
		return s.approveCardRenewal(ctx, &order)
	default:
		return s.approveCardPurchase(ctx, &order)
	}
}

func (s *Service) approveDeposit(order *db.Order) (*db.Order, error) {
	err := s.repo.DB().Transaction(func(tx *gorm.DB) error {
		var user db.User
		if err := db.LockForUpdate(tx).First(&user, order.UserID).Error; err != nil {
			return err
		}

		if err := tx.Model(&user).
			Update("balance", gorm.Expr("balance + ?", order.Amount)).Error; err != nil {
			return err
		}

		ledger := db.Transaction{
			UserID:      user.ID,
			OrderID:     &order.ID,
			Amount:      order.Amount,
			Type:        db.TransactionTypeDeposit,
			Description: fmt.Sprintf("Пополнение кошелька по заказу #%d", order.ID),
		}
		if err := tx.Create(&ledger).Error; err != nil {
			return err
		}

		return tx.Model(order).Updates(map[string]interface{}{
			"status":         db.OrderStatusPaid,
			"payment_method": db.PaymentMethodCard,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	order.Status = db.OrderStatusPaid
	return order, nil
}

func (s *Service) approveCardPurchase(ctx context.Context, order *db.Order) (*db.Order, error) {
	if order.Plan == nil {
		return nil, &OrderStateError{OrderID: order.ID, Reason: "purchase order without plan"}
	}

	panelTouched := false
	err := s.repo.DB().Transaction(func(tx *gorm.DB) error {
		if order.DiscountCodeID != nil {
			if err := s.recordDiscountUsage(tx, order); err != nil {
				return err
			}
		}

		now := time.Now()
		expiry := now.AddDate(0, 0, order.Plan.DurationDays)
		order.ExpiresAt = &expiry

		if err := s.prov.Provision(ctx, order, gigabytes(order.Plan.VolumeGB)); err != nil {
			return &ProvisioningError{OrderID: order.ID, Err: err}
		}
		panelTouched = true
		if order.ConfigLink == "" {
			return &ProvisioningError{OrderID: order.ID, Err: errors.New("panel returned empty link")}
		}

		return tx.Model(&db.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"status":          db.OrderStatusPaid,
			"payment_method":  db.PaymentMethodCard,
			"expires_at":      expiry,
			"config_link":     order.ConfigLink,
			"panel_client_id": order.PanelClientID,
			"panel_sub_id":    order.PanelSubID,
			"server_id":       order.ServerID,
		}).Error
	})
	if err != nil {
		var perr *ProvisioningError
		if panelTouched && !errors.As(err, &perr) {
			logger.Critical("card approval rolled back after panel account was created",
				zap.Uint("order_id", order.ID), zap.Error(err))
		}
		return nil, err
	}
	order.Status = db.OrderStatusPaid
	return order, nil
}

func (s *Service) approveCardRenewal(ctx context.Context, audit *db.Order) (*db.Order, error) {
	panelTouched := false
	err := s.repo.DB().Transaction(func(tx *gorm.DB) error {
		var original db.Order
		err := tx.Preload("Plan").Preload("Server").
			Where("id = ? AND status = ?", *audit.RenewsOrderID, db.OrderStatusPaid).
			First(&original).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &OrderStateError{OrderID: *audit.RenewsOrderID, Reason: "original order is gone"}
			}
			return err
		}
		if original.Plan == nil {
			return &OrderStateError{OrderID: original.ID, Reason: "order has no plan to renew"}
		}

		now := time.Now()
		newExpiry := renewalExpiry(original.ExpiresAt, original.Plan.DurationDays, now)

		if err := s.prov.Renew(ctx, &original, newExpiry, gigabytes(original.Plan.VolumeGB)); err != nil {
			return &ProvisioningError{OrderID: original.ID, Err: err}
		}
		panelTouched = true

		if err := tx.Model(&db.Order{}).Where("id = ?", original.ID).
			Update("expires_at", newExpiry).Error; err != nil {
			return err
		}

		return tx.Model(&db.Order{}).Where("id = ?", audit.ID).Updates(map[string]interface{}{
			"status":     db.OrderStatusPaid,
			"expires_at": newExpiry,
		}).Error
	})
	if err != nil {
		var perr *ProvisioningError
		if panelTouched && !errors.As(err, &perr) {
			logger.Critical("card renewal rolled back after panel was extended",
				zap.Uint("order_id", audit.ID), zap.Error(err))
		}
		return nil, err
	}
	audit.Status = db.OrderStatusPaid
	return audit, nil
}

// RejectCardOrder отклоняет неоплаченный заказ: запись удаляется,
// чтобы имя аккаунта снова стало свободным.
func (s *Service) RejectCardOrder(orderID uint) (*db.Order, error) {
	var order db.Order
	err := s.repo.DB().
		Where("id = ? AND status = ?", orderID, db.OrderStatusPending).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OrderStateError{OrderID: orderID, Reason: "not found or already processed"}
		}
		return nil, err
	}

	if err := s.repo.DB().Delete(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}
