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

// RenewalQuote - данные для счёта на продление.
type RenewalQuote struct {
	Original *db.Order
	Plan     *db.Plan
	Price    int
}

// QuoteRenewal проверяет, что заказ можно продлить, и возвращает цену.
// Продлеваются только оплаченные заказы самого пользователя.
func (s *Service) QuoteRenewal(userID, orderID uint) (*RenewalQuote, error) {
	original, err := s.repo.PaidOrderForUser(orderID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OrderStateError{OrderID: orderID, Reason: "not paid or not owned by user"}
		}
		return nil, err
	}
	if original.Plan == nil {
		return nil, &OrderStateError{OrderID: orderID, Reason: "order has no plan to renew"}
	}
	return &RenewalQuote{
		Original: original,
		Plan:     original.Plan,
		Price:    original.Plan.Price,
	}, nil
}

// renewalExpiry - базовая дата продления. Истёкший заказ продлевается
// от текущего момента, действующий - от своей даты окончания, чтобы
// раннее продление не съедало оплаченные дни.
func renewalExpiry(current *time.Time, durationDays int, now time.Time) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, 0, durationDays)
}

// RenewWithWallet продлевает оплаченный заказ с кошелька. Одна
// транзакция: списание, аудит-заказ со ссылкой на оригинал, журнал,
// продление на панели и сдвиг даты у ОРИГИНАЛЬНОГО заказа. Ссылка
// подключения при продлении не меняется.
func (s *Service) RenewWithWallet(ctx context.Context, userID, orderID uint) (*db.Order, error) {
	var renewed *db.Order
	panelTouched := false

	err := s.repo.DB().Transaction(func(tx *gorm.DB) error {
		var user db.User
		if err := db.LockForUpdate(tx).First(&user, userID).Error; err != nil {
			return err
		}

		var original db.Order
		err := tx.Preload("Plan").Preload("Server").
			Where("id = ? AND user_id = ? AND status = ?", orderID, userID, db.OrderStatusPaid).
			First(&original).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &OrderStateError{OrderID: orderID, Reason: "not paid or not owned by user"}
			}
			return err
		}
		if original.Plan == nil {
			return &OrderStateError{OrderID: orderID, Reason: "order has no plan to renew"}
		}

		price := original.Plan.Price
		if user.Balance < price {
			return &FundsError{Balance: user.Balance, Needed: price, Missing: price - user.Balance}
		}

		if err := tx.Model(&user).
			Update("balance", gorm.Expr("balance - ?", price)).Error; err != nil {
			return err
		}

		now := time.Now()
		newExpiry := renewalExpiry(original.ExpiresAt, original.Plan.DurationDays, now)

		audit := db.Order{
			UserID:        user.ID,
			PlanID:        original.PlanID,
			Status:        db.OrderStatusPaid,
			Amount:        price,
			PaymentMethod: db.PaymentMethodWallet,
			Source:        db.OrderSourceRenewal,
			ServerID:      original.ServerID,
			PanelUsername: original.PanelUsername,
			PanelClientID: original.PanelClientID,
			PanelSubID:    original.PanelSubID,
			ConfigLink:    original.ConfigLink,
			ExpiresAt:     &newExpiry,
			RenewsOrderID: &original.ID,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}

		ledger := db.Transaction{
			UserID:      user.ID,
			OrderID:     &audit.ID,
			Amount:      -price,
			Type:        db.TransactionTypePurchase,
			Description: fmt.Sprintf("Продление заказа #%d (%s)", original.ID, original.Plan.Name),
		}
		if err := tx.Create(&ledger).Error; err != nil {
			return err
		}

		if err := s.prov.Renew(ctx, &original, newExpiry, gigabytes(original.Plan.VolumeGB)); err != nil {
			return &ProvisioningError{OrderID: original.ID, Err: err}
		}
		panelTouched = true

		if err := tx.Model(&db.Order{}).Where("id = ?", original.ID).
			Update("expires_at", newExpiry).Error; err != nil {
			return err
		}

		original.ExpiresAt = &newExpiry
		renewed = &original
		return nil
	})
	if err != nil {
		var perr *ProvisioningError
		if panelTouched && !errors.As(err, &perr) {
			// Панель уже продлила аккаунт, а запись не прошла: откат
			// вернул деньги и удалил аудит-заказ, расхождение с панелью
			// чинится руками.
			logger.Critical("renewal rolled back after panel was extended",
				zap.Uint("order_id", orderID), zap.Error(err))
		}
		return nil, err
	}
	return renewed, nil
}

// CreateCardRenewalOrder создаёт pending-заказ на продление картой.
// Оригинальный заказ не трогается до подтверждения оператором.
func (s *Service) CreateCardRenewalOrder(userID, orderID uint) (*db.Order, error) {
	quote, err := s.QuoteRenewal(userID, orderID)
	if err != nil {
		return nil, err
	}

	order := &db.Order{
		UserID:        userID,
		PlanID:        quote.Original.PlanID,
		Status:        db.OrderStatusPending,
		Amount:        quote.Price,
		PaymentMethod: db.PaymentMethodCard,
		Source:        db.OrderSourceRenewal,
		ServerID:      quote.Original.ServerID,
		PanelUsername: quote.Original.PanelUsername,
		RenewsOrderID: &quote.Original.ID,
	}
	if err := s.repo.DB().Create(order).Error; err != nil {
		return nil, err
	}
	order.Plan = quote.Plan
	return order, nil
}
