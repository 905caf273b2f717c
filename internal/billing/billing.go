package billing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"melon-bot/internal/config"
	"melon-bot/internal/db"
	"melon-bot/internal/logger"
)

// Provisioner создаёт и продлевает аккаунты на панели. Все изменения
// заказа он делает в памяти, записью занимается вызывающая сторона.
type Provisioner interface {
	Provision(ctx context.Context, order *db.Order, quotaBytes int64) error
	Renew(ctx context.Context, order *db.Order, newExpiry time.Time, quotaBytes int64) error
}

// Service - оркестратор покупок, платежей и продлений.
type Service struct {
	repo *db.Repository
	prov Provisioner
	cfg  *config.Config
}

func New(repo *db.Repository, prov Provisioner, cfg *config.Config) *Service {
	return &Service{repo: repo, prov: prov, cfg: cfg}
}

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidateUsername проверяет имя аккаунта: минимум 3 символа, только
// латиница и цифры, не занято оплаченным заказом.
func (s *Service) ValidateUsername(username string) error {
	if len(username) < 3 {
		return newValidationError("username", "Имя должно быть не короче 3 символов.")
	}
	if !usernameRe.MatchString(username) {
		return newValidationError("username", "Имя может содержать только латинские буквы и цифры, без пробелов.")
	}
	taken, err := s.repo.PaidOrderWithUsername(username)
	if err != nil {
		return err
	}
	if taken {
		return newValidationError("username", "Это имя уже занято. Выберите другое.")
	}
	return nil
}

// StartPurchase создаёт pending-заказ на тариф. Если выбрана локация,
// к заказу сразу привязывается наименее загруженный сервер, но место
// на нём не резервируется.
func (s *Service) StartPurchase(user *db.User, planID uint, username string, locationID uint) (*db.Order, error) {
	var plan db.Plan
	if err := s.repo.DB().Where("id = ? AND active = ?", planID, true).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newValidationError("plan", "Тариф не найден или отключён.")
		}
		return nil, err
	}

	if err := s.ValidateUsername(username); err != nil {
		return nil, err
	}

	order := &db.Order{
		UserID:        user.ID,
		PlanID:        &plan.ID,
		Status:        db.OrderStatusPending,
		Amount:        plan.Price,
		Source:        db.OrderSourcePurchase,
		PanelUsername: username,
	}

	if locationID != 0 {
		server, err := s.PickServer(locationID)
		if err != nil {
			return nil, err
		}
		order.ServerID = &server.ID
		order.Server = server
	}

	if err := s.repo.DB().Create(order).Error; err != nil {
		return nil, err
	}
	order.Plan = &plan
	return order, nil
}

// ApplyDiscount применяет промокод к pending-заказу. Сумма считается
// от базовой цены, так что повторное применение другого кода не
// наслаивается на предыдущий.
func (s *Service) ApplyDiscount(user *db.User, orderID uint, code string) (*db.Order, error) {
	order, err := s.repo.PendingOrderForUser(orderID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OrderStateError{OrderID: orderID, Reason: "not found or not pending"}
		}
		return nil, err
	}

	var dc db.DiscountCode
	if err := s.repo.DB().Where("code = ?", code).First(&dc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newValidationError("discount_code", "Такого промокода не существует.")
		}
		return nil, err
	}

	base := order.BasePrice()
	if !dc.ValidForOrder(base, order.PlanID, order.IsDeposit(), order.IsRenewal(), time.Now()) {
		return nil, newValidationError("discount_code", "Промокод недействителен для этого заказа.")
	}

	discount := dc.Discount(base)
	updates := map[string]interface{}{
		"amount":           base - discount,
		"discount_amount":  discount,
		"discount_code_id": dc.ID,
	}
	if err := s.repo.DB().Model(order).Updates(updates).Error; err != nil {
		return nil, err
	}
	order.DiscountCode = &dc
	return order, nil
}

// RemoveDiscount снимает промокод и возвращает базовую цену.
func (s *Service) RemoveDiscount(user *db.User, orderID uint) (*db.Order, error) {
	order, err := s.repo.PendingOrderForUser(orderID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OrderStateError{OrderID: orderID, Reason: "not found or not pending"}
		}
		return nil, err
	}

	updates := map[string]interface{}{
		"amount":           order.BasePrice(),
		"discount_amount":  0,
		"discount_code_id": nil,
	}
	if err := s.repo.DB().Model(order).Updates(updates).Error; err != nil {
		return nil, err
	}
	order.DiscountCode = nil
	return order, nil
}

// LatestPendingOrderForPlan находит последний неоплаченный заказ
// пользователя на тариф. Нужен для старых кнопок pay_wallet_<planID>.
func (s *Service) LatestPendingOrderForPlan(user *db.User, planID uint) (*db.Order, error) {
	var order db.Order
	err := s.repo.DB().Preload("Plan").Preload("Server").
		Where("user_id = ? AND plan_id = ? AND status = ?", user.ID, planID, db.OrderStatusPending).
		Order("id DESC").First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OrderStateError{OrderID: 0, Reason: "no pending order for plan"}
		}
		return nil, err
	}
	return &order, nil
}

// PayWithWallet оплачивает pending-заказ с кошелька. Весь путь - одна
// транзакция: блокировка пользователя, проверка и списание баланса,
// перевод заказа в paid, фиксация промокода, запись в журнал и
// провижининг. Любая ошибка откатывает всё, включая списание.
func (s *Service) PayWithWallet(ctx context.Context, userID, orderID uint) (*db.Order, error) {
	var paid *db.Order
	panelTouched := false

	err := s.repo.DB().Transaction(func(tx *gorm.DB) error {
		var user db.User
		if err := db.LockForUpdate(tx).First(&user, userID).Error; err != nil {
			return err
		}

		var order db.Order
		err := tx.Preload("Plan").Preload("Server").
			Where("id = ? AND user_id = ? AND status = ?", orderID, userID, db.OrderStatusPending).
			First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &OrderStateError{OrderID: orderID, Reason: "not found or already processed"}
			}
			return err
		}
		if order.Plan == nil {
			return &OrderStateError{OrderID: orderID, Reason: "deposit orders are card-only"}
		}

		if user.Balance < order.Amount {
			return &FundsError{
				Balance: user.Balance,
				Needed:  order.Amount,
				Missing: order.Amount - user.Balance,
			}
		}

		if err := tx.Model(&user).
			Update("balance", gorm.Expr("balance - ?", order.Amount)).Error; err != nil {
			return err
		}

		if order.DiscountCodeID != nil {
			if err := s.recordDiscountUsage(tx, &order); err != nil {
				return err
			}
		}

		ledger := db.Transaction{
			UserID:      user.ID,
			OrderID:     &order.ID,
			Amount:      -order.Amount,
			Type:        db.TransactionTypePurchase,
			Description: fmt.Sprintf("Оплата заказа #%d (%s)", order.ID, order.Plan.Name),
		}
		if err := tx.Create(&ledger).Error; err != nil {
			return err
		}

		now := time.Now()
		expiry := now.AddDate(0, 0, order.Plan.DurationDays)
		order.ExpiresAt = &expiry

		if err := s.prov.Provision(ctx, &order, gigabytes(order.Plan.VolumeGB)); err != nil {
			return &ProvisioningError{OrderID: order.ID, Err: err}
		}
		panelTouched = true
		if order.ConfigLink == "" {
			return &ProvisioningError{OrderID: order.ID, Err: errors.New("panel returned empty link")}
		}

		updates := map[string]interface{}{
			"status":          db.OrderStatusPaid,
			"payment_method":  db.PaymentMethodWallet,
			"expires_at":      expiry,
			"config_link":     order.ConfigLink,
			"panel_client_id": order.PanelClientID,
			"panel_sub_id":    order.PanelSubID,
			"server_id":       order.ServerID,
		}
		if err := tx.Model(&db.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
			return err
		}

		order.Status = db.OrderStatusPaid
		order.PaymentMethod = db.PaymentMethodWallet
		paid = &order
		return nil
	})
	if err != nil {
		var perr *ProvisioningError
		if panelTouched && !errors.As(err, &perr) {
			// Аккаунт на панели создан, а запись заказа не прошла.
			// Деньги откатились, панель придётся чистить руками.
			logger.Critical("wallet payment rolled back after panel account was created",
				zap.Uint("order_id", orderID), zap.Error(err))
		}
		return nil, err
	}
	return paid, nil
}

// recordDiscountUsage фиксирует применение промокода под блокировкой
// его строки. Лимит использований уже проверен при применении кода,
// здесь счётчик только растёт.
func (s *Service) recordDiscountUsage(tx *gorm.DB, order *db.Order) error {
	var dc db.DiscountCode
	if err := db.LockForUpdate(tx).First(&dc, *order.DiscountCodeID).Error; err != nil {
		return err
	}

	usage := db.DiscountCodeUsage{
		DiscountCodeID: dc.ID,
		UserID:         order.UserID,
		OrderID:        order.ID,
		DiscountAmount: order.DiscountAmount,
		OriginalAmount: order.BasePrice(),
	}
	if err := tx.Create(&usage).Error; err != nil {
		return err
	}

	return tx.Model(&dc).Update("used_count", gorm.Expr("used_count + 1")).Error
}

// AttachReceipt сохраняет чек оплаты картой и помечает заказ как
// ожидающий проверки оператором. Сам заказ остаётся pending.
func (s *Service) AttachReceipt(userID, orderID uint, fileID string) (*db.Order, error) {
	order, err := s.repo.PendingOrderForUser(orderID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OrderStateError{OrderID: orderID, Reason: "not found or already processed"}
		}
		return nil, err
	}

	updates := map[string]interface{}{
		"receipt_file_id": fileID,
		"payment_method":  db.PaymentMethodCard,
	}
	if err := s.repo.DB().Model(order).Updates(updates).Error; err != nil {
		return nil, err
	}
	order.ReceiptFileID = fileID
	return order, nil
}

// CreateDepositOrder создаёт pending-заказ на пополнение кошелька.
func (s *Service) CreateDepositOrder(user *db.User, amount int) (*db.Order, error) {
	if amount < s.cfg.MinDepositAmount {
		return nil, newValidationError("amount",
			fmt.Sprintf("Минимальная сумма пополнения - %d руб.", s.cfg.MinDepositAmount))
	}

	order := &db.Order{
		UserID: user.ID,
		Status: db.OrderStatusPending,
		Amount: amount,
		Source: db.OrderSourceDeposit,
	}
	if err := s.repo.DB().Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func gigabytes(gb int) int64 {
	return int64(gb) << 30
}

func megabytes(mb int) int64 {
	return int64(mb) << 20
}
