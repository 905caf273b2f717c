package db

import (
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

// NewRepository открывает базу. Postgres распознаётся по DSN,
// всё остальное считается путём к sqlite-файлу (тесты используют :memory:).
func NewRepository(dsn string) (*Repository, error) {
	var dial gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.Contains(dsn, "host=") {
		dial = postgres.Open(dsn)
	} else {
		dial = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return &Repository{db: db}, nil
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

// LockForUpdate навешивает SELECT ... FOR UPDATE там, где диалект его
// поддерживает. SQLite сериализует писателей сам, поэтому для него
// запрос уходит без клаузы.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// ActivePlans возвращает тарифы на витрине.
func (r *Repository) ActivePlans() ([]Plan, error) {
	var plans []Plan
	err := r.db.Where("active = ?", true).Order("duration_days, price").Find(&plans).Error
	return plans, err
}

// ActivePlansByDuration - тарифы одной длительности.
func (r *Repository) ActivePlansByDuration(days int) ([]Plan, error) {
	var plans []Plan
	err := r.db.Where("active = ? AND duration_days = ?", true, days).
		Order("price").Find(&plans).Error
	return plans, err
}

// ActiveServersByLoad - активные серверы локации со свободными местами,
// от наименее загруженного. При равной загрузке побеждает меньший id,
// чтобы выбор был детерминированным.
func (r *Repository) ActiveServersByLoad(locationID uint) ([]Server, error) {
	var servers []Server
	err := r.db.Preload("Location").
		Where("location_id = ? AND active = ? AND current_users < capacity", locationID, true).
		Order("current_users ASC, id ASC").Find(&servers).Error
	return servers, err
}

// LocationCapacity - суммарная ёмкость и занятость активных серверов локации.
func (r *Repository) LocationCapacity(locationID uint) (capacity, used int, err error) {
	type agg struct {
		Capacity int
		Used     int
	}
	var a agg
	err = r.db.Model(&Server{}).
		Select("COALESCE(SUM(capacity),0) AS capacity, COALESCE(SUM(current_users),0) AS used").
		Where("location_id = ? AND active = ?", locationID, true).
		Scan(&a).Error
	return a.Capacity, a.Used, err
}

// PaidOrderWithUsername проверяет, занят ли username оплаченным заказом.
func (r *Repository) PaidOrderWithUsername(username string) (bool, error) {
	var n int64
	err := r.db.Model(&Order{}).
		Where("panel_username = ? AND status = ?", username, OrderStatusPaid).
		Count(&n).Error
	return n > 0, err
}

// PendingOrderForUser - заказ в статусе pending, принадлежащий пользователю.
func (r *Repository) PendingOrderForUser(orderID, userID uint) (*Order, error) {
	var order Order
	err := r.db.Preload("Plan").Preload("Server").Preload("Server.Location").
		Where("id = ? AND user_id = ? AND status = ?", orderID, userID, OrderStatusPending).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// PaidOrderForUser - оплаченный заказ пользователя (для продления и деталей).
func (r *Repository) PaidOrderForUser(orderID, userID uint) (*Order, error) {
	var order Order
	err := r.db.Preload("Plan").Preload("Server").Preload("Server.Location").
		Where("id = ? AND user_id = ? AND status = ?", orderID, userID, OrderStatusPaid).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UserByTgID находит пользователя по телеграмному id.
func (r *Repository) UserByTgID(tgID int64) (*User, error) {
	var user User
	if err := r.db.Where("tg_id = ?", tgID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveState сохраняет сериализованное состояние диалога.
func (r *Repository) SaveState(userID uint, state string) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("bot_state", state).Error
}

// DefaultInbound - зеркальный inbound для режима одной панели.
func (r *Repository) DefaultInbound() (*Inbound, error) {
	var inb Inbound
	if err := r.db.First(&inb).Error; err != nil {
		return nil, err
	}
	return &inb, nil
}

// RecentTransactions - последние операции по кошельку.
func (r *Repository) RecentTransactions(userID uint, limit int) ([]Transaction, error) {
	var txs []Transaction
	err := r.db.Where("user_id = ?", userID).
		Order("id DESC").Limit(limit).Find(&txs).Error
	return txs, err
}

func (r *Repository) AutoMigrate() error {
	return Migrate(r.db)
}
