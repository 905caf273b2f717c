package db

import (
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	// Сначала выполняем обычную миграцию
	err := db.AutoMigrate(
		&User{},
		&Plan{},
		&Location{},
		&Server{},
		&Order{},
		&DiscountCode{},
		&DiscountCodeUsage{},
		&Transaction{},
		&Inbound{},
		&Ticket{},
		&TicketReply{},
	)
	if err != nil {
		return err
	}

	return ensurePaidUsernameIndex(db)
}

// ensurePaidUsernameIndex держит уникальность panel_username среди
// оплаченных заказов на уровне базы. Частичные индексы умеет только
// postgres; под sqlite уникальность проверяется кодом при валидации.
func ensurePaidUsernameIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "postgres":
		return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_orders_paid_username
			ON orders (panel_username) WHERE status = 'paid' AND panel_username <> ''`).Error
	}
	return nil
}
