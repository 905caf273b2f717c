package db

import "time"

// Статусы заказа. Других не бывает: отклонённые заказы удаляются.
const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
)

// Способы оплаты заказа
const (
	PaymentMethodWallet = "wallet"
	PaymentMethodCard   = "card"
)

// Источник заказа
const (
	OrderSourcePurchase = "purchase"
	OrderSourceDeposit  = "deposit"
	OrderSourceRenewal  = "renewal"
	OrderSourceTrial    = "trial"
)

// Типы записей в журнале операций
const (
	TransactionTypeDeposit        = "deposit"
	TransactionTypePurchase       = "purchase"
	TransactionTypeRefund         = "refund"
	TransactionTypeReferralReward = "referral_reward"
)

// User - пользователи
type User struct {
	ID                 uint  `gorm:"primaryKey"`
	TgID               int64 `gorm:"uniqueIndex;not null"`
	Name               string
	Username           string
	PasswordHash       string
	Balance            int    `gorm:"not null;default:0"`
	ReferralCode       string `gorm:"uniqueIndex"`
	ReferrerID         *uint
	TrialAccountsTaken int    `gorm:"not null;default:0"`
	BotState           string `gorm:"default:''"`
	CreatedAt          time.Time

	Referrer *User `gorm:"foreignKey:ReferrerID"`
}

// Plan - тарифы
type Plan struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Price        int    `gorm:"not null"`
	DurationDays int    `gorm:"not null"`
	VolumeGB     int    `gorm:"not null"`
	Active       bool
	CreatedAt    time.Time
}

// Location - локации серверов (мультисерверный режим)
type Location struct {
	ID     uint   `gorm:"primaryKey"`
	Name   string `gorm:"not null"`
	Flag   string

	// Булевы флаги без default-тега: gorm не отправляет нулевые
	// значения полей с default при Create, и выключенная запись
	// родилась бы включённой.
	Active bool
}

// Server - x-ui сервер внутри локации
type Server struct {
	ID         uint `gorm:"primaryKey"`
	LocationID uint `gorm:"not null;index"`
	Name       string
	Host       string `gorm:"not null"`
	Username   string `gorm:"not null"`
	Password   string `gorm:"not null"`
	InboundID  int    `gorm:"not null"`

	Capacity     int `gorm:"not null"`
	CurrentUsers int `gorm:"not null;default:0"`
	Active       bool

	// single | subscription | tunnel
	LinkType string `gorm:"default:'single'"`

	SubDomain string
	SubPort   int
	SubPath   string
	SubHTTPS  bool

	TunnelAddress string
	TunnelPort    int
	TunnelTLS     bool

	Location Location `gorm:"foreignKey:LocationID"`
}

// Order - заказы. PlanID == nil означает пополнение кошелька,
// RenewsOrderID != nil — аудит-запись продления чужого ожидать нельзя:
// продление всегда ссылается на заказ того же пользователя.
type Order struct {
	ID     uint   `gorm:"primaryKey"`
	UserID uint   `gorm:"not null;index"`
	PlanID *uint  `gorm:"index"`
	Status string `gorm:"not null;default:'pending';check:status IN ('pending','paid')"`

	Amount         int `gorm:"not null"`
	DiscountAmount int `gorm:"not null;default:0"`
	DiscountCodeID *uint

	PaymentMethod string
	Source        string `gorm:"default:'purchase'"`

	ServerID      *uint
	PanelUsername string `gorm:"index"`
	PanelClientID string
	PanelSubID    string
	ConfigLink    string

	ReceiptFileID string

	ExpiresAt     *time.Time
	RenewsOrderID *uint
	CreatedAt     time.Time

	// Relations
	User         User          `gorm:"foreignKey:UserID"`
	Plan         *Plan         `gorm:"foreignKey:PlanID"`
	Server       *Server       `gorm:"foreignKey:ServerID"`
	DiscountCode *DiscountCode `gorm:"foreignKey:DiscountCodeID"`
}

// BasePrice восстанавливает цену до применения скидки.
func (o *Order) BasePrice() int {
	return o.Amount + o.DiscountAmount
}

// IsDeposit - заказ на пополнение кошелька, а не на тариф.
func (o *Order) IsDeposit() bool {
	return o.PlanID == nil && o.Source == OrderSourceDeposit
}

func (o *Order) IsRenewal() bool {
	return o.RenewsOrderID != nil
}

// DiscountCode - промокоды
type DiscountCode struct {
	ID        uint   `gorm:"primaryKey"`
	Code      string `gorm:"uniqueIndex;not null"`
	Active    bool
	StartsAt  *time.Time
	ExpiresAt *time.Time

	// percent | fixed
	Kind  string `gorm:"not null;check:kind IN ('percent','fixed')"`
	Value int    `gorm:"not null"`

	MinAmount    int
	PlanID       *uint
	AllowDeposit bool
	AllowRenewal bool

	MaxUses   int `gorm:"default:0"`
	UsedCount int `gorm:"default:0"`
}

// ValidForOrder решает, применим ли промокод к конкретной покупке.
// Лимит использований проверяется здесь же: шаг инкремента счётчика
// повторной проверки не делает.
func (c *DiscountCode) ValidForOrder(amount int, planID *uint, isDeposit, isRenewal bool, now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return false
	}
	if c.MinAmount > 0 && amount < c.MinAmount {
		return false
	}
	if isDeposit && !c.AllowDeposit {
		return false
	}
	if isRenewal && !c.AllowRenewal {
		return false
	}
	if c.PlanID != nil {
		if planID == nil || *planID != *c.PlanID {
			return false
		}
	}
	return true
}

// Discount считает размер скидки от суммы. Результат не превышает сумму.
func (c *DiscountCode) Discount(amount int) int {
	var d int
	switch c.Kind {
	case "percent":
		d = amount * c.Value / 100
	case "fixed":
		d = c.Value
	}
	if d > amount {
		d = amount
	}
	if d < 0 {
		d = 0
	}
	return d
}

// DiscountCodeUsage - факт применения промокода к оплаченному заказу
type DiscountCodeUsage struct {
	ID             uint `gorm:"primaryKey"`
	DiscountCodeID uint `gorm:"not null;index"`
	UserID         uint `gorm:"not null"`
	OrderID        uint `gorm:"not null"`
	DiscountAmount int  `gorm:"not null"`
	OriginalAmount int  `gorm:"not null"`
	CreatedAt      time.Time
}

// Transaction - журнал движений по кошельку. Amount со знаком:
// пополнения положительные, списания отрицательные.
type Transaction struct {
	ID          uint `gorm:"primaryKey"`
	UserID      uint `gorm:"not null;index"`
	OrderID     *uint
	Amount      int    `gorm:"not null"`
	Type        string `gorm:"not null"`
	Status      string `gorm:"default:'completed'"`
	Description string
	CreatedAt   time.Time
}

// Inbound - локальное зеркало inbound'а панели для режима одной панели.
// В мультисерверном режиме inbound читается с сервера напрямую.
type Inbound struct {
	ID             uint `gorm:"primaryKey"`
	InboundID      int  `gorm:"not null"`
	Protocol       string
	Port           int
	StreamSettings string `gorm:"type:text"`
}

// Ticket - обращения в поддержку
type Ticket struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;index"`
	Subject   string `gorm:"not null"`
	Status    string `gorm:"default:'open';check:status IN ('open','answered','closed')"`
	CreatedAt time.Time

	User User `gorm:"foreignKey:UserID"`
}

type TicketReply struct {
	ID               uint `gorm:"primaryKey"`
	TicketID         uint `gorm:"not null;index"`
	UserID           uint `gorm:"not null"`
	Message          string
	AttachmentFileID string
	FromSupport      bool
	CreatedAt        time.Time
}
