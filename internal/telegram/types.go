package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"melon-bot/internal/db"
)

// Command представляет команду бота
type Command string

const (
	CmdStart        Command = "start"
	CmdHelp         Command = "help"
	CmdPlans        Command = "plans"
	CmdMyServices   Command = "my_services"
	CmdWallet       Command = "wallet"
	CmdDeposit      Command = "deposit"
	CmdTransactions Command = "transactions"
	CmdTrial        Command = "trial"
	CmdSupport      Command = "support"
	CmdCancel       Command = "cancel_action"
	CmdPayQueue     Command = "payqueue"
)

func (c Command) String() string {
	return string(c)
}

func (c Command) IsValid() bool {
	switch c {
	case CmdStart, CmdHelp, CmdPlans, CmdMyServices, CmdWallet,
		CmdDeposit, CmdTransactions, CmdTrial, CmdSupport,
		CmdCancel, CmdPayQueue:
		return true
	}
	return false
}

func (c Command) IsAdminOnly() bool {
	return c == CmdPayQueue
}

// CallbackPrefix представляет префиксы callback данных
type CallbackPrefix string

const (
	CallbackBuyPlan        CallbackPrefix = "buy_plan_"
	CallbackShowDuration   CallbackPrefix = "show_duration_"
	CallbackSelectLocation CallbackPrefix = "select_loc_"
	// Порядок проверки важен: pay_wallet_order_ длиннее pay_wallet_
	CallbackPayWalletOrder CallbackPrefix = "pay_wallet_order_"
	CallbackPayWalletPlan  CallbackPrefix = "pay_wallet_"
	CallbackPayCard        CallbackPrefix = "pay_card_"
	CallbackEnterDiscount  CallbackPrefix = "enter_discount_"
	CallbackRemoveDiscount CallbackPrefix = "remove_discount_"
	CallbackRenewOrder     CallbackPrefix = "renew_order_"
	CallbackRenewPayWallet CallbackPrefix = "renew_pay_wallet_"
	CallbackRenewPayCard   CallbackPrefix = "renew_pay_card_"
	CallbackDepositAmount  CallbackPrefix = "deposit_amount_"
	CallbackShowService    CallbackPrefix = "show_service_"
	CallbackCopyLink       CallbackPrefix = "copy_link_"
	CallbackOrderApprove   CallbackPrefix = "order_approve_"
	CallbackOrderReject    CallbackPrefix = "order_reject_"
	CallbackReplyTicket    CallbackPrefix = "reply_ticket_"
	CallbackCloseTicket    CallbackPrefix = "close_ticket_"
)

func (c CallbackPrefix) String() string {
	return string(c)
}

func (c CallbackPrefix) WithID(id interface{}) string {
	return string(c) + fmt.Sprintf("%v", id)
}

// ParseID извлекает числовой идентификатор из callback-данных.
func (c CallbackPrefix) ParseID(data string) (uint, error) {
	raw := strings.TrimPrefix(data, string(c))
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad id in callback %q: %w", data, err)
	}
	return uint(id), nil
}

// Одиночные callback-токены без параметров
const (
	CallbackTrialRequest  = "trial_request"
	CallbackDepositCustom = "deposit_custom"
	CallbackSupportNew    = "support_new"
	CallbackCancelAction  = "cancel_action"
	CallbackBackToPlans   = "back_to_plans"
)

// OrderStatus представляет статус заказа
type OrderStatus string

const (
	OrderStatusPending OrderStatus = db.OrderStatusPending
	OrderStatusPaid    OrderStatus = db.OrderStatusPaid
)

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) DisplayName() string {
	switch s {
	case OrderStatusPending:
		return "ожидает оплаты"
	case OrderStatusPaid:
		return "оплачен"
	}
	return "неизвестный статус"
}

func (s OrderStatus) Emoji() string {
	switch s {
	case OrderStatusPending:
		return "⏳"
	case OrderStatusPaid:
		return "✅"
	}
	return "❓"
}

// TransactionType представляет тип операции по кошельку
type TransactionType string

const (
	TransactionDeposit        TransactionType = db.TransactionTypeDeposit
	TransactionPurchase       TransactionType = db.TransactionTypePurchase
	TransactionRefund         TransactionType = db.TransactionTypeRefund
	TransactionReferralReward TransactionType = db.TransactionTypeReferralReward
)

func (t TransactionType) DisplayName() string {
	switch t {
	case TransactionDeposit:
		return "пополнение"
	case TransactionPurchase:
		return "покупка"
	case TransactionRefund:
		return "возврат"
	case TransactionReferralReward:
		return "бонус за приглашение"
	}
	return "операция"
}

func (t TransactionType) Emoji() string {
	switch t {
	case TransactionDeposit:
		return "💰"
	case TransactionPurchase:
		return "🛒"
	case TransactionRefund:
		return "↩️"
	case TransactionReferralReward:
		return "🎁"
	}
	return "💳"
}

// OrderKind - человекочитаемый тип заказа для уведомлений операторам
type OrderKind string

const (
	OrderKindPurchase OrderKind = db.OrderSourcePurchase
	OrderKindDeposit  OrderKind = db.OrderSourceDeposit
	OrderKindRenewal  OrderKind = db.OrderSourceRenewal
)

func (k OrderKind) DisplayName() string {
	switch k {
	case OrderKindPurchase:
		return "покупка"
	case OrderKindDeposit:
		return "пополнение кошелька"
	case OrderKindRenewal:
		return "продление"
	}
	return "заказ"
}

// KindOfOrder определяет тип заказа для вывода админам.
func KindOfOrder(order *db.Order) OrderKind {
	switch {
	case order.IsRenewal():
		return OrderKindRenewal
	case order.IsDeposit():
		return OrderKindDeposit
	}
	return OrderKindPurchase
}
