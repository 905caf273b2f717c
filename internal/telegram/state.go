package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

// StateKind - вид диалогового состояния пользователя.
type StateKind int

const (
	StateIdle StateKind = iota
	StateAwaitingDepositAmount
	StateAwaitingDiscountCode
	StateAwaitingUsername
	StateWaitingReceipt
	StateAwaitingTicketSubject
	StateAwaitingTicketMessage
	StateAwaitingTicketReply
)

// State - состояние диалога. Внутри кода живёт только эта структура,
// строковое представление существует лишь в колонке users.bot_state.
// Формат строк исторический и менять его нельзя: в базе уже лежат
// состояния живых пользователей.
type State struct {
	Kind       StateKind
	OrderID    uint
	PlanID     uint
	LocationID uint
	TicketID   uint
	Subject    string
}

func Idle() State { return State{Kind: StateIdle} }

func (st State) IsIdle() bool { return st.Kind == StateIdle }

// Encode сериализует состояние в формат колонки bot_state.
func (st State) Encode() string {
	switch st.Kind {
	case StateAwaitingDepositAmount:
		return "awaiting_deposit_amount"
	case StateAwaitingDiscountCode:
		return fmt.Sprintf("awaiting_discount_code|%d", st.OrderID)
	case StateAwaitingUsername:
		s := fmt.Sprintf("awaiting_username_for_order|%d", st.PlanID)
		if st.LocationID != 0 {
			s += fmt.Sprintf("|selected_loc:%d", st.LocationID)
		}
		return s
	case StateWaitingReceipt:
		return fmt.Sprintf("waiting_receipt_%d", st.OrderID)
	case StateAwaitingTicketSubject:
		return "awaiting_new_ticket_subject"
	case StateAwaitingTicketMessage:
		return "awaiting_new_ticket_message|" + st.Subject
	case StateAwaitingTicketReply:
		return fmt.Sprintf("awaiting_ticket_reply|%d", st.TicketID)
	}
	return ""
}

// ParseState разбирает строку из bot_state. Всё неразборчивое
// трактуется как Idle: старые или битые состояния не должны
// блокировать пользователя.
func ParseState(raw string) State {
	if raw == "" {
		return Idle()
	}

	switch {
	case raw == "awaiting_deposit_amount":
		return State{Kind: StateAwaitingDepositAmount}

	case strings.HasPrefix(raw, "awaiting_discount_code|"):
		id, ok := parseUintToken(strings.TrimPrefix(raw, "awaiting_discount_code|"))
		if !ok {
			return Idle()
		}
		return State{Kind: StateAwaitingDiscountCode, OrderID: id}

	case strings.HasPrefix(raw, "awaiting_username_for_order|"):
		rest := strings.TrimPrefix(raw, "awaiting_username_for_order|")
		parts := strings.Split(rest, "|")
		planID, ok := parseUintToken(parts[0])
		if !ok {
			return Idle()
		}
		st := State{Kind: StateAwaitingUsername, PlanID: planID}
		for _, p := range parts[1:] {
			if strings.HasPrefix(p, "selected_loc:") {
				if locID, ok := parseUintToken(strings.TrimPrefix(p, "selected_loc:")); ok {
					st.LocationID = locID
				}
			}
		}
		return st

	case strings.HasPrefix(raw, "waiting_receipt_"):
		id, ok := parseUintToken(strings.TrimPrefix(raw, "waiting_receipt_"))
		if !ok {
			return Idle()
		}
		return State{Kind: StateWaitingReceipt, OrderID: id}

	case raw == "awaiting_new_ticket_subject":
		return State{Kind: StateAwaitingTicketSubject}

	case strings.HasPrefix(raw, "awaiting_new_ticket_message|"):
		return State{
			Kind:    StateAwaitingTicketMessage,
			Subject: strings.TrimPrefix(raw, "awaiting_new_ticket_message|"),
		}

	case strings.HasPrefix(raw, "awaiting_ticket_reply|"):
		id, ok := parseUintToken(strings.TrimPrefix(raw, "awaiting_ticket_reply|"))
		if !ok {
			return Idle()
		}
		return State{Kind: StateAwaitingTicketReply, TicketID: id}
	}

	return Idle()
}

func parseUintToken(s string) (uint, bool) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
