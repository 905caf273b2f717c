package billing

import "fmt"

// Доменные ошибки биллинга. Ни одна не подлежит авторетраю:
// транспортный слой переводит их в сообщения пользователю.

// ValidationError - некорректный ввод (сумма, username, промокод).
type ValidationError struct {
	Field      string
	UserReason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.UserReason)
}

func newValidationError(field, userReason string) *ValidationError {
	return &ValidationError{Field: field, UserReason: userReason}
}

// CapacityError - в локации нет свободных мест.
type CapacityError struct {
	LocationID uint
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("no free capacity in location %d", e.LocationID)
}

// FundsError - на кошельке не хватает средств.
type FundsError struct {
	Balance int
	Needed  int
	Missing int
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, needed %d", e.Balance, e.Needed)
}

// OrderStateError - заказ не найден, не принадлежит пользователю
// или находится не в том статусе.
type OrderStateError struct {
	OrderID uint
	Reason  string
}

func (e *OrderStateError) Error() string {
	return fmt.Sprintf("order %d: %s", e.OrderID, e.Reason)
}

// ProvisioningError - панель не создала аккаунт или не вернула ссылку.
// Деньги к этому моменту откатываются вместе с транзакцией.
type ProvisioningError struct {
	OrderID uint
	Err     error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning for order %d failed: %v", e.OrderID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
