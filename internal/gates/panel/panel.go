// Package panel содержит HTTP-клиенты панелей управления прокси.
// Все три панели сведены к одному интерфейсу: создать аккаунт,
// продлить аккаунт со сбросом трафика.
package panel

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Type представляет тип панели
type Type string

const (
	TypeXUI      Type = "xui"
	TypeMarzban  Type = "marzban"
	TypePasargad Type = "pasargad"
)

func (t Type) String() string {
	return string(t)
}

func (t Type) IsValid() bool {
	switch t {
	case TypeXUI, TypeMarzban, TypePasargad:
		return true
	}
	return false
}

// Credentials - адрес и учётка панели.
type Credentials struct {
	BaseURL  string
	Username string
	Password string
}

// CreateAccountRequest - заявка на аккаунт. InboundID и SubID
// осмысленны только для x-ui.
type CreateAccountRequest struct {
	Username   string
	ExpiresAt  time.Time
	QuotaBytes int64
	InboundID  int
	SubID      string
}

// ExtendAccountRequest - продление существующего аккаунта.
type ExtendAccountRequest struct {
	Username   string
	ClientID   string
	InboundID  int
	ExpiresAt  time.Time
	QuotaBytes int64
}

// Account - созданный на панели аккаунт. SubscriptionURL заполняют
// только marzban-совместимые панели, x-ui ссылку не возвращает.
type Account struct {
	Username        string
	ClientID        string
	SubID           string
	SubscriptionURL string
}

type Client interface {
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error)
	ExtendAccount(ctx context.Context, req ExtendAccountRequest) error
}

// NewClient создает клиент панели нужного типа.
func NewClient(t Type, creds Credentials) (Client, error) {
	switch t {
	case TypeXUI:
		return NewXUIClient(creds)
	case TypeMarzban:
		return NewMarzbanClient(creds), nil
	case TypePasargad:
		return NewPasargadClient(creds), nil
	}
	return nil, fmt.Errorf("unknown panel type %q", t)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
