// Package provision превращает оплаченный заказ в работающий аккаунт
// на панели и собирает ссылку подключения.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"melon-bot/internal/config"
	"melon-bot/internal/db"
	"melon-bot/internal/gates/panel"
	"melon-bot/internal/logger"
)

type Service struct {
	repo *db.Repository
	cfg  *config.Config
}

func New(repo *db.Repository, cfg *config.Config) *Service {
	return &Service{repo: repo, cfg: cfg}
}

// Provision создаёт аккаунт для заказа и заполняет ConfigLink,
// PanelClientID и PanelSubID. Заказ с привязанным сервером всегда
// обслуживается x-ui этого сервера, без сервера работает панель из
// конфигурации. Запись заказа в базу остаётся за вызывающим.
func (s *Service) Provision(ctx context.Context, order *db.Order, quotaBytes int64) error {
	if order.ExpiresAt == nil {
		return errors.New("order has no expiry")
	}

	if order.ServerID != nil {
		return s.provisionOnServer(ctx, order, quotaBytes)
	}
	return s.provisionOnDefaultPanel(ctx, order, quotaBytes)
}

// provisionOnServer - мультисерверный режим: x-ui конкретного сервера,
// inbound читается с панели напрямую. Счётчик мест растёт до похода на
// панель и откатывается при любой ошибке, включая сборку ссылки после
// создания аккаунта, так что успешный провижининг оставляет ровно одно
// занятое место, а неуспешный - ни одного.
func (s *Service) provisionOnServer(ctx context.Context, order *db.Order, quotaBytes int64) error {
	server, err := s.loadServer(*order.ServerID)
	if err != nil {
		return err
	}

	client, err := panel.NewXUIClient(panel.Credentials{
		BaseURL:  server.Host,
		Username: server.Username,
		Password: server.Password,
	})
	if err != nil {
		return err
	}

	inbound, err := s.liveInbound(ctx, client, server)
	if err != nil {
		return err
	}

	subID := ""
	if server.LinkType == "subscription" {
		subID = newSubID()
	}

	if err := s.bumpServerUsers(server.ID, +1); err != nil {
		return err
	}
	done := false
	defer func() {
		if done {
			return
		}
		if derr := s.bumpServerUsers(server.ID, -1); derr != nil {
			logger.Error("failed to roll back server counter",
				zap.Uint("server_id", server.ID), zap.Error(derr))
		}
	}()

	acc, err := client.CreateAccount(ctx, panel.CreateAccountRequest{
		Username:   order.PanelUsername,
		ExpiresAt:  *order.ExpiresAt,
		QuotaBytes: quotaBytes,
		InboundID:  server.InboundID,
		SubID:      subID,
	})
	if err != nil {
		return err
	}

	ss, err := ParseStreamSettings(inbound.StreamSettings)
	if err != nil {
		return err
	}

	link, err := s.serverLink(server, inbound, acc, ss, order)
	if err != nil {
		return err
	}

	order.PanelClientID = acc.ClientID
	order.PanelSubID = acc.SubID
	order.ConfigLink = link
	done = true
	return nil
}

func (s *Service) serverLink(server *db.Server, inbound *panel.XUIInbound, acc *panel.Account, ss StreamSettings, order *db.Order) (string, error) {
	switch server.LinkType {
	case "subscription":
		link := BuildSubscriptionLink(server, acc.SubID)
		if link == "" {
			link = FallbackSubscriptionLink(s.cfg.SubscriptionBase, acc.SubID)
		}
		if link == "" {
			return "", fmt.Errorf("server %d has no subscription endpoint", server.ID)
		}
		return link, nil
	case "tunnel":
		if server.TunnelAddress == "" || server.TunnelPort == 0 {
			return "", fmt.Errorf("server %d has no tunnel endpoint", server.ID)
		}
		return BuildTunnelLink(acc.ClientID, server, ss, server.Location.Flag, order.PanelUsername), nil
	default:
		return BuildSingleLink(acc.ClientID, hostFromURL(server.Host), inbound.Port, ss, linkName(order)), nil
	}
}

// provisionOnDefaultPanel - режим одной панели из конфигурации.
func (s *Service) provisionOnDefaultPanel(ctx context.Context, order *db.Order, quotaBytes int64) error {
	panelType := panel.Type(s.cfg.PanelType)
	if !panelType.IsValid() {
		return fmt.Errorf("bad panel type %q in configuration", s.cfg.PanelType)
	}

	creds := panel.Credentials{
		BaseURL:  s.cfg.PanelURL,
		Username: s.cfg.PanelUsername,
		Password: s.cfg.PanelPassword,
	}

	if panelType == panel.TypeXUI {
		return s.provisionOnDefaultXUI(ctx, creds, order, quotaBytes)
	}

	client, err := panel.NewClient(panelType, creds)
	if err != nil {
		return err
	}

	acc, err := client.CreateAccount(ctx, panel.CreateAccountRequest{
		Username:   order.PanelUsername,
		ExpiresAt:  *order.ExpiresAt,
		QuotaBytes: quotaBytes,
	})
	if err != nil {
		return err
	}

	order.ConfigLink = acc.SubscriptionURL
	return nil
}

func (s *Service) provisionOnDefaultXUI(ctx context.Context, creds panel.Credentials, order *db.Order, quotaBytes int64) error {
	client, err := panel.NewXUIClient(creds)
	if err != nil {
		return err
	}

	mirror, err := s.repo.DefaultInbound()
	if err != nil {
		return fmt.Errorf("no mirrored inbound configured: %w", err)
	}
	if mirror.InboundID <= 0 {
		return fmt.Errorf("mirrored inbound id %d is not positive", mirror.InboundID)
	}

	subID := ""
	if s.cfg.PanelLinkType == "subscription" {
		subID = newSubID()
	}

	acc, err := client.CreateAccount(ctx, panel.CreateAccountRequest{
		Username:   order.PanelUsername,
		ExpiresAt:  *order.ExpiresAt,
		QuotaBytes: quotaBytes,
		InboundID:  mirror.InboundID,
		SubID:      subID,
	})
	if err != nil {
		return err
	}

	if s.cfg.PanelLinkType == "subscription" {
		link := FallbackSubscriptionLink(s.cfg.SubscriptionBase, acc.SubID)
		if link == "" {
			return errors.New("subscription link mode requires SUBSCRIPTION_BASE")
		}
		order.ConfigLink = link
	} else {
		ss, err := ParseStreamSettings(mirror.StreamSettings)
		if err != nil {
			return err
		}
		order.ConfigLink = BuildSingleLink(acc.ClientID, hostFromURL(s.cfg.PanelURL), mirror.Port, ss, linkName(order))
	}

	order.PanelClientID = acc.ClientID
	order.PanelSubID = acc.SubID
	return nil
}

// Renew продлевает аккаунт заказа: обновление срока и квоты плюс
// сброс трафика. Ссылка подключения не меняется.
func (s *Service) Renew(ctx context.Context, order *db.Order, newExpiry time.Time, quotaBytes int64) error {
	if order.ServerID != nil {
		server, err := s.loadServer(*order.ServerID)
		if err != nil {
			return err
		}
		client, err := panel.NewXUIClient(panel.Credentials{
			BaseURL:  server.Host,
			Username: server.Username,
			Password: server.Password,
		})
		if err != nil {
			return err
		}
		return client.ExtendAccount(ctx, panel.ExtendAccountRequest{
			Username:   order.PanelUsername,
			ClientID:   order.PanelClientID,
			InboundID:  server.InboundID,
			ExpiresAt:  newExpiry,
			QuotaBytes: quotaBytes,
		})
	}

	panelType := panel.Type(s.cfg.PanelType)
	if !panelType.IsValid() {
		return fmt.Errorf("bad panel type %q in configuration", s.cfg.PanelType)
	}

	creds := panel.Credentials{
		BaseURL:  s.cfg.PanelURL,
		Username: s.cfg.PanelUsername,
		Password: s.cfg.PanelPassword,
	}

	if panelType == panel.TypeXUI {
		client, err := panel.NewXUIClient(creds)
		if err != nil {
			return err
		}
		mirror, err := s.repo.DefaultInbound()
		if err != nil {
			return err
		}
		return client.ExtendAccount(ctx, panel.ExtendAccountRequest{
			Username:   order.PanelUsername,
			ClientID:   order.PanelClientID,
			InboundID:  mirror.InboundID,
			ExpiresAt:  newExpiry,
			QuotaBytes: quotaBytes,
		})
	}

	client, err := panel.NewClient(panelType, creds)
	if err != nil {
		return err
	}
	return client.ExtendAccount(ctx, panel.ExtendAccountRequest{
		Username:   order.PanelUsername,
		ExpiresAt:  newExpiry,
		QuotaBytes: quotaBytes,
	})
}

func (s *Service) loadServer(id uint) (*db.Server, error) {
	var server db.Server
	if err := s.repo.DB().Preload("Location").First(&server, id).Error; err != nil {
		return nil, fmt.Errorf("server %d: %w", id, err)
	}
	return &server, nil
}

// liveInbound ищет на панели inbound, настроенный для сервера.
func (s *Service) liveInbound(ctx context.Context, client *panel.XUIClient, server *db.Server) (*panel.XUIInbound, error) {
	inbounds, err := client.Inbounds(ctx)
	if err != nil {
		return nil, err
	}
	for i := range inbounds {
		if inbounds[i].ID == server.InboundID {
			return &inbounds[i], nil
		}
	}
	return nil, fmt.Errorf("inbound %d not found on server %d", server.InboundID, server.ID)
}

// bumpServerUsers меняет счётчик занятых мест. Нарочно вне платёжной
// транзакции: счётчик рекомендательный и не должен держать блокировки.
func (s *Service) bumpServerUsers(serverID uint, delta int) error {
	return s.repo.DB().Model(&db.Server{}).Where("id = ?", serverID).
		Update("current_users", gorm.Expr("current_users + ?", delta)).Error
}

func linkName(order *db.Order) string {
	if order.Source == db.OrderSourceTrial {
		return "Trial"
	}
	if order.Plan != nil {
		return order.Plan.Name
	}
	return order.PanelUsername
}

func newSubID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
