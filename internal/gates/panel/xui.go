package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// XUIClient - клиент панели 3x-ui. Авторизация через сессионную
// cookie, клиенты живут внутри настроек inbound'а.
type XUIClient struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client
	loggedIn bool
}

type xuiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// XUIInbound - inbound панели в том виде, в каком его возвращает API.
// StreamSettings остаётся сырым JSON: его разбирает сборщик ссылок.
type XUIInbound struct {
	ID             int    `json:"id"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	StreamSettings string `json:"streamSettings"`
	Settings       string `json:"settings"`
}

func NewXUIClient(creds Credentials) (*XUIClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpc := newHTTPClient()
	httpc.Jar = jar

	return &XUIClient{
		baseURL:  strings.TrimRight(creds.BaseURL, "/"),
		username: creds.Username,
		password: creds.Password,
		httpc:    httpc,
	}, nil
}

func (c *XUIClient) ensureLogin(ctx context.Context) error {
	if c.loggedIn {
		return nil
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("xui login: %w", err)
	}
	defer resp.Body.Close()

	var out xuiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("xui login: decode response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("xui login rejected: %s", out.Msg)
	}

	c.loggedIn = true
	return nil
}

// xuiClientSettings - клиент внутри настроек inbound'а.
type xuiClientSettings struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Enable     bool   `json:"enable"`
	TotalBytes int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	SubID      string `json:"subId,omitempty"`
	Flow       string `json:"flow,omitempty"`
}

// CreateAccount добавляет клиента в inbound. Идентификатором клиента
// служит свежий UUID, срок уходит на панель в миллисекундах.
func (c *XUIClient) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}
	if req.InboundID <= 0 {
		return nil, fmt.Errorf("xui: inbound id %d is not positive", req.InboundID)
	}

	clientID := uuid.NewString()
	settings, err := json.Marshal(map[string]interface{}{
		"clients": []xuiClientSettings{{
			ID:         clientID,
			Email:      req.Username,
			Enable:     true,
			TotalBytes: req.QuotaBytes,
			ExpiryTime: req.ExpiresAt.UnixMilli(),
			SubID:      req.SubID,
		}},
	})
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("id", fmt.Sprintf("%d", req.InboundID))
	form.Set("settings", string(settings))

	if err := c.postForm(ctx, "/panel/api/inbounds/addClient", form); err != nil {
		return nil, fmt.Errorf("xui addClient: %w", err)
	}

	return &Account{
		Username: req.Username,
		ClientID: clientID,
		SubID:    req.SubID,
	}, nil
}

// ExtendAccount обновляет срок и квоту клиента и сбрасывает трафик.
func (c *XUIClient) ExtendAccount(ctx context.Context, req ExtendAccountRequest) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}

	settings, err := json.Marshal(map[string]interface{}{
		"clients": []xuiClientSettings{{
			ID:         req.ClientID,
			Email:      req.Username,
			Enable:     true,
			TotalBytes: req.QuotaBytes,
			ExpiryTime: req.ExpiresAt.UnixMilli(),
		}},
	})
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("id", fmt.Sprintf("%d", req.InboundID))
	form.Set("settings", string(settings))

	if err := c.postForm(ctx, "/panel/api/inbounds/updateClient/"+req.ClientID, form); err != nil {
		return fmt.Errorf("xui updateClient: %w", err)
	}

	path := fmt.Sprintf("/panel/api/inbounds/%d/resetClientTraffic/%s", req.InboundID, req.Username)
	if err := c.postForm(ctx, path, url.Values{}); err != nil {
		return fmt.Errorf("xui resetClientTraffic: %w", err)
	}
	return nil
}

// Inbounds возвращает список inbound'ов панели. Нужен мультисерверному
// режиму, где локального зеркала inbound'а нет.
func (c *XUIClient) Inbounds(ctx context.Context) ([]XUIInbound, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xui inbounds list: %w", err)
	}
	defer resp.Body.Close()

	var out xuiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("xui inbounds list: decode: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("xui inbounds list rejected: %s", out.Msg)
	}

	var inbounds []XUIInbound
	if err := json.Unmarshal(out.Obj, &inbounds); err != nil {
		return nil, fmt.Errorf("xui inbounds list: decode obj: %w", err)
	}
	return inbounds, nil
}

func (c *XUIClient) postForm(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var out xuiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("bad response %q: %w", string(body), err)
	}
	if !out.Success {
		return fmt.Errorf("panel rejected request: %s", out.Msg)
	}
	return nil
}
