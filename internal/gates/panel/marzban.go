package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// MarzbanClient - клиент панели Marzban: bearer-токен, пользователь
// панели соответствует одному аккаунту подписки.
type MarzbanClient struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client
	token    string
}

func NewMarzbanClient(creds Credentials) *MarzbanClient {
	return &MarzbanClient{
		baseURL:  strings.TrimRight(creds.BaseURL, "/"),
		username: creds.Username,
		password: creds.Password,
		httpc:    newHTTPClient(),
	}
}

func (c *MarzbanClient) ensureLogin(ctx context.Context) error {
	if c.token != "" {
		return nil
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admin/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("marzban login: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("marzban login: decode: %w", err)
	}
	if out.AccessToken == "" {
		return fmt.Errorf("marzban login: empty token (status %d)", resp.StatusCode)
	}

	c.token = out.AccessToken
	return nil
}

type marzbanUser struct {
	Username               string                 `json:"username"`
	Proxies                map[string]interface{} `json:"proxies,omitempty"`
	Expire                 int64                  `json:"expire"`
	DataLimit              int64                  `json:"data_limit"`
	DataLimitResetStrategy string                 `json:"data_limit_reset_strategy,omitempty"`
	Status                 string                 `json:"status,omitempty"`
}

// marzbanUserUpdate - тело PUT /api/user/{username}. Имя адресуется
// путём и в теле не передаётся.
type marzbanUserUpdate struct {
	Expire    int64  `json:"expire"`
	DataLimit int64  `json:"data_limit"`
	Status    string `json:"status,omitempty"`
}

type marzbanUserResponse struct {
	Username        string `json:"username"`
	SubscriptionURL string `json:"subscription_url"`
}

func (c *MarzbanClient) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	payload := marzbanUser{
		Username:               req.Username,
		Proxies:                map[string]interface{}{"vless": map[string]interface{}{}},
		Expire:                 req.ExpiresAt.Unix(),
		DataLimit:              req.QuotaBytes,
		DataLimitResetStrategy: "no_reset",
	}

	var out marzbanUserResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/user", payload, &out); err != nil {
		return nil, fmt.Errorf("marzban create user: %w", err)
	}
	if out.SubscriptionURL == "" {
		return nil, fmt.Errorf("marzban create user: response without subscription_url")
	}

	subURL := out.SubscriptionURL
	if strings.HasPrefix(subURL, "/") {
		subURL = c.baseURL + subURL
	}

	return &Account{
		Username:        req.Username,
		SubscriptionURL: subURL,
	}, nil
}

func (c *MarzbanClient) ExtendAccount(ctx context.Context, req ExtendAccountRequest) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}

	payload := marzbanUserUpdate{
		Expire:    req.ExpiresAt.Unix(),
		DataLimit: req.QuotaBytes,
		Status:    "active",
	}
	if err := c.doJSON(ctx, http.MethodPut, "/api/user/"+req.Username, payload, nil); err != nil {
		return fmt.Errorf("marzban update user: %w", err)
	}

	if err := c.doJSON(ctx, http.MethodPost, "/api/user/"+req.Username+"/reset", nil, nil); err != nil {
		return fmt.Errorf("marzban reset traffic: %w", err)
	}
	return nil
}

func (c *MarzbanClient) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	return doJSONWithToken(ctx, c.httpc, c.token, method, c.baseURL+path, payload, out)
}

// doJSONWithToken - общий JSON-обмен marzban-совместимых панелей.
func doJSONWithToken(ctx context.Context, httpc *http.Client, token, method, fullURL string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
