package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// PasargadClient - клиент панели PasarGuard. API marzban-совместимый,
// но при создании пользователя обязательны group_ids, а токен может
// прийти как в access_token, так и в data.token.
type PasargadClient struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client
	token    string
}

func NewPasargadClient(creds Credentials) *PasargadClient {
	return &PasargadClient{
		baseURL:  strings.TrimRight(creds.BaseURL, "/"),
		username: creds.Username,
		password: creds.Password,
		httpc:    newHTTPClient(),
	}
}

func (c *PasargadClient) ensureLogin(ctx context.Context) error {
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
		return fmt.Errorf("pasargad login: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"access_token"`
		Data        struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("pasargad login: decode: %w", err)
	}

	token := out.AccessToken
	if token == "" {
		token = out.Data.Token
	}
	if token == "" {
		return fmt.Errorf("pasargad login: empty token (status %d)", resp.StatusCode)
	}

	c.token = token
	return nil
}

// groupIDs собирает все группы панели: без них создание пользователя
// отклоняется. Ответ приходит либо в groups, либо в data.
func (c *PasargadClient) groupIDs(ctx context.Context) ([]int, error) {
	var out struct {
		Groups []struct {
			ID int `json:"id"`
		} `json:"groups"`
		Data []struct {
			ID int `json:"id"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/groups", nil, &out); err != nil {
		return nil, fmt.Errorf("pasargad groups: %w", err)
	}

	var ids []int
	for _, g := range out.Groups {
		ids = append(ids, g.ID)
	}
	for _, g := range out.Data {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (c *PasargadClient) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	groups, err := c.groupIDs(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"username":                  req.Username,
		"proxies":                   map[string]interface{}{"vless": map[string]interface{}{}},
		"group_ids":                 groups,
		"expire":                    req.ExpiresAt.Unix(),
		"data_limit":                req.QuotaBytes,
		"data_limit_reset_strategy": "no_reset",
	}

	var out marzbanUserResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/user", payload, &out); err != nil {
		return nil, fmt.Errorf("pasargad create user: %w", err)
	}

	subURL := out.SubscriptionURL
	if subURL == "" {
		subURL = c.baseURL + "/sub/" + req.Username
	} else if strings.HasPrefix(subURL, "/") {
		subURL = c.baseURL + subURL
	}

	return &Account{
		Username:        req.Username,
		SubscriptionURL: subURL,
	}, nil
}

func (c *PasargadClient) ExtendAccount(ctx context.Context, req ExtendAccountRequest) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"expire":     req.ExpiresAt.Unix(),
		"data_limit": req.QuotaBytes,
		"status":     "active",
	}
	if err := c.doJSON(ctx, http.MethodPut, "/api/user/"+req.Username, payload, nil); err != nil {
		return fmt.Errorf("pasargad update user: %w", err)
	}

	if err := c.doJSON(ctx, http.MethodPost, "/api/user/"+req.Username+"/reset", nil, nil); err != nil {
		return fmt.Errorf("pasargad reset traffic: %w", err)
	}
	return nil
}

func (c *PasargadClient) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	return doJSONWithToken(ctx, c.httpc, c.token, method, c.baseURL+path, payload, out)
}
