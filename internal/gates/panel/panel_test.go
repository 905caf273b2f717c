package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestXUIClientCreateAccount(t *testing.T) {
	var gotSettings string
	var loginCalls, addCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			loginCalls++
			if r.FormValue("username") != "admin" || r.FormValue("password") != "secret" {
				json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "msg": "bad credentials"})
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		case "/panel/api/inbounds/addClient":
			addCalls++
			if _, err := r.Cookie("session"); err != nil {
				t.Error("addClient called without session cookie")
			}
			if r.FormValue("id") != "3" {
				t.Errorf("inbound id = %s, want 3", r.FormValue("id"))
			}
			gotSettings = r.FormValue("settings")
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := NewXUIClient(Credentials{BaseURL: srv.URL, Username: "admin", Password: "secret"})
	if err != nil {
		t.Fatalf("NewXUIClient: %v", err)
	}

	expiry := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	acc, err := client.CreateAccount(context.Background(), CreateAccountRequest{
		Username:   "alice1",
		ExpiresAt:  expiry,
		QuotaBytes: 50 << 30,
		InboundID:  3,
		SubID:      "sub-xyz",
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if acc.ClientID == "" {
		t.Error("client id must be generated")
	}
	if acc.SubID != "sub-xyz" {
		t.Errorf("sub id = %s, want sub-xyz", acc.SubID)
	}
	if loginCalls != 1 || addCalls != 1 {
		t.Errorf("calls: login=%d add=%d, want 1/1", loginCalls, addCalls)
	}

	var settings struct {
		Clients []xuiClientSettings `json:"clients"`
	}
	if err := json.Unmarshal([]byte(gotSettings), &settings); err != nil {
		t.Fatalf("settings payload is not json: %v", err)
	}
	if len(settings.Clients) != 1 {
		t.Fatalf("clients in payload = %d, want 1", len(settings.Clients))
	}
	c := settings.Clients[0]
	if c.Email != "alice1" || !c.Enable {
		t.Errorf("client payload = %+v", c)
	}
	if c.ExpiryTime != expiry.UnixMilli() {
		t.Errorf("expiryTime = %d, want ms %d", c.ExpiryTime, expiry.UnixMilli())
	}
	if c.TotalBytes != 50<<30 {
		t.Errorf("totalGB = %d, want %d", c.TotalBytes, int64(50<<30))
	}
}

func TestXUIClientCreateAccountRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "msg": "duplicate email"})
	}))
	defer srv.Close()

	client, _ := NewXUIClient(Credentials{BaseURL: srv.URL, Username: "a", Password: "b"})
	_, err := client.CreateAccount(context.Background(), CreateAccountRequest{
		Username: "dup", ExpiresAt: time.Now(), InboundID: 1,
	})
	if err == nil {
		t.Fatal("expected error when panel rejects the client")
	}
}

func TestXUIClientRejectsBadInboundID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	}))
	defer srv.Close()

	client, _ := NewXUIClient(Credentials{BaseURL: srv.URL, Username: "a", Password: "b"})
	_, err := client.CreateAccount(context.Background(), CreateAccountRequest{
		Username: "alice1", ExpiresAt: time.Now(), InboundID: 0,
	})
	if err == nil {
		t.Fatal("expected error for non-positive inbound id")
	}
}

func TestXUIClientExtendAccount(t *testing.T) {
	var updateCalls, resetCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/login":
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		case r.URL.Path == "/panel/api/inbounds/updateClient/uuid-7":
			updateCalls++
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		case r.URL.Path == "/panel/api/inbounds/2/resetClientTraffic/bob22":
			resetCalls++
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, _ := NewXUIClient(Credentials{BaseURL: srv.URL, Username: "a", Password: "b"})
	err := client.ExtendAccount(context.Background(), ExtendAccountRequest{
		Username:   "bob22",
		ClientID:   "uuid-7",
		InboundID:  2,
		ExpiresAt:  time.Now().AddDate(0, 0, 30),
		QuotaBytes: 10 << 30,
	})
	if err != nil {
		t.Fatalf("ExtendAccount: %v", err)
	}
	if updateCalls != 1 || resetCalls != 1 {
		t.Errorf("calls: update=%d reset=%d, want 1/1", updateCalls, resetCalls)
	}
}

func TestXUIClientInbounds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		case "/panel/api/inbounds/list":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"obj": []map[string]interface{}{
					{"id": 5, "port": 443, "protocol": "vless", "streamSettings": `{"network":"ws"}`},
				},
			})
		}
	}))
	defer srv.Close()

	client, _ := NewXUIClient(Credentials{BaseURL: srv.URL, Username: "a", Password: "b"})
	inbounds, err := client.Inbounds(context.Background())
	if err != nil {
		t.Fatalf("Inbounds: %v", err)
	}
	if len(inbounds) != 1 || inbounds[0].ID != 5 || inbounds[0].Protocol != "vless" {
		t.Errorf("inbounds = %+v", inbounds)
	}
}

func TestMarzbanClientCreateAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admin/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok123"})
		case "/api/user":
			if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
				t.Errorf("authorization = %q", got)
			}
			var payload marzbanUser
			json.NewDecoder(r.Body).Decode(&payload)
			if payload.Username != "carol3" {
				t.Errorf("username = %s", payload.Username)
			}
			if payload.DataLimit != 20<<30 {
				t.Errorf("data_limit = %d", payload.DataLimit)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"username":         "carol3",
				"subscription_url": "/sub/carol3-token",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewMarzbanClient(Credentials{BaseURL: srv.URL, Username: "a", Password: "b"})
	acc, err := client.CreateAccount(context.Background(), CreateAccountRequest{
		Username:   "carol3",
		ExpiresAt:  time.Now().AddDate(0, 0, 30),
		QuotaBytes: 20 << 30,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	// Относительный subscription_url разворачивается от адреса панели
	want := srv.URL + "/sub/carol3-token"
	if acc.SubscriptionURL != want {
		t.Errorf("subscription url = %s, want %s", acc.SubscriptionURL, want)
	}
}

func TestMarzbanClientExtendAccount(t *testing.T) {
	var gotMethod string
	var gotBody map[string]interface{}
	var resetCalled bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admin/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/api/user/dave44":
			gotMethod = r.Method
			json.NewDecoder(r.Body).Decode(&gotBody)
			json.NewEncoder(w).Encode(map[string]string{"username": "dave44"})
		case "/api/user/dave44/reset":
			resetCalled = true
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := NewMarzbanClient(Credentials{BaseURL: srv.URL, Username: "a", Password: "b"})
	err := client.ExtendAccount(context.Background(), ExtendAccountRequest{
		Username:   "dave44",
		ExpiresAt:  time.Now().AddDate(0, 0, 30),
		QuotaBytes: 30 << 30,
	})
	if err != nil {
		t.Fatalf("ExtendAccount: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("update method = %s, want PUT", gotMethod)
	}
	// Имя адресуется путём, в теле обновления его быть не должно
	if _, ok := gotBody["username"]; ok {
		t.Errorf("update body carries username: %v", gotBody)
	}
	if gotBody["status"] != "active" {
		t.Errorf("update status = %v, want active", gotBody["status"])
	}
	if !resetCalled {
		t.Error("traffic reset was not called")
	}
}

func TestPasargadClientCreateAccount(t *testing.T) {
	var gotGroups []int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admin/token":
			// Токен в нестандартном месте ответа
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"token": "ptok"},
			})
		case "/api/groups":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"groups": []map[string]int{{"id": 1}, {"id": 4}},
			})
		case "/api/user":
			var payload struct {
				GroupIDs []int `json:"group_ids"`
			}
			json.NewDecoder(r.Body).Decode(&payload)
			gotGroups = payload.GroupIDs
			// Без subscription_url: клиент должен собрать ссылку сам
			json.NewEncoder(w).Encode(map[string]string{"username": "erin55"})
		}
	}))
	defer srv.Close()

	client := NewPasargadClient(Credentials{BaseURL: srv.URL, Username: "a", Password: "b"})
	acc, err := client.CreateAccount(context.Background(), CreateAccountRequest{
		Username:   "erin55",
		ExpiresAt:  time.Now().AddDate(0, 0, 30),
		QuotaBytes: 10 << 30,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if len(gotGroups) != 2 {
		t.Errorf("group_ids = %v, want both groups", gotGroups)
	}
	want := srv.URL + "/sub/erin55"
	if acc.SubscriptionURL != want {
		t.Errorf("subscription url = %s, want fallback %s", acc.SubscriptionURL, want)
	}
}

func TestNewClientUnknownType(t *testing.T) {
	if _, err := NewClient(Type("wireguard"), Credentials{}); err == nil {
		t.Fatal("expected error for unknown panel type")
	}
}
