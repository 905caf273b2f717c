package provision

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"melon-bot/internal/db"
)

// StreamSettings - транспортные настройки inbound'а x-ui. Разбираем
// только то, что попадает в ссылку подключения.
type StreamSettings struct {
	Network    string `json:"network"`
	Security   string `json:"security"`
	WSSettings *struct {
		Path    string `json:"path"`
		Headers struct {
			Host string `json:"host"`
		} `json:"headers"`
	} `json:"wsSettings"`
	TLSSettings *struct {
		ServerName string `json:"serverName"`
	} `json:"tlsSettings"`
}

func ParseStreamSettings(raw string) (StreamSettings, error) {
	var ss StreamSettings
	if raw == "" {
		return ss, nil
	}
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return ss, fmt.Errorf("bad streamSettings: %w", err)
	}
	return ss, nil
}

// BuildSingleLink собирает прямую vless-ссылку на клиента.
func BuildSingleLink(clientID, host string, port int, ss StreamSettings, name string) string {
	q := url.Values{}

	network := ss.Network
	if network == "" {
		network = "tcp"
	}
	q.Set("type", network)

	security := ss.Security
	if security == "" {
		security = "none"
	}
	q.Set("security", security)
	if security == "none" {
		q.Set("encryption", "none")
	}

	if ss.WSSettings != nil {
		if ss.WSSettings.Path != "" {
			q.Set("path", ss.WSSettings.Path)
		}
		if ss.WSSettings.Headers.Host != "" {
			q.Set("host", ss.WSSettings.Headers.Host)
		}
	}
	if ss.TLSSettings != nil && ss.TLSSettings.ServerName != "" {
		q.Set("sni", ss.TLSSettings.ServerName)
	}

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		clientID, host, port, q.Encode(), url.PathEscape(name))
}

// BuildSubscriptionLink собирает ссылку на подписку сервера. Если у
// сервера не настроен домен подписки, возвращается пустая строка и
// вызывающая сторона уходит на общий базовый адрес.
func BuildSubscriptionLink(srv *db.Server, subID string) string {
	if srv == nil || srv.SubDomain == "" {
		return ""
	}

	scheme := "http"
	if srv.SubHTTPS {
		scheme = "https"
	}

	hostPart := srv.SubDomain
	if srv.SubPort != 0 {
		hostPart = fmt.Sprintf("%s:%d", srv.SubDomain, srv.SubPort)
	}

	path := srv.SubPath
	if path == "" {
		path = "/sub/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	return fmt.Sprintf("%s://%s%s%s", scheme, hostPart, path, subID)
}

// FallbackSubscriptionLink - подписка через общий базовый адрес.
func FallbackSubscriptionLink(base, subID string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/sub/" + subID
}

// BuildTunnelLink собирает vless-ссылку через туннельный адрес
// сервера. Метка ссылки - флаг локации и имя аккаунта.
func BuildTunnelLink(clientID string, srv *db.Server, ss StreamSettings, flag, username string) string {
	q := url.Values{}

	network := ss.Network
	if network == "" {
		network = "tcp"
	}
	q.Set("type", network)

	if srv.TunnelTLS {
		q.Set("security", "tls")
		if ss.TLSSettings != nil && ss.TLSSettings.ServerName != "" {
			q.Set("sni", ss.TLSSettings.ServerName)
		}
	} else {
		q.Set("security", "none")
		q.Set("encryption", "none")
	}

	if ss.WSSettings != nil {
		if ss.WSSettings.Path != "" {
			q.Set("path", ss.WSSettings.Path)
		}
		if ss.WSSettings.Headers.Host != "" {
			q.Set("host", ss.WSSettings.Headers.Host)
		}
	}

	label := username
	if flag != "" {
		label = flag + "-" + username
	}

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		clientID, srv.TunnelAddress, srv.TunnelPort, q.Encode(), url.PathEscape(label))
}

// hostFromURL вытаскивает hostname из адреса панели: в ссылке
// подключения порт панели не нужен.
func hostFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return strings.TrimRight(raw, "/")
	}
	return u.Hostname()
}
