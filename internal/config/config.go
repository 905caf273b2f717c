package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken     string
	SuperAdminID string
	AdminChatID  string

	DBDsn string

	RedisAddr     string
	RedisPassword string

	// Панель по умолчанию (режим одной панели). В мультисерверном
	// режиме реквизиты берутся из записи сервера.
	PanelType        string
	PanelURL         string
	PanelUsername    string
	PanelPassword    string
	PanelLinkType    string
	SubscriptionBase string

	// Реквизиты для оплаты переводом на карту
	CardNumber string
	CardHolder string

	MinDepositAmount    int
	ReferralWelcomeGift int

	MultiLocationEnabled bool
	HideFullLocations    bool

	TrialEnabled       bool
	TrialLimitPerUser  int
	TrialVolumeMB      int
	TrialDurationHours int
	TrialServerID      uint

	HealthAddr string
}

func Load() *Config {
	// .env опционален, в проде переменные приходят из окружения
	_ = godotenv.Load()

	return &Config{
		BotToken:     os.Getenv("BOT_TOKEN"),
		SuperAdminID: os.Getenv("SUPER_ADMIN_ID"),
		AdminChatID:  os.Getenv("ADMIN_CHAT_ID"),

		DBDsn: getEnvOrDefault("DB_DSN", "/data/melonvpn.db"),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		PanelType:        getEnvOrDefault("PANEL_TYPE", "xui"),
		PanelURL:         os.Getenv("PANEL_URL"),
		PanelUsername:    os.Getenv("PANEL_USERNAME"),
		PanelPassword:    os.Getenv("PANEL_PASSWORD"),
		PanelLinkType:    getEnvOrDefault("PANEL_LINK_TYPE", "subscription"),
		SubscriptionBase: os.Getenv("SUBSCRIPTION_BASE"),

		CardNumber: os.Getenv("CARD_NUMBER"),
		CardHolder: os.Getenv("CARD_HOLDER"),

		MinDepositAmount:    getEnvIntOrDefault("MIN_DEPOSIT_AMOUNT", 100),
		ReferralWelcomeGift: getEnvIntOrDefault("REFERRAL_WELCOME_GIFT", 0),

		MultiLocationEnabled: getEnvBool("MULTI_LOCATION_ENABLED"),
		HideFullLocations:    getEnvBool("HIDE_FULL_LOCATIONS"),

		TrialEnabled:       getEnvBool("TRIAL_ENABLED"),
		TrialLimitPerUser:  getEnvIntOrDefault("TRIAL_LIMIT_PER_USER", 1),
		TrialVolumeMB:      getEnvIntOrDefault("TRIAL_VOLUME_MB", 200),
		TrialDurationHours: getEnvIntOrDefault("TRIAL_DURATION_HOURS", 24),
		TrialServerID:      uint(getEnvIntOrDefault("TRIAL_SERVER_ID", 0)),

		HealthAddr: getEnvOrDefault("HEALTH_ADDR", "0.0.0.0:8080"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true"
}
