package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"melon-bot/internal/billing"
	"melon-bot/internal/cache"
	"melon-bot/internal/config"
	"melon-bot/internal/db"
	"melon-bot/internal/health"
	"melon-bot/internal/logger"
	"melon-bot/internal/provision"
	"melon-bot/internal/scheduler"
	"melon-bot/internal/telegram"
)

func main() {
	defer logger.Sync()

	logger.Info("запуск bot-service", zap.Int("pid", os.Getpid()))

	// Загружаем конфигурацию
	cfg := config.Load()
	logger.Info("конфигурация загружена",
		zap.String("db_dsn", cfg.DBDsn),
		zap.String("panel_type", cfg.PanelType),
		zap.String("health_addr", cfg.HealthAddr),
		zap.Bool("multi_location", cfg.MultiLocationEnabled),
		zap.Bool("has_super_admin", cfg.SuperAdminID != ""),
		zap.Bool("has_bot_token", cfg.BotToken != ""),
	)

	if cfg.BotToken == "" {
		logger.Error("токен бота не задан")
		os.Exit(1)
	}

	// Инициализируем репозиторий
	repo, err := db.NewRepository(cfg.DBDsn)
	if err != nil {
		logger.Error("не удалось открыть базу", zap.Error(err), zap.String("dsn", cfg.DBDsn))
		os.Exit(1)
	}

	// Выполняем миграции
	if err := repo.AutoMigrate(); err != nil {
		logger.Error("миграция базы не прошла", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("миграции применены")

	// Кеш коротких значений
	cacheService := cache.New(cfg.RedisAddr, cfg.RedisPassword)

	// Провижининг на панелях и биллинг поверх него
	provisionService := provision.New(repo, cfg)
	billingService := billing.New(repo, provisionService, cfg)

	// Telegram сервис
	telegramService, err := telegram.New(cfg, repo, billingService, cacheService)
	if err != nil {
		logger.Error("не удалось создать telegram-сервис", zap.Error(err))
		os.Exit(1)
	}

	// Критичные алерты уходят супер-админу в телеграм
	if superAdminID, err := strconv.ParseInt(cfg.SuperAdminID, 10, 64); err == nil {
		logger.InitNotifier(telegramService.Bot(), superAdminID)
	}

	// Планировщик фоновых задач
	cronScheduler := scheduler.NewScheduler(repo, telegramService.Bot(), cfg)

	// Health сервер
	healthServer := health.NewServer(cfg.HealthAddr)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("health сервер упал", zap.Error(err))
		}
	}()
	defer func() {
		if err := healthServer.Stop(); err != nil {
			logger.Error("не удалось остановить health сервер", zap.Error(err))
		}
	}()

	if err := cronScheduler.Start(); err != nil {
		logger.Error("не удалось запустить планировщик", zap.Error(err))
		logger.Warn("продолжаем без планировщика")
	} else {
		defer cronScheduler.Stop()
	}

	// Запускаем Telegram бота
	logger.Info("запуск telegram-бота")
	if err := telegramService.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("бот остановлен по сигналу")
		} else {
			logger.Error("бот завершился с ошибкой", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("bot-service остановлен")
}
