package logger

import (
	"go.uber.org/zap"
)

var log, _ = zap.NewProduction()

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
}

func Sync() {
	log.Sync()
}

// Critical логирует ошибку и дублирует её админу в Telegram.
// Используется для расхождений, которые нельзя починить ретраем
// (например деньги списаны, а панель не ответила).
func Critical(msg string, fields ...zap.Field) {
	log.Error(msg, append(fields, zap.Bool("critical", true))...)
	NotifyAdmin(msg)
}
