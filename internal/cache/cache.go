// Package cache - короткоживущие значения в redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Пробная ссылка живёт недолго: кнопка повтора работает, пока
// пользователь не ушёл из диалога.
const trialLinkTTL = 10 * time.Minute

type Cache struct {
	redis *redis.Client
}

func New(addr, password string) *Cache {
	return &Cache{
		redis: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// StoreTrialLink сохраняет ссылку пробного аккаунта пользователя.
func (c *Cache) StoreTrialLink(ctx context.Context, tgID int64, link string) error {
	return c.redis.Set(ctx, trialLinkKey(tgID), link, trialLinkTTL).Err()
}

// TrialLink возвращает сохранённую ссылку. Протухшая или
// отсутствующая запись - это пустая строка, не ошибка.
func (c *Cache) TrialLink(ctx context.Context, tgID int64) (string, error) {
	link, err := c.redis.Get(ctx, trialLinkKey(tgID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return link, nil
}

func trialLinkKey(tgID int64) string {
	return fmt.Sprintf("trial_link:%d", tgID)
}
