// Package lock выдаёт эксклюзивные блокировки фоновым задачам, чтобы при нескольких
// экземплярах сервиса обход подписок выполнял только один из них.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "marketplace:lock:"

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Connect создаёт клиента Redis по URL (redis://...) или адресу host:port.
func Connect(ctx context.Context, address string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(address, "redis://") || strings.HasPrefix(address, "rediss://") {
		opt, err := redis.ParseURL(address)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: address})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisLocker реализует блокировку через SET NX PX.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker создаёт блокировку поверх клиента Redis.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock пытается захватить ключ на ttl. ok=false означает, что ключ занят.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}

	full := keyPrefix + key
	acquired, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{full}, token).Err()
	}
	return release, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// LocalLocker хранит блокировки в памяти процесса. Используется без Redis.
type LocalLocker struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewLocalLocker создаёт блокировку в памяти.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// TryLock захватывает ключ, если он свободен или срок предыдущей блокировки истёк.
func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.until[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.until[key] = exp

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.until[key]; ok && cur.Equal(exp) {
			delete(l.until, key)
		}
	}
	return release, true, nil
}
