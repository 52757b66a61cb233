package deliverylog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`

// RedisLog shares the delivery log between monitor replicas. Reservations
// are SET NX PX keys that expire with the cooldown.
type RedisLog struct {
	client *redis.Client
	prefix string
}

type RedisOptions struct {
	URL        string
	MaxRetries int
	PoolSize   int
	KeyPrefix  string
}

// NewRedisLog connects and pings Redis.
func NewRedisLog(ctx context.Context, opts RedisOptions) (*RedisLog, error) {
	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if opts.MaxRetries > 0 {
		opt.MaxRetries = opts.MaxRetries
	}
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisLogFromClient(client, opts.KeyPrefix), nil
}

func NewRedisLogFromClient(client *redis.Client, prefix string) *RedisLog {
	return &RedisLog{client: client, prefix: prefix}
}

func (l *RedisLog) Reserve(ctx context.Context, incidentID string, audience models.Audience, cooldown time.Duration) (string, bool, error) {
	token := newToken()
	ok, err := l.client.SetNX(ctx, l.prefix+key(incidentID, audience), token, cooldown).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to reserve delivery: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLog) Release(ctx context.Context, incidentID string, audience models.Audience, token string) error {
	err := l.client.Eval(ctx, releaseScript, []string{l.prefix + key(incidentID, audience)}, token).Err()
	if err != nil {
		return fmt.Errorf("failed to release delivery: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (l *RedisLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}
