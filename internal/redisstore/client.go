package redisstore

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

// DefaultURL — адрес Redis по умолчанию для локальной разработки.
const DefaultURL = "redis://localhost:6379/0"

// NewClient создаёт клиент и проверяет соединение.
// Пустой url — берётся REDIS_URL, затем DefaultURL.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		url = os.Getenv("REDIS_URL")
	}
	if url == "" {
		url = DefaultURL
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
