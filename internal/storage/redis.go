package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Connect creates and validates a Redis connection from a redis:// URL.
// Returns the client and nil on success, or nil and an error on failure.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return client, nil
}
