package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Set(ctx context.Context, token, userID string, ttl time.Duration) error {
	return c.cli.Set(ctx, keyPrefix+token, userID, ttl).Err()
}

// Get returns "" for unknown or expired tokens (redis.Nil is not an error).
func (c *Client) Get(ctx context.Context, token string) (string, error) {
	val, err := c.cli.Get(ctx, keyPrefix+token).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) Delete(ctx context.Context, token string) error {
	return c.cli.Del(ctx, keyPrefix+token).Err()
}
