package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 5 * time.Second

// Options selects the Redis instance shared by the job lock and asynq.
type Options struct {
	Addr        string
	Password    string
	DB          int
	PingTimeout time.Duration
}

// ClientOptions maps Options onto go-redis options.
func (o Options) ClientOptions() *redis.Options {
	return &redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	}
}

// New creates a Redis client and fails fast when the server is unreachable.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(opts.ClientOptions())

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}

	return client, nil
}
