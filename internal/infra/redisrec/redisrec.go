// Package redisrec records uploaded files in Redis sets, one set per flag,
// so a later run can tell which uploads already went out.
package redisrec

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config selects the Redis server.
type Config struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	Timeout  time.Duration `toml:"-"`
}

// Recorder adds uploaded paths to the set named by the flag.
type Recorder struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Recorder, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &Recorder{client: client}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client) *Recorder {
	return &Recorder{client: client}
}

// RecordUpload adds path to the set flag.
func (r *Recorder) RecordUpload(ctx context.Context, flag, path string) error {
	if err := r.client.SAdd(ctx, flag, path).Err(); err != nil {
		return fmt.Errorf("record upload %s under %s: %w", path, flag, err)
	}
	return nil
}

// Uploaded reports whether path was recorded under flag.
func (r *Recorder) Uploaded(ctx context.Context, flag, path string) (bool, error) {
	return r.client.SIsMember(ctx, flag, path).Result()
}

// Uploads returns every path recorded under flag.
func (r *Recorder) Uploads(ctx context.Context, flag string) ([]string, error) {
	return r.client.SMembers(ctx, flag).Result()
}

// Ping checks the connection.
func (r *Recorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Recorder) Close() error {
	return r.client.Close()
}
