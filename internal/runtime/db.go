package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/rmri/config"
	"github.com/redis/go-redis/v9"
)

// BuildPostgresDSN constructs a DSN from the storage configuration.
func BuildPostgresDSN(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("config is nil")
	}
	p := cfg.Storage.Postgres
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// NewRedisClient connects to the configured Redis and pings it.
func NewRedisClient(ctx context.Context, r config.RedisConfig) (*redis.Client, error) {
	if !r.Enabled() {
		return nil, fmt.Errorf("redis not configured (storage.redis.host)")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", r.Host, r.Port),
		Password:     r.Password,
		DB:           r.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed (%s:%s): %w", r.Host, r.Port, err)
	}
	return client, nil
}
