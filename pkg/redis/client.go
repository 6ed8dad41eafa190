package redis

import (
	"github.com/redis/go-redis/v9"

	"mailsentry/pkg/config"
)

// NewClient builds a redis client from the configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
