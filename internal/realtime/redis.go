package realtime

import (
	"log"
	"os"

	"github.com/redis/go-redis/v9"
)

// NewRedis creates the Redis client used for the push-notification channel.
func NewRedis() *redis.Client {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	log.Printf("Redis client created (addr: %s)", redisAddr)
	return rdb
}
