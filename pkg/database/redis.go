package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"tbkb-submission-go/internal/config"
	"tbkb-submission-go/pkg/log"
)

// RDB 是包锁守卫和 Kafka 重试计数共用的 Redis 客户端。
var RDB *redis.Client

// OpenRedis 创建 Redis 客户端并确认连接可用。
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// InitRedis 初始化全局 Redis 客户端，失败时直接退出。
func InitRedis(cfg config.RedisConfig) {
	client, err := OpenRedis(context.Background(), cfg)
	if err != nil {
		log.Fatal("failed to connect to redis", err)
	}
	RDB = client
	log.Info("Redis client connected successfully")
}
