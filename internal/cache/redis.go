package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/Do1K/b2b-point-service/internal/config"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client
var redisKeys KeySpace

// InitRedis 初始化 Redis 客户端（发放链路强依赖 Redis，不提供关闭开关）
func InitRedis(cfg *config.RedisConfig) error {
	if cfg == nil {
		return fmt.Errorf("redis config is nil")
	}
	addr := strings.TrimSpace(cfg.Host)
	if addr == "" {
		addr = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	redisKeys = NewKeySpace(cfg.Prefix)

	options := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", addr, port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		options.PoolSize = cfg.PoolSize
	}
	redisClient = redis.NewClient(options)
	return nil
}

// Client 获取 Redis 客户端
func Client() *redis.Client {
	return redisClient
}

// Keys 获取全局键空间
func Keys() KeySpace {
	return redisKeys
}

// Ping 检查 Redis 连通性
func Ping(ctx context.Context) error {
	if redisClient == nil {
		return fmt.Errorf("redis not initialized")
	}
	return redisClient.Ping(ctx).Err()
}

// Close 关闭 Redis 客户端
func Close() error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Close()
}
