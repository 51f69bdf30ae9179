package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"msmeconnect/internal/config"

	"github.com/go-redis/redis/v8"
)

var RedisClient *redis.Client

// InitRedis 未启用时返回 nil，调用方需按无锁模式运行
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		log.Println("[Redis] 未启用，跳过初始化")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Redis] 连接失败: %v", err)
	}

	RedisClient = client
	log.Println("[Redis] 连接成功")
	return client
}
