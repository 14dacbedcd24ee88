package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"sitebot-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。addr 为空时不创建客户端，RDB 保持 nil。
func InitRedis(addr, password string, db int) {
	if addr == "" {
		log.Info("[Database] Redis 未配置，使用进程内缓存")
		return
	}
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
}
