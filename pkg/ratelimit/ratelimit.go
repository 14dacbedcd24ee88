// Package ratelimit 提供按客户端 IP 的固定窗口限流。
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"

	"sitebot-go/pkg/log"
)

// Limiter 判断 key 在当前窗口内是否还允许请求。
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type redisLimiter struct {
	rdb *redis.Client
}

// NewRedisLimiter 基于 INCR + EXPIRE 实现，多实例共享计数。
func NewRedisLimiter(rdb *redis.Client) Limiter {
	return &redisLimiter{rdb: rdb}
}

func (l *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().UnixNano()/int64(window))
	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		_ = l.rdb.Expire(ctx, redisKey, window).Err()
	}
	return count <= int64(limit), nil
}

type memoryLimiter struct {
	mu      sync.Mutex
	windows *cache.Cache
	now     func() time.Time
}

// NewMemoryLimiter 创建进程内限流器，未配置 Redis 时使用。
func NewMemoryLimiter() Limiter {
	return &memoryLimiter{windows: cache.New(time.Minute, 5*time.Minute), now: time.Now}
}

type window struct {
	start time.Time
	count int
}

func (l *memoryLimiter) Allow(_ context.Context, key string, limit int, size time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows.Get(key)
	if !ok || now.Sub(w.(*window).start) >= size {
		w = &window{start: now}
		l.windows.Set(key, w, size)
	}
	win := w.(*window)
	win.count++
	return win.count <= limit, nil
}

// Middleware 以 "name:clientIP" 为 key 限流，超限返回 429。limit <= 0 时不限流。
// 限流器出错时放行请求。
func Middleware(limiter Limiter, name string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limit <= 0 {
			c.Next()
			return
		}
		allowed, err := limiter.Allow(c.Request.Context(), name+":"+c.ClientIP(), limit, window)
		if err != nil {
			log.Warnf("[RateLimit] 限流检查失败，放行请求: %v", err)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}
