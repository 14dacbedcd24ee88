package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"

	"sitebot-go/internal/model"
)

// HistoryRepository 保存聊天引擎使用的短期会话记忆。
// 完整的会话记录落在 chat_sessions 表，这里只保留最近若干轮。
type HistoryRepository interface {
	GetHistory(ctx context.Context, projectID, sessionID string) ([]model.ChatTurn, error)
	SaveHistory(ctx context.Context, projectID, sessionID string, turns []model.ChatTurn) error
	// DeleteProject 清除项目下所有会话的记忆。
	DeleteProject(ctx context.Context, projectID string) error
}

func historyKey(projectID, sessionID string) string {
	return fmt.Sprintf("chat:history:%s:%s", projectID, sessionID)
}

type redisHistoryRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisHistoryRepository 创建基于 Redis 的会话记忆，值为 JSON，过期时间为 ttl。
func NewRedisHistoryRepository(redisClient *redis.Client, ttl time.Duration) HistoryRepository {
	return &redisHistoryRepository{redisClient: redisClient, ttl: ttl}
}

// GetHistory 从 Redis 获取会话记忆。
func (r *redisHistoryRepository) GetHistory(ctx context.Context, projectID, sessionID string) ([]model.ChatTurn, error) {
	jsonData, err := r.redisClient.Get(ctx, historyKey(projectID, sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatTurn{}, nil // No history yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	var turns []model.ChatTurn
	if err := json.Unmarshal([]byte(jsonData), &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat history: %w", err)
	}
	return turns, nil
}

// SaveHistory 覆盖写入会话记忆。
func (r *redisHistoryRepository) SaveHistory(ctx context.Context, projectID, sessionID string, turns []model.ChatTurn) error {
	jsonData, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to marshal chat history: %w", err)
	}
	if err := r.redisClient.Set(ctx, historyKey(projectID, sessionID), jsonData, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set chat history: %w", err)
	}
	return nil
}

// DeleteProject 用 SCAN 找出项目下的全部 key 再批量删除。
func (r *redisHistoryRepository) DeleteProject(ctx context.Context, projectID string) error {
	pattern := historyKey(projectID, "*")
	var cursor uint64
	for {
		keys, next, err := r.redisClient.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan chat history keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.redisClient.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete chat history: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

type memoryHistoryRepository struct {
	store *cache.Cache
}

// NewMemoryHistoryRepository 创建进程内的会话记忆，未配置 Redis 时使用。
func NewMemoryHistoryRepository(ttl time.Duration) HistoryRepository {
	return &memoryHistoryRepository{store: cache.New(ttl, 10*time.Minute)}
}

func (r *memoryHistoryRepository) GetHistory(_ context.Context, projectID, sessionID string) ([]model.ChatTurn, error) {
	v, ok := r.store.Get(historyKey(projectID, sessionID))
	if !ok {
		return []model.ChatTurn{}, nil
	}
	turns := v.([]model.ChatTurn)
	out := make([]model.ChatTurn, len(turns))
	copy(out, turns)
	return out, nil
}

func (r *memoryHistoryRepository) SaveHistory(_ context.Context, projectID, sessionID string, turns []model.ChatTurn) error {
	stored := make([]model.ChatTurn, len(turns))
	copy(stored, turns)
	r.store.SetDefault(historyKey(projectID, sessionID), stored)
	return nil
}

func (r *memoryHistoryRepository) DeleteProject(_ context.Context, projectID string) error {
	prefix := historyKey(projectID, "")
	for key := range r.store.Items() {
		if strings.HasPrefix(key, prefix) {
			r.store.Delete(key)
		}
	}
	return nil
}
