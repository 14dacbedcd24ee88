// Package kafka 提供了通过 Kafka 分发项目后台任务的生产者与消费者。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"sitebot-go/internal/config"
	"sitebot-go/pkg/log"
	"sitebot-go/pkg/tasks"
)

// maxAttempts 次失败后提交 offset，放弃该消息。
const maxAttempts = 3

// Producer 把任务写入 Kafka，实现 tasks.Dispatcher。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}}
	log.Infof("[Kafka] 生产者初始化成功: topic=%s", cfg.Topic)
	return p
}

// Dispatch 发送一个项目任务。以项目 ID 作为 key，同一项目的任务落在同一分区里保持顺序。
func (p *Producer) Dispatch(ctx context.Context, task tasks.ProjectTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ProjectID),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// attemptCounter 记录消息处理失败的次数。
type attemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string)
}

type redisCounter struct {
	rdb *redis.Client
}

func (c redisCounter) Incr(ctx context.Context, key string) (int64, error) {
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err == nil {
		_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
	}
	return attempts, err
}

func (c redisCounter) Reset(ctx context.Context, key string) {
	_ = c.rdb.Del(ctx, key).Err()
}

type localCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *localCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *localCounter) Reset(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.counts, key)
	c.mu.Unlock()
}

// StartConsumer 消费任务消息并交给 runner 执行，阻塞到 ctx 结束或读取失败。
// rdb 为 nil 时失败计数保存在进程内。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, runner *tasks.Runner, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("[Kafka] 关闭消费者失败: %v", err)
		}
	}()

	var counter attemptCounter = &localCounter{counts: make(map[string]int64)}
	if rdb != nil {
		counter = redisCounter{rdb: rdb}
	}

	log.Infof("[Kafka] 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("[Kafka] 读取消息失败", err)
			}
			return
		}

		var task tasks.ProjectTask
		if err := json.Unmarshal(m.Value, &task); err != nil || task.ProjectID == "" {
			log.Errorf("[Kafka] 无法解析消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		err = handle(ctx, runner, task)
		attemptsKey := fmt.Sprintf("kafka:attempts:%s:%s:%d", task.Kind, task.ProjectID, m.Offset)
		switch {
		case err == nil:
			counter.Reset(ctx, attemptsKey)
			commit(ctx, r, m)
		case errors.Is(err, tasks.ErrJobCanceled), errors.Is(err, context.Canceled):
			// 项目被删除或进程退出，不再重试
			commit(ctx, r, m)
		default:
			attempts, incErr := counter.Incr(ctx, attemptsKey)
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			if attempts >= maxAttempts {
				log.Errorf("[Kafka] 任务多次失败(>=%d)，提交 offset 终止重试: project=%s, kind=%s", maxAttempts, task.ProjectID, task.Kind)
				counter.Reset(ctx, attemptsKey)
				commit(ctx, r, m)
			}
		}
	}
}

func handle(ctx context.Context, runner *tasks.Runner, task tasks.ProjectTask) error {
	for {
		job, err := runner.Submit(task)
		if errors.Is(err, tasks.ErrQueueFull) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}
		if err != nil {
			return err
		}
		return job.Wait(ctx)
	}
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("[Kafka] 提交 offset 失败: %v", err)
	}
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
