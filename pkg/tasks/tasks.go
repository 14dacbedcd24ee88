// Package tasks 定义项目后台任务的结构以及在进程内执行它们的 Runner。
package tasks

import (
	"context"
	"time"
)

// Kind 是后台任务类型。
type Kind string

const (
	KindScrape Kind = "scrape"
	KindTrain  Kind = "train"
)

// ProjectTask 表示一次抓取或训练任务，也是发往 Kafka 的消息体。
type ProjectTask struct {
	ProjectID   string    `json:"project_id"`
	Kind        Kind      `json:"kind"`
	RequestedAt time.Time `json:"requested_at"`
}

// Handler 执行一个任务。ctx 在任务被取消或 Runner 关闭时结束。
type Handler func(ctx context.Context, task ProjectTask) error

// Dispatcher 把任务交给执行方。进程内 Runner 与 Kafka 生产者都实现该接口。
type Dispatcher interface {
	Dispatch(ctx context.Context, task ProjectTask) error
}
