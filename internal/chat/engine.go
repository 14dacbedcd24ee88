// Package chat 实现基于检索增强生成的项目聊天引擎。
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"sitebot-go/internal/model"
	"sitebot-go/internal/repository"
	"sitebot-go/internal/vectorstore"
	"sitebot-go/pkg/llm"
	"sitebot-go/pkg/log"
	"sitebot-go/pkg/metrics"
)

// Retriever 按查询返回相关分块，vectorstore.Store 满足该接口。
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]vectorstore.Result, error)
}

// Options 控制检索与生成。
type Options struct {
	TopK             int
	ContextChunks    int
	ContextCharLimit int
	HistoryTurns     int
	MaxSessionTurns  int
	MinAnswerLength  int
	Timeout          time.Duration
	Generation       *llm.GenerationParams
}

// DefaultOptions 返回默认参数：检索 5 条，取前 3 条各截断到 200 字符，带最近 2 轮历史，会话保留 10 轮。
func DefaultOptions() Options {
	return Options{
		TopK:             vectorstore.DefaultTopK,
		ContextChunks:    3,
		ContextCharLimit: 200,
		HistoryTurns:     2,
		MaxSessionTurns:  10,
		MinAnswerLength:  10,
		Timeout:          60 * time.Second,
	}
}

// Engine 是单个项目的聊天引擎，可并发使用。不同会话之间相互独立。
type Engine struct {
	projectID string
	retriever Retriever
	llm       llm.Client
	history   repository.HistoryRepository
	opts      Options
}

// NewEngine 创建聊天引擎。client 为 nil 时只使用规则回复。
func NewEngine(projectID string, retriever Retriever, client llm.Client, history repository.HistoryRepository, opts Options) *Engine {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.ContextChunks <= 0 {
		opts.ContextChunks = def.ContextChunks
	}
	if opts.ContextCharLimit <= 0 {
		opts.ContextCharLimit = def.ContextCharLimit
	}
	if opts.HistoryTurns < 0 {
		opts.HistoryTurns = 0
	}
	if opts.MaxSessionTurns <= 0 {
		opts.MaxSessionTurns = def.MaxSessionTurns
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Engine{
		projectID: projectID,
		retriever: retriever,
		llm:       client,
		history:   history,
		opts:      opts,
	}
}

// Respond 回答一条消息并记录到会话记忆。任何检索或生成失败都退回规则回复，不返回错误。
func (e *Engine) Respond(ctx context.Context, message, sessionID string) string {
	history, err := e.history.GetHistory(ctx, e.projectID, sessionID)
	if err != nil {
		log.Warnf("[ChatEngine] 读取会话记忆失败: project=%s, session=%s, err=%v", e.projectID, sessionID, err)
		history = nil
	}

	docs := e.retrieve(ctx, message)
	answer, source := e.generate(ctx, BuildPrompt(docs, lastTurns(history, e.opts.HistoryTurns), message, e.opts.ContextChunks, e.opts.ContextCharLimit), message)
	metrics.ChatResponses.WithLabelValues(source).Inc()

	history = append(history, model.ChatTurn{User: message, Bot: answer, Timestamp: time.Now().UTC()})
	history = lastTurns(history, e.opts.MaxSessionTurns)
	if err := e.history.SaveHistory(ctx, e.projectID, sessionID, history); err != nil {
		log.Warnf("[ChatEngine] 保存会话记忆失败: project=%s, session=%s, err=%v", e.projectID, sessionID, err)
	}
	return answer
}

func (e *Engine) retrieve(ctx context.Context, message string) []vectorstore.Result {
	if e.retriever == nil {
		return nil
	}
	docs, err := e.retriever.Search(ctx, message, e.opts.TopK)
	if err != nil {
		log.Warnf("[ChatEngine] 检索失败: project=%s, err=%v", e.projectID, err)
		return nil
	}
	return docs
}

func (e *Engine) generate(ctx context.Context, prompt, message string) (string, string) {
	if e.llm == nil {
		return FallbackReply(message), "fallback"
	}
	genCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	answer, err := e.llm.Complete(genCtx, []llm.Message{{Role: "user", Content: prompt}}, e.opts.Generation)
	if err != nil {
		log.Warnf("[ChatEngine] 生成失败，使用规则回复: project=%s, err=%v", e.projectID, err)
		return FallbackReply(message), "fallback"
	}
	answer = strings.TrimSpace(answer)
	if answer == "" || utf8.RuneCountInString(answer) < e.opts.MinAnswerLength {
		return FallbackReply(message), "fallback"
	}
	return answer, "llm"
}

// BuildPrompt 组装提示词：前 maxChunks 条检索结果（各截断到 charLimit 个字符）、最近的对话、问题，以 "Answer:" 结尾。
func BuildPrompt(docs []vectorstore.Result, history []model.ChatTurn, question string, maxChunks, charLimit int) string {
	var parts []string
	if len(docs) > 0 {
		parts = append(parts, "Relevant information:")
		for i, doc := range docs {
			if i >= maxChunks {
				break
			}
			parts = append(parts, fmt.Sprintf("- %s...", truncateRunes(doc.Text, charLimit)))
		}
	}
	if len(history) > 0 {
		parts = append(parts, "\nPrevious conversation:")
		for _, turn := range history {
			parts = append(parts, "User: "+turn.User, "Bot: "+turn.Bot)
		}
	}
	parts = append(parts, "\nQuestion: "+question, "Answer:")
	return strings.Join(parts, "\n")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func lastTurns(turns []model.ChatTurn, n int) []model.ChatTurn {
	if n <= 0 {
		return nil
	}
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}
