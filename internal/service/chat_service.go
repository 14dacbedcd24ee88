package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sitebot-go/internal/chat"
	"sitebot-go/internal/model"
	"sitebot-go/internal/vectorstore"
	"sitebot-go/pkg/log"
)

// Chat 使用项目的聊天引擎回答一条消息，并把这一轮写入 chat_sessions。
func (s *projectService) Chat(ctx context.Context, id, message, sessionID string) (*ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	project, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.Status != model.StatusReady {
		return nil, ErrProjectNotReady
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	engine, err := s.engine(ctx, id)
	if err != nil {
		return nil, err
	}
	answer := engine.Respond(ctx, message, sessionID)

	// 回答已经生成，即使请求被取消也要落库
	turn := model.ChatTurn{User: message, Bot: answer, Timestamp: time.Now().UTC()}
	if err := s.deps.Sessions.AppendTurn(context.WithoutCancel(ctx), id, sessionID, turn); err != nil {
		log.Errorf("[ChatService] 保存会话失败: project=%s, session=%s, err=%v", id, sessionID, err)
	}
	return &ChatReply{Response: answer, SessionID: sessionID}, nil
}

// engine 返回缓存的聊天引擎。同一项目的并发首次加载只执行一次。
func (s *projectService) engine(ctx context.Context, id string) (*chat.Engine, error) {
	if cached, ok := s.engines.Get(id); ok {
		return cached.(*chat.Engine), nil
	}
	v, err, _ := s.loads.Do(id, func() (interface{}, error) {
		if cached, ok := s.engines.Get(id); ok {
			return cached, nil
		}
		store, err := s.openIndex(ctx, id)
		if err != nil {
			return nil, err
		}
		engine := chat.NewEngine(id, store, s.deps.LLM, s.deps.History, s.deps.ChatOptions)
		s.engines.SetDefault(id, engine)
		log.Infof("[ChatService] 聊天引擎已加载: project=%s, index_size=%d", id, store.Size())
		return engine, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*chat.Engine), nil
}

// openIndex 从磁盘载入索引。索引为空但元数据记录了内容，或文件损坏时，用抓取条目重建。
func (s *projectService) openIndex(ctx context.Context, id string) (*vectorstore.Store, error) {
	store := vectorstore.Open(s.indexDir(id), s.deps.Embedder, s.deps.StoreOptions)
	if store.Size() > 0 {
		return store, nil
	}
	meta, metaErr := readMetadata(s.projectDir(id))
	if !store.Recovered() && (metaErr != nil || meta.IndexSize == 0) {
		return store, nil
	}

	log.Warnf("[ChatService] 索引为空或已损坏，从抓取数据重建: project=%s", id)
	items, err := s.deps.Items.FindByProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return store, nil
	}
	rebuilt, err := s.buildIndex(ctx, id, TrainingCorpus(items))
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	return rebuilt, nil
}
