package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"sitebot-go/internal/model"
)

// ChatSessionRepository 定义了 chat_sessions 表的操作接口。
type ChatSessionRepository interface {
	// AppendTurn 把一轮问答追加到会话末尾，会话不存在时创建。
	AppendTurn(ctx context.Context, projectID, sessionID string, turn model.ChatTurn) error
	Find(ctx context.Context, projectID, sessionID string) (*model.ChatSession, error)
	DeleteByProject(ctx context.Context, projectID string) error
}

type chatSessionRepository struct {
	db *gorm.DB
}

// NewChatSessionRepository 创建一个新的 ChatSessionRepository 实例。
func NewChatSessionRepository(db *gorm.DB) ChatSessionRepository {
	return &chatSessionRepository{db: db}
}

func (r *chatSessionRepository) AppendTurn(ctx context.Context, projectID, sessionID string, turn model.ChatTurn) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		err := tx.Where("session_id = ? AND project_id = ?", sessionID, projectID).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			session = model.ChatSession{
				SessionID: sessionID,
				ProjectID: projectID,
				Messages:  []model.ChatTurn{turn},
			}
			return tx.Create(&session).Error
		}
		if err != nil {
			return err
		}
		session.Messages = append(session.Messages, turn)
		return tx.Model(&model.ChatSession{}).
			Where("session_id = ?", sessionID).
			Update("messages", session.Messages).Error
	})
}

// Find 找不到时返回 gorm.ErrRecordNotFound。
func (r *chatSessionRepository) Find(ctx context.Context, projectID, sessionID string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).Where("session_id = ? AND project_id = ?", sessionID, projectID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *chatSessionRepository) DeleteByProject(ctx context.Context, projectID string) error {
	return r.db.WithContext(ctx).Where("project_id = ?", projectID).Delete(&model.ChatSession{}).Error
}
