package model

import (
	"time"

	"gorm.io/datatypes"
)

// ChatTurn 是一轮问答。
type ChatTurn struct {
	User      string    `json:"user"`
	Bot       string    `json:"bot"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession 对应 chat_sessions 表。Messages 在库里只增不减，
// 内存中的会话记忆另行截断。
type ChatSession struct {
	SessionID string                        `gorm:"type:varchar(64);primaryKey" json:"session_id"`
	ProjectID string                        `gorm:"type:varchar(36);not null;index" json:"project_id"`
	Messages  datatypes.JSONSlice[ChatTurn] `json:"messages"`
	CreatedAt time.Time                     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time                     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}
