package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sitebot-go/internal/service"
	"sitebot-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	// 聊天组件嵌入在客户自己的站点上，来源不固定
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ChatHandler 处理嵌入式聊天组件的 WebSocket 连接。
type ChatHandler struct {
	projects service.ProjectService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(projects service.ProjectService) *ChatHandler {
	return &ChatHandler{projects: projects}
}

type wsRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type wsResponse struct {
	Type      string `json:"type"`
	Response  string `json:"response,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Handle 处理一个 WebSocket 连接。令牌已由 ChatTokenAuth 校验，项目 id 取自令牌。
// 每条消息依次回复 response 与 completion；出错时回复 error 与 completion，连接保持。
func (h *ChatHandler) Handle(c *gin.Context) {
	projectID := c.GetString("projectId")
	if projectID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid chat token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] WebSocket 连接已建立: project=%s", projectID)

	sessionID := ""
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				log.Warnf("[ChatHandler] 读取消息失败: project=%s, err=%v", projectID, err)
			}
			return
		}
		// 同一连接沿用第一次得到的会话
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		reply, err := h.projects.Chat(c.Request.Context(), projectID, req.Message, req.SessionID)
		if err != nil {
			msg := "chat is temporarily unavailable"
			if errors.Is(err, service.ErrProjectNotReady) || errors.Is(err, service.ErrProjectNotFound) || errors.Is(err, service.ErrInvalidInput) {
				msg = err.Error()
			} else {
				log.Errorf("[ChatHandler] 聊天失败: project=%s, err=%v", projectID, err)
			}
			if !writeFrames(conn, wsResponse{Type: "error", Message: msg}) {
				return
			}
			continue
		}
		sessionID = reply.SessionID
		if !writeFrames(conn, wsResponse{Type: "response", Response: reply.Response, SessionID: reply.SessionID}) {
			return
		}
	}
}

// writeFrames 写出一帧内容和一帧 completion 通知，返回连接是否仍可用。
func writeFrames(conn *websocket.Conn, first wsResponse) bool {
	now := time.Now().UnixMilli()
	first.Timestamp = now
	completion := wsResponse{Type: "completion", Status: "finished", Timestamp: now}
	for _, frame := range []wsResponse{first, completion} {
		if err := conn.WriteJSON(frame); err != nil {
			log.Warnf("[ChatHandler] 写入消息失败: %v", err)
			return false
		}
	}
	return true
}
