// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sitebot-go/internal/service"
	"sitebot-go/pkg/log"
	"sitebot-go/pkg/tasks"
)

// ProjectHandler 负责 /projects 下的全部接口。
type ProjectHandler struct {
	projects service.ProjectService
}

// NewProjectHandler 创建一个新的 ProjectHandler 实例。
func NewProjectHandler(projects service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

type createProjectRequest struct {
	Name string `json:"name" binding:"required"`
	URL  string `json:"url" binding:"required"`
}

type chatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id"`
}

// List 返回全部项目，最新的在前。
func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.projects.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "projects": projects, "total": len(projects)})
}

// Create 创建项目。
func (h *ProjectHandler) Create(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "name and url are required"})
		return
	}
	project, err := h.projects.Create(c.Request.Context(), req.Name, req.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "project": project})
}

func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.projects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "project": project})
}

func (h *ProjectHandler) Status(c *gin.Context) {
	view, err := h.projects.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "project_status": view})
}

// Scrape 启动后台抓取，立即返回。
func (h *ProjectHandler) Scrape(c *gin.Context) {
	id := c.Param("id")
	if err := h.projects.StartScraping(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "scraping started", "project_id": id})
}

// Train 启动后台训练，立即返回。
func (h *ProjectHandler) Train(c *gin.Context) {
	id := c.Param("id")
	if err := h.projects.StartTraining(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "training started", "project_id": id})
}

func (h *ProjectHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "message is required"})
		return
	}
	reply, err := h.projects.Chat(c.Request.Context(), c.Param("id"), req.Message, req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "response": reply.Response, "session_id": reply.SessionID})
}

func (h *ProjectHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.projects.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "project deleted"})
}

// Data 列出抓取条目，支持 q、type、limit 查询参数。
func (h *ProjectHandler) Data(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	items, err := h.projects.Data(c.Request.Context(), c.Param("id"), c.Query("q"), c.Query("type"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": items, "total": len(items)})
}

func (h *ProjectHandler) Session(c *gin.Context) {
	session, err := h.projects.Session(c.Request.Context(), c.Param("id"), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "session": session})
}

// ChatToken 签发嵌入式聊天组件使用的 websocket 令牌。
func (h *ProjectHandler) ChatToken(c *gin.Context) {
	tok, expiresAt, err := h.projects.IssueChatToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "token": tok, "expires_at": expiresAt})
}

// respondError 把业务错误映射为 HTTP 状态码，未知错误只返回通用信息。
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"
	switch {
	case errors.Is(err, service.ErrProjectNotFound), errors.Is(err, service.ErrSessionNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrProjectBusy),
		errors.Is(err, service.ErrProjectNotScraped),
		errors.Is(err, service.ErrProjectNotReady),
		errors.Is(err, service.ErrNoTrainingData),
		errors.Is(err, service.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, tasks.ErrQueueFull), errors.Is(err, tasks.ErrRunnerClosed):
		status, message = http.StatusServiceUnavailable, "job queue is unavailable, try again later"
	default:
		log.Errorf("[Handler] 请求处理失败: method=%s, path=%s, err=%v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"status": "error", "message": message})
}
