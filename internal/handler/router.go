package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sitebot-go/internal/middleware"
	"sitebot-go/internal/service"
	"sitebot-go/pkg/metrics"
	"sitebot-go/pkg/ratelimit"
	"sitebot-go/pkg/token"
)

// RateLimits 是各接口每个客户端 IP 在 Window 内允许的请求数，0 表示不限。
type RateLimits struct {
	Window time.Duration
	Create int
	Scrape int
	Train  int
	Chat   int
}

// RouterOptions 汇总路由需要的依赖。Limiter 为 nil 时不限流。
type RouterOptions struct {
	Projects service.ProjectService
	Tokens   *token.JWTManager
	Limiter  ratelimit.Limiter
	Limits   RateLimits
}

// NewRouter 注册全部路由。
func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger("/metrics", "/healthz"), middleware.Recovery(), metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	limit := func(name string, n int) gin.HandlerFunc {
		return ratelimit.Middleware(opts.Limiter, name, n, opts.Limits.Window)
	}

	projectHandler := NewProjectHandler(opts.Projects)
	apiV1 := r.Group("/api/v1")
	{
		projects := apiV1.Group("/projects")
		{
			projects.GET("", projectHandler.List)
			projects.POST("", limit("create", opts.Limits.Create), projectHandler.Create)
			projects.GET("/:id", projectHandler.Get)
			projects.DELETE("/:id", projectHandler.Delete)
			projects.GET("/:id/status", projectHandler.Status)
			projects.POST("/:id/scrape", limit("scrape", opts.Limits.Scrape), projectHandler.Scrape)
			projects.POST("/:id/train", limit("train", opts.Limits.Train), projectHandler.Train)
			projects.POST("/:id/chat", limit("chat", opts.Limits.Chat), projectHandler.Chat)
			projects.GET("/:id/data", projectHandler.Data)
			projects.GET("/:id/sessions/:session_id", projectHandler.Session)
			projects.POST("/:id/chat-token", projectHandler.ChatToken)
		}
	}

	// WebSocket 聊天，令牌只对一个项目有效
	if opts.Tokens != nil {
		r.GET("/chat/:token", middleware.ChatTokenAuth(opts.Tokens), NewChatHandler(opts.Projects).Handle)
	}
	return r
}
