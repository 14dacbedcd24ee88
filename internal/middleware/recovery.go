package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sitebot-go/pkg/log"
)

// Recovery 捕获处理函数中的 panic，记录日志后返回统一的 500 响应，不暴露内部细节。
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Errorf("[HTTP] panic recovered: method=%s, path=%s, err=%v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal server error"})
	})
}
