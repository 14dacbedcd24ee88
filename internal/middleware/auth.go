// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sitebot-go/pkg/token"
)

// ChatTokenAuth 校验聊天令牌，并把 claims 与项目 id 存入上下文。
// 令牌来自路径参数 :token，缺失时读取 "Authorization: Bearer <token>"。
func ChatTokenAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Param("token")
		if tokenString == "" {
			const bearerPrefix = "Bearer "
			authHeader := c.GetHeader("Authorization")
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "missing chat token"})
				return
			}
			tokenString = strings.TrimPrefix(authHeader, bearerPrefix)
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid or expired chat token"})
			return
		}

		c.Set("claims", claims)
		c.Set("projectId", claims.ProjectID)
		c.Next()
	}
}
