package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/artgen_go_server/internal/pkg/jwt"
	"github.com/qs3c/artgen_go_server/internal/pkg/response"
)

const (
	UserIDKey = "userID"
)

// bearerToken 从 Authorization 头提取 Bearer token
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// Auth JWT 认证中间件，校验通过后把用户 ID 写入上下文
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.AuthError(c, "未登录或认证格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(token, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// OptionalAuth 可选认证：带合法 token 时注入用户 ID，否则按匿名放行
func OptionalAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := jwt.ParseToken(token, jwtSecret); err == nil {
				c.Set(UserIDKey, claims.UserID)
			}
		}
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}
