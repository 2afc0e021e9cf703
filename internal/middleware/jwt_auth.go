package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"viralindex/backend/internal/auth"
)

// JWTAuth 控制台登录态中间件
type JWTAuth struct {
	authService *auth.AuthService
	log         *zap.Logger
}

// NewJWTAuth 创建登录态中间件
func NewJWTAuth(authService *auth.AuthService, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		authService: authService,
		log:         log,
	}
}

// RequireAuth 要求已登录。
//
// 校验走 AuthService，登出拉黑的令牌在这里被拒。
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ja.extractToken(c)
		if token == "" {
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		claims, err := ja.authService.ValidateAccessToken(token)
		if err != nil {
			ja.log.Warn("invalid access token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("role", claims.Role)
		c.Set("tier", claims.Tier)

		c.Next()
	}
}

// OptionalAuth 可选登录态，令牌无效时按匿名继续
func (ja *JWTAuth) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ja.extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := ja.authService.ValidateAccessToken(token)
		if err == nil {
			c.Set("userID", claims.UserID)
			c.Set("email", claims.Email)
			c.Set("role", claims.Role)
			c.Set("tier", claims.Tier)
			c.Set("authenticated", true)
		}

		c.Next()
	}
}

// extractToken 从请求中提取JWT token
func (ja *JWTAuth) extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. 从 cookie 提取
	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}

	return ""
}
