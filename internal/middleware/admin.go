package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"viralindex/backend/internal/auth"
	"viralindex/backend/internal/domain"
)

// AdminAuth 管理员权限中间件
type AdminAuth struct {
	authService *auth.AuthService
}

// NewAdminAuth 创建管理员权限中间件
func NewAdminAuth(authService *auth.AuthService) *AdminAuth {
	return &AdminAuth{
		authService: authService,
	}
}

// currentUser 按上下文里的用户ID重新读一次账号。
//
// 不信令牌声明里的角色，降权或封禁要立即生效。
func (a *AdminAuth) currentUser(c *gin.Context) (*domain.User, bool) {
	userIDVal, exists := c.Get("userID")
	if !exists {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return nil, false
	}

	userID, ok := userIDVal.(string)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid user context")
		return nil, false
	}

	user, err := a.authService.GetUserByID(userID)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "User not found")
		return nil, false
	}

	if !user.IsActive {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "Account is disabled")
		return nil, false
	}

	return user, true
}

// RequireAdmin 要求管理员权限（Admin或Super）
func (a *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := a.currentUser(c)
		if !ok {
			return
		}

		if !user.IsAdmin() {
			writeError(c, http.StatusForbidden, "FORBIDDEN", "Admin access required")
			return
		}

		c.Set("user", user)
		c.Set("role", user.Role)
		c.Next()
	}
}

// RequireSuper 要求超级管理员权限
func (a *AdminAuth) RequireSuper() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := a.currentUser(c)
		if !ok {
			return
		}

		if !user.IsSuper() {
			writeError(c, http.StatusForbidden, "FORBIDDEN", "Super admin access required")
			return
		}

		c.Set("user", user)
		c.Set("role", user.Role)
		c.Next()
	}
}
