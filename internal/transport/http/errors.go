package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"viralindex/backend/internal/auth"
	"viralindex/backend/internal/auth/jwt"
	"viralindex/backend/internal/service"
)

// RespondError 把业务错误翻译成统一的错误响应。
//
// 未识别的错误一律按 500 处理，内部细节不带给调用方。
func RespondError(c *gin.Context, err error) {
	switch {
	// 认证与账号
	case errors.Is(err, auth.ErrInvalidCredentials):
		Unauthorized(c, "Invalid email or password")
	case errors.Is(err, jwt.ErrExpiredToken):
		Unauthorized(c, "Token expired")
	case errors.Is(err, jwt.ErrInvalidToken):
		Unauthorized(c, "Invalid token")
	case errors.Is(err, auth.ErrInvalidEmail):
		BadRequest(c, "Invalid email address")
	case errors.Is(err, auth.ErrInvalidPassword):
		BadRequest(c, "Password must be 8-72 characters")
	case errors.Is(err, auth.ErrInvalidUsername):
		BadRequest(c, "Invalid username")
	case errors.Is(err, auth.ErrEmailExists):
		Conflict(c, "Email already registered")
	case errors.Is(err, auth.ErrUsernameExists):
		Conflict(c, "Username already taken")
	case errors.Is(err, auth.ErrUserNotFound):
		NotFound(c, "User not found")
	case errors.Is(err, auth.ErrUserInactive):
		Forbidden(c, "Account is disabled")

	// API 密钥
	case errors.Is(err, service.ErrAPIKeyLimitReached):
		LimitReached(c, "Maximum number of active API keys reached, revoke one first")
	case errors.Is(err, service.ErrAPIKeyNotFound):
		NotFound(c, "API key not found")
	case errors.Is(err, service.ErrAPIKeyInvalid):
		Unauthorized(c, "Invalid API key")

	// 榜单
	case errors.Is(err, service.ErrModelNotFound):
		NotFound(c, "Model not found")
	case errors.Is(err, service.ErrInvalidDate):
		BadRequest(c, "Invalid date, expected YYYY-MM-DD")
	case errors.Is(err, service.ErrInvalidDateRange):
		BadRequest(c, "Invalid date range")

	// 告警规则
	case errors.Is(err, service.ErrAlertsNotAllowed):
		Forbidden(c, "Alert rules require the pro plan or higher")
	case errors.Is(err, service.ErrAlertRuleLimitReached):
		LimitReached(c, "Maximum number of alert rules reached")
	case errors.Is(err, service.ErrAlertRuleNotFound):
		NotFound(c, "Alert rule not found")
	case errors.Is(err, service.ErrInvalidAlertRule):
		BadRequest(c, err.Error())

	// 管理后台
	case errors.Is(err, service.ErrUserNotFound):
		NotFound(c, "User not found")
	case errors.Is(err, service.ErrCannotModifySelf):
		Conflict(c, "Cannot modify your own account")
	case errors.Is(err, service.ErrCannotModifySuper):
		Forbidden(c, "Cannot modify a super admin account")
	case errors.Is(err, service.ErrInsufficientPermission):
		Forbidden(c, "Insufficient permissions")
	case errors.Is(err, service.ErrUnauthorized):
		Unauthorized(c, "Authentication required")
	case errors.Is(err, service.ErrInvalidRole):
		BadRequest(c, "Invalid role")
	case errors.Is(err, service.ErrInvalidTier):
		BadRequest(c, "Invalid tier, expected free, pro or enterprise")

	// 归属权：别人的资源一律当不存在，不暴露资源是否存在
	case errors.Is(err, service.ErrPermissionDenied):
		NotFound(c, "Resource not found")

	default:
		InternalError(c, "Internal server error")
	}
}
