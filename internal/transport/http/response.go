package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义，机器可读，配合 HTTP 状态码使用
const (
	CodeBadRequest   = "BAD_REQUEST"   // 请求参数错误
	CodeUnauthorized = "UNAUTHORIZED"  // 未认证或凭证无效
	CodeForbidden    = "FORBIDDEN"     // 无权限或套餐等级不足
	CodeNotFound     = "NOT_FOUND"     // 资源不存在
	CodeConflict     = "CONFLICT"      // 资源冲突
	CodeLimitReached = "LIMIT_REACHED" // 配额上限（如密钥数量）
	CodeRateLimited  = "RATE_LIMITED"  // 请求频率超限
	CodeInternal     = "INTERNAL"      // 服务器内部错误
)

// ErrorBody 错误详情
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse 统一错误响应结构
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Success 成功响应（200），载荷直接作为响应体
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent 无内容响应（204）- 通常用于删除成功
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Fail 按状态码与错误码输出错误响应
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized 未认证错误（401）
func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden 无权限错误（403）
func Forbidden(c *gin.Context, message string) {
	Fail(c, http.StatusForbidden, CodeForbidden, message)
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, CodeNotFound, message)
}

// Conflict 资源冲突错误（409）
func Conflict(c *gin.Context, message string) {
	Fail(c, http.StatusConflict, CodeConflict, message)
}

// LimitReached 配额上限错误（409）
func LimitReached(c *gin.Context, message string) {
	Fail(c, http.StatusConflict, CodeLimitReached, message)
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeInternal, message)
}
