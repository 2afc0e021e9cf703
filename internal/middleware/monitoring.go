package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/monitoring"
)

// MonitoringMiddleware 监控中间件
type MonitoringMiddleware struct {
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewMonitoringMiddleware 创建监控中间件
func NewMonitoringMiddleware(metrics *monitoring.Metrics, logger *zap.Logger) *MonitoringMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitoringMiddleware{
		metrics: metrics,
		logger:  logger,
	}
}

// HTTPMetrics HTTP 指标中间件
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestSize := c.Request.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		c.Next()

		duration := time.Since(start)
		statusCode := strconv.Itoa(c.Writer.Status())
		responseSize := int64(c.Writer.Size())

		// 用注册的路由模板做标签，避免基数爆炸
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		mm.metrics.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			statusCode,
			duration,
			requestSize,
			responseSize,
		)

		if c.Writer.Status() >= 500 {
			mm.metrics.RecordError("http_error", "http")
		}
	}
}

// GatewayMetrics 网关判定指标，挂在公开 API 分组上
func (mm *MonitoringMiddleware) GatewayMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		tier := ""
		if value, exists := c.Get("tier"); exists {
			if t, ok := value.(domain.UserTier); ok {
				tier = string(t)
			}
		}

		mm.metrics.RecordGatewayRequest(tier, c.Writer.Status())
	}
}

// BusinessMetrics 业务指标中间件
func (mm *MonitoringMiddleware) BusinessMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// 只统计成功的写操作
		if c.Writer.Status() >= 400 {
			return
		}

		switch c.FullPath() {
		case "/api/auth/register":
			if c.Request.Method == http.MethodPost {
				mm.metrics.RecordUserRegistered()
			}
		case "/api/keys":
			if c.Request.Method == http.MethodPost {
				mm.metrics.RecordAPIKeyIssued()
			}
		case "/api/keys/:id":
			if c.Request.Method == http.MethodDelete {
				mm.metrics.RecordAPIKeyRevoked()
			}
		}
	}
}

// PanicRecovery Panic 恢复中间件
func (mm *MonitoringMiddleware) PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				mm.metrics.RecordPanic()

				mm.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("ip", c.ClientIP()),
					zap.Stack("stack"),
				)

				writeError(c, http.StatusInternalServerError, "INTERNAL", "Internal server error")
			}
		}()

		c.Next()
	}
}
