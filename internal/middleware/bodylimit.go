package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultBodyLimit 普通 API 请求的请求体上限
	DefaultBodyLimit = 1 * 1024 * 1024 // 1MB

	// IngestBodyLimit 批量写入接口的请求体上限
	IngestBodyLimit = 10 * 1024 * 1024 // 10MB
)

// BodySizeLimit 限制请求体大小的中间件
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Content-Length 超限的直接拒绝
		if c.Request.ContentLength > maxBytes {
			c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))
			writeError(c, http.StatusRequestEntityTooLarge, "BAD_REQUEST",
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytes))
			return
		}

		// 分块传输没有 Content-Length，读取时兜底
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}
