package middleware

import (
	"time"

	"github.com/flowy2k/kvm-manager-v2/services"

	"github.com/gin-gonic/gin"
)

/**
 * HTTP请求统计中间件
 * @description
 * - 统计HTTP服务器收到的请求数量
 * - 记录请求处理时间
 * - 状态码 >= 400 计为错误请求
 */
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()

		// 使用路由模板作为标签，避免查询参数导致标签爆炸
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		services.IncrementRequestCount(path)
		services.RecordRequestDuration(path, duration)
		if c.Writer.Status() >= 400 {
			services.IncrementErrorCount(path)
		}
	}
}
