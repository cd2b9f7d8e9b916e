// Package middleware 提供 HTTP 中间件
package middleware

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader 请求头中的请求 ID
	RequestIDHeader = "X-Request-ID"
	// AdminKeyHeader 管理接口密钥
	AdminKeyHeader = "X-Admin-Key"
	// ValidatorIDHeader 验证者身份
	ValidatorIDHeader = "X-Validator-ID"

	validatorIDKey = "validator_id"
)

// RequestID 注入请求 ID, 并把带 request_id 的 logger 放入请求 context
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.NewContext(c.Request.Context(), zap.String("request_id", id)))
		c.Next()
	}
}

// Recovery panic 恢复
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithContext(c.Request.Context()).Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.ByteString("stack", debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    bizerrors.CodeInternal,
					"message": bizerrors.ErrInternal.Message,
				})
			}
		}()
		c.Next()
	}
}

// Logger 请求日志
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if v := c.GetString(validatorIDKey); v != "" {
			fields = append(fields, zap.String("validator_id", v))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		l := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Error("request completed", fields...)
		case status >= 400:
			l.Warn("request completed", fields...)
		default:
			l.Debug("request completed", fields...)
		}
	}
}

// Metrics 记录 HTTP 指标, 使用路由模板避免高基数
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// AdminKey 校验 X-Admin-Key; 未配置密钥时拒绝所有管理请求
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    bizerrors.CodeUnauthorized,
				"message": "invalid admin key",
			})
			return
		}
		c.Next()
	}
}

// ValidatorID 要求 X-Validator-ID 请求头; 授权在验证引擎中按链检查
func ValidatorID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(ValidatorIDHeader)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    bizerrors.CodeInvalidRequest,
				"message": ValidatorIDHeader + " header is required",
			})
			return
		}
		c.Set(validatorIDKey, id)
		c.Next()
	}
}

// GetValidatorID 当前请求的验证者
func GetValidatorID(c *gin.Context) string {
	return c.GetString(validatorIDKey)
}
