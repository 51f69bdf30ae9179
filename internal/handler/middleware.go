package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"msmeconnect/internal/auth"
	"msmeconnect/internal/infrastructure/metrics"
	"msmeconnect/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID  = "X-Request-ID"
	ctxRequestID     = "request_id"
	ctxAdminSubject  = "admin_subject"
	maxRequestIDSize = 64
)

// RequestIDMiddleware 透传或生成请求 ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > maxRequestIDSize {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s | %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
			c.GetString(ctxRequestID),
		)
	}
}

// MetricsMiddleware HTTP 请求指标，按路由模板聚合
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPInFlight.Inc()
		start := time.Now()

		c.Next()

		metrics.HTTPInFlight.Dec()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, status).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] requestID=%s, %v", c.GetString(ctxRequestID), err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:      response.CodeServerError,
					Message:   "internal error",
					RequestID: c.GetString(ctxRequestID),
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, Idempotency-Key")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AdminAuthMiddleware 校验 Bearer 令牌且角色为 admin
func AdminAuthMiddleware(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			response.Abort(c, response.CodeUnauthorized, "missing bearer token")
			return
		}

		claims, err := auth.ParseAdminToken(secret, issuer, strings.TrimSpace(token))
		if err != nil {
			log.Printf("[Auth] 令牌校验失败: requestID=%s, err=%v", c.GetString(ctxRequestID), err)
			if errors.Is(err, auth.ErrNotAdmin) {
				response.Abort(c, response.CodeForbidden, "admin role required")
				return
			}
			response.Abort(c, response.CodeUnauthorized, "invalid token")
			return
		}

		c.Set(ctxAdminSubject, claims.Subject)
		c.Next()
	}
}

func adminSubject(c *gin.Context) string {
	return c.GetString(ctxAdminSubject)
}
