package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/switchsuitepro/switchsuitepro/api/handler"
	"github.com/switchsuitepro/switchsuitepro/internal/service"
	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

// SetupRouter 设置路由
func SetupRouter(runner *service.Runner) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	workflowHandler := handler.NewWorkflowHandler(runner)
	taskHandler := handler.NewTaskHandler(runner)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "Switch Suite Pro",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", taskHandler.Health)

		transfer := v1.Group("/transfer")
		{
			transfer.POST("", workflowHandler.Transfer)
			transfer.POST("/batch", workflowHandler.TransferBatch)
		}

		boot := v1.Group("/boot")
		{
			boot.POST("", workflowHandler.Boot)
			boot.POST("/batch", workflowHandler.BootBatch)
		}

		tasks := v1.Group("/tasks")
		{
			tasks.GET("/:task_id", taskHandler.GetTask)
			tasks.GET("/:task_id/logs", taskHandler.GetTaskLogs)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		requestID := c.GetString("request_id")
		statusCode := c.Writer.Status()

		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     statusCode,
			"duration":   duration.String(),
			"client_ip":  c.ClientIP(),
		}).Info("HTTP Request")

		if statusCode >= 400 {
			logger.Errorf("HTTP error %d on %s %s (request_id=%s)", statusCode, c.Request.Method, c.Request.URL.Path, requestID)
		}
	}
}

// generateRequestID 生成请求ID
func generateRequestID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
