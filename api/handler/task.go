package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/switchsuitepro/switchsuitepro/internal/database"
	"github.com/switchsuitepro/switchsuitepro/internal/service"
)

// TaskHandler 任务查询接口
type TaskHandler struct {
	runner *service.Runner
}

func NewTaskHandler(runner *service.Runner) *TaskHandler {
	return &TaskHandler{runner: runner}
}

// Health 处理 api/v1/health
func (h *TaskHandler) Health(c *gin.Context) {
	if err := database.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// GetTask 处理 api/v1/tasks/:task_id
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.runner.GetTask(c.Param("task_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "TASK_NOT_FOUND", "message": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "QUERY_FAILED", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetTaskLogs 处理 api/v1/tasks/:task_id/logs
func (h *TaskHandler) GetTaskLogs(c *gin.Context) {
	logs, err := h.runner.ListTaskLogs(c.Param("task_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "QUERY_FAILED", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
