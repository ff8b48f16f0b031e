package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/switchsuitepro/switchsuitepro/internal/service"
	"github.com/switchsuitepro/switchsuitepro/internal/workflow"
)

// WorkflowHandler 传输与引导工作流接口
type WorkflowHandler struct {
	runner *service.Runner
}

func NewWorkflowHandler(runner *service.Runner) *WorkflowHandler {
	return &WorkflowHandler{runner: runner}
}

// TransferRequest 单设备传输请求
type TransferRequest struct {
	Device service.DeviceTarget `json:"device" binding:"required"`
	Job    workflow.TransferJob `json:"job" binding:"required"`
}

// TransferBatchRequest 批量传输请求
type TransferBatchRequest struct {
	Devices []service.DeviceTarget `json:"devices" binding:"required,min=1"`
	Job     workflow.TransferJob   `json:"job" binding:"required"`
}

// BootRequest 单设备模式切换请求
type BootRequest struct {
	Device service.DeviceTarget `json:"device" binding:"required"`
	Job    workflow.BootJob     `json:"job" binding:"required"`
}

// BootBatchRequest 批量模式切换请求
type BootBatchRequest struct {
	Devices []service.DeviceTarget `json:"devices" binding:"required,min=1"`
	Job     workflow.BootJob       `json:"job" binding:"required"`
}

// Transfer 处理 api/v1/transfer
func (h *WorkflowHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}
	taskID, out := h.runner.RunTransfer(c.Request.Context(), req.Device, req.Job)
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "outcome": out})
}

// TransferBatch 处理 api/v1/transfer/batch
func (h *WorkflowHandler) TransferBatch(c *gin.Context) {
	var req TransferBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}
	results := h.runner.RunTransferBatch(c.Request.Context(), req.Devices, req.Job)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Boot 处理 api/v1/boot
func (h *WorkflowHandler) Boot(c *gin.Context) {
	var req BootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}
	taskID, out := h.runner.RunBoot(c.Request.Context(), req.Device, req.Job)
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "outcome": out})
}

// BootBatch 处理 api/v1/boot/batch
func (h *WorkflowHandler) BootBatch(c *gin.Context) {
	var req BootBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}
	results := h.runner.RunBootBatch(c.Request.Context(), req.Devices, req.Job)
	c.JSON(http.StatusOK, gin.H{"results": results})
}
