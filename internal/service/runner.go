package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/switchsuitepro/switchsuitepro/internal/config"
	"github.com/switchsuitepro/switchsuitepro/internal/database"
	"github.com/switchsuitepro/switchsuitepro/internal/model"
	"github.com/switchsuitepro/switchsuitepro/internal/workflow"
	"github.com/switchsuitepro/switchsuitepro/pkg/console"
	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

// DeviceTarget 设备连接参数
type DeviceTarget struct {
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	// Platform 可选：按 device_defaults 配置选取提示符（nxos | aci）
	Platform string `json:"platform"`
}

// Runner 工作流执行服务：建立会话、驱动工作流、落库并归档会话记录
type Runner struct {
	cfg         *config.Config
	transcripts TranscriptWriter
	sem         *semaphore.Weighted
}

// NewRunner 创建执行服务
func NewRunner(cfg *config.Config) *Runner {
	concurrent := cfg.Server.Concurrent
	if concurrent <= 0 {
		concurrent = 8
	}
	return &Runner{
		cfg:         cfg,
		transcripts: NewTranscriptWriter(cfg),
		sem:         semaphore.NewWeighted(concurrent),
	}
}

// RunTransfer 对单台设备执行文件传输工作流
func (r *Runner) RunTransfer(ctx context.Context, dev DeviceTarget, job workflow.TransferJob) (string, workflow.Outcome) {
	r.applyTransferDefaults(&job)
	return r.execute(ctx, dev, model.TaskTypeTransfer, job, func(sess *console.Session) workflow.Outcome {
		return workflow.RunTransfer(sess, job)
	})
}

// RunBoot 对单台设备执行模式切换工作流
func (r *Runner) RunBoot(ctx context.Context, dev DeviceTarget, job workflow.BootJob) (string, workflow.Outcome) {
	r.applyBootDefaults(&job)
	return r.execute(ctx, dev, model.TaskTypeBoot, job, func(sess *console.Session) workflow.Outcome {
		return workflow.RunBoot(sess, job)
	})
}

// BatchResult 批量执行中单台设备的结果
type BatchResult struct {
	Host    string           `json:"host"`
	TaskID  string           `json:"task_id"`
	Outcome workflow.Outcome `json:"outcome"`
}

// RunTransferBatch 并发执行批量传输，整体并发受服务级信号量约束
func (r *Runner) RunTransferBatch(ctx context.Context, devs []DeviceTarget, job workflow.TransferJob) []BatchResult {
	return r.batch(devs, func(dev DeviceTarget) (string, workflow.Outcome) {
		return r.RunTransfer(ctx, dev, job)
	})
}

// RunBootBatch 并发执行批量模式切换
func (r *Runner) RunBootBatch(ctx context.Context, devs []DeviceTarget, job workflow.BootJob) []BatchResult {
	return r.batch(devs, func(dev DeviceTarget) (string, workflow.Outcome) {
		return r.RunBoot(ctx, dev, job)
	})
}

func (r *Runner) batch(devs []DeviceTarget, run func(DeviceTarget) (string, workflow.Outcome)) []BatchResult {
	results := make([]BatchResult, len(devs))
	var wg sync.WaitGroup
	for i, dev := range devs {
		wg.Add(1)
		go func(i int, dev DeviceTarget) {
			defer wg.Done()
			taskID, out := run(dev)
			results[i] = BatchResult{Host: dev.Host, TaskID: taskID, Outcome: out}
		}(i, dev)
	}
	wg.Wait()
	return results
}

// execute 执行一次工作流调用：信号量准入、建会话、运行、落库、归档。
// 会话的断开由工作流自身保证；这里只负责结果侧收尾。
func (r *Runner) execute(ctx context.Context, dev DeviceTarget, taskType string, params interface{}, run func(*console.Session) workflow.Outcome) (string, workflow.Outcome) {
	taskID := newTaskID()
	start := time.Now()
	r.persistStart(taskID, taskType, dev, params, start)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		out := workflow.Failure(err)
		r.persistFinish(taskID, start, out, "")
		return taskID, out
	}
	defer r.sem.Release(1)

	opts := console.Options{
		Host:           dev.Host,
		Port:           dev.Port,
		Username:       dev.Username,
		Password:       dev.Password,
		ConnectTimeout: r.cfg.SSH.ConnectTimeout,
		LoginTimeout:   r.cfg.SSH.LoginTimeout,
		LoginAttempts:  r.cfg.SSH.LoginAttempts,
	}
	if d, ok := r.cfg.DeviceDefaults[strings.ToLower(dev.Platform)]; ok && d.PromptPattern != "" {
		opts.PromptPattern = d.PromptPattern
	}
	sess, err := console.Dial(opts)
	if err != nil {
		out := workflow.Failure(err)
		r.persistFinish(taskID, start, out, "")
		return taskID, out
	}

	out := run(sess)

	ref := r.archive(ctx, taskID, taskType, dev.Host, start, sess.Transcript())
	r.persistFinish(taskID, start, out, ref)
	return taskID, out
}

// archive 归档完整会话记录，失败只记日志不影响终态
func (r *Runner) archive(ctx context.Context, taskID, taskType, host string, start time.Time, transcript string) string {
	if transcript == "" {
		return ""
	}
	obj, err := r.transcripts.Write(ctx, TranscriptMeta{
		TaskID:   taskID,
		TaskType: taskType,
		DeviceIP: host,
		Start:    start,
	}, transcript)
	if err != nil {
		logger.Warnf("task %s: transcript archive failed: %v", taskID, err)
		return ""
	}
	return obj.URI
}

func (r *Runner) persistStart(taskID, taskType string, dev DeviceTarget, params interface{}, start time.Time) {
	raw, _ := json.Marshal(params)
	task := &model.Task{
		ID:         taskID,
		Type:       taskType,
		DeviceIP:   dev.Host,
		DevicePort: dev.Port,
		Username:   dev.Username,
		Params:     string(raw),
		Status:     model.TaskStatusRunning,
		StartTime:  start,
	}
	if err := database.WithRetry(func(db *gorm.DB) error {
		return db.Create(task).Error
	}, 3, 0); err != nil {
		logger.Warnf("task %s: persist start failed: %v", taskID, err)
	}
}

func (r *Runner) persistFinish(taskID string, start time.Time, out workflow.Outcome, transcriptRef string) {
	status := model.TaskStatusUnchanged
	switch {
	case out.Failed:
		status = model.TaskStatusFailed
	case out.Changed:
		status = model.TaskStatusChanged
	}
	end := time.Now()
	updates := map[string]interface{}{
		"status":         status,
		"changed":        out.Changed,
		"result":         out.Msg,
		"transcript_ref": transcriptRef,
		"end_time":       end,
		"duration":       end.Sub(start).Milliseconds(),
	}
	if err := database.WithRetry(func(db *gorm.DB) error {
		return db.Model(&model.Task{}).Where("id = ?", taskID).Updates(updates).Error
	}, 3, 0); err != nil {
		logger.Warnf("task %s: persist finish failed: %v", taskID, err)
	}

	level := "info"
	if out.Failed {
		level = "error"
	}
	taskLog := &model.TaskLog{
		ID:      newTaskID(),
		TaskID:  taskID,
		Level:   level,
		Message: out.String(),
	}
	if err := database.WithRetry(func(db *gorm.DB) error {
		return db.Create(taskLog).Error
	}, 3, 0); err != nil {
		logger.Warnf("task %s: persist log failed: %v", taskID, err)
	}
}

// GetTask 查询任务记录
func (r *Runner) GetTask(id string) (*model.Task, error) {
	var task model.Task
	if err := database.GetDB().Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTaskLogs 查询任务日志
func (r *Runner) ListTaskLogs(taskID string) ([]model.TaskLog, error) {
	var logs []model.TaskLog
	if err := database.GetDB().Where("task_id = ?", taskID).Order("created_at asc").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *Runner) applyTransferDefaults(job *workflow.TransferJob) {
	t := r.cfg.Transfer
	if job.Scheme == "" {
		job.Scheme = t.Scheme
	}
	if job.Destination == "" {
		job.Destination = t.Destination
	}
	if job.VRF == "" {
		job.VRF = t.VRF
	}
	if job.NegotiateTimeout <= 0 {
		job.NegotiateTimeout = t.NegotiateTimeout
	}
	if job.TransferTimeout <= 0 {
		job.TransferTimeout = t.FTPTimeout
	}
}

func (r *Runner) applyBootDefaults(job *workflow.BootJob) {
	b := r.cfg.Boot
	if job.ProbeCommand == "" {
		if d, ok := r.cfg.DeviceDefaults[strings.ToLower(job.Mode)]; ok {
			job.ProbeCommand = d.ProbeCommand
		}
	}
	if len(job.ACIIdentifiers) == 0 {
		if d, ok := r.cfg.DeviceDefaults["aci"]; ok {
			job.ACIIdentifiers = d.Identifiers
		}
	}
	if len(job.NXOSIdentifiers) == 0 {
		if d, ok := r.cfg.DeviceDefaults["nxos"]; ok {
			job.NXOSIdentifiers = d.Identifiers
		}
	}
	if job.ProbeTimeout <= 0 {
		job.ProbeTimeout = b.ProbeTimeout
	}
	if job.ConfirmTimeout <= 0 {
		job.ConfirmTimeout = b.ConfirmTimeout
	}
	if job.LoaderTimeout <= 0 {
		job.LoaderTimeout = b.LoaderTimeout
	}
	if job.BootTimeout <= 0 {
		job.BootTimeout = b.BootTimeout
	}
	if job.DialogTimeout <= 0 {
		job.DialogTimeout = b.DialogTimeout
	}
	if job.Attempts <= 0 {
		job.Attempts = b.Attempts
	}
}

// newTaskID 生成随机任务ID
func newTaskID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return time.Now().Format("20060102150405") + "-" + hex.EncodeToString(buf)
}
