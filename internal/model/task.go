package model

import (
	"time"
)

// Task 工作流任务记录
type Task struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Type       string    `json:"type" gorm:"type:varchar(32);not null;index"`
	DeviceIP   string    `json:"device_ip" gorm:"type:varchar(64);not null;index"`
	DevicePort int       `json:"device_port" gorm:"not null;default:22"`
	Username   string    `json:"username" gorm:"type:varchar(64);not null"`
	Params     string    `json:"params" gorm:"type:text"`
	Status     string    `json:"status" gorm:"type:varchar(16);not null;default:'pending'"`
	// Changed 工作流终态：是否发生了变更
	Changed bool `json:"changed"`
	// Result 终态摘要；失败时为失败原因
	Result        string    `json:"result" gorm:"type:text"`
	TranscriptRef string    `json:"transcript_ref" gorm:"type:varchar(512)"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Duration      int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Task) TableName() string {
	return "tasks"
}

// TaskStatus 任务状态枚举
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusUnchanged = "unchanged"
	TaskStatusChanged   = "changed"
	TaskStatusFailed    = "failed"
)

// TaskType 任务类型枚举
const (
	TaskTypeTransfer = "transfer"
	TaskTypeBoot     = "boot"
)

// TaskLog 任务日志
type TaskLog struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	TaskID    string    `json:"task_id" gorm:"type:varchar(64);not null;index"`
	Level     string    `json:"level" gorm:"type:varchar(16);not null"`
	Message   string    `json:"message" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (TaskLog) TableName() string {
	return "task_logs"
}
