package model

import (
	"time"
)

// 生成任务类型
const (
	GenTextToImage  = "text_to_image"
	GenImageToImage = "image_to_image"
	GenVideo        = "video_generation"
)

// 生成任务状态
const (
	GenStatusPending    = "pending"
	GenStatusProcessing = "processing"
	GenStatusCompleted  = "completed"
	GenStatusFailed     = "failed"
	GenStatusCancelled  = "cancelled"
)

// GenerationTask 图片/视频生成任务。pending 和 processing 状态的任务
// 计入用户的并发额度。
type GenerationTask struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	UserID       int64      `gorm:"not null;index" json:"user_id"`
	TaskType     string     `gorm:"size:30;not null" json:"task_type"`
	Prompt       string     `gorm:"type:text" json:"prompt"`
	SourceURL    string     `gorm:"size:500" json:"source_url,omitempty"` // 图生图的原图
	Duration     int        `json:"duration,omitempty"`                   // 视频时长（秒）
	Resolution   string     `gorm:"size:10" json:"resolution,omitempty"`  // 720p, 1080p
	CreditCost   int        `gorm:"not null" json:"credit_cost"`
	Status       string     `gorm:"size:20;default:pending;index" json:"status"`
	ResultURL    string     `gorm:"size:500" json:"result_url,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (GenerationTask) TableName() string {
	return "generation_tasks"
}

// InFlight 是否占用并发额度
func (t *GenerationTask) InFlight() bool {
	return t.Status == GenStatusPending || t.Status == GenStatusProcessing
}
