package dto

// CreateTaskRequest 创建生成任务请求
type CreateTaskRequest struct {
	TaskType   string `json:"task_type" binding:"required,oneof=text_to_image image_to_image video_generation"`
	Prompt     string `json:"prompt" binding:"required,max=2000"`
	SourceURL  string `json:"source_url" binding:"omitempty,url"`
	Duration   int    `json:"duration" binding:"omitempty,min=1,max=60"`
	Resolution string `json:"resolution" binding:"omitempty,oneof=720p 1080p"`
}

// CreateTaskResponse 创建任务响应
type CreateTaskResponse struct {
	TaskID     int64  `json:"task_id"`
	Status     string `json:"status"`
	CreditCost int    `json:"credit_cost"`
	Remaining  int    `json:"remaining_credits"`
}

// ConcurrencyInfo 并发额度
type ConcurrencyInfo struct {
	CanCreate bool `json:"can_create"`
	Limit     int  `json:"limit"`
	Current   int  `json:"current"`
}
