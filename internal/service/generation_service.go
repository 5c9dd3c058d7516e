package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/pkg/queue"
	"github.com/qs3c/artgen_go_server/internal/repository"
)

var (
	ErrConcurrentLimitExceeded = errors.New("并发任务数已达套餐上限")
	ErrTaskNotFound            = errors.New("生成任务不存在")
	ErrDuplicateRefund         = errors.New("该任务已退款")
)

// TaskQueue 生成任务投递接口，*queue.Queue 是生产实现
type TaskQueue interface {
	Push(ctx context.Context, msg *queue.TaskMessage) error
}

// ConcurrencyStatus 并发额度检查结果
type ConcurrencyStatus struct {
	CanCreate bool `json:"can_create"`
	Limit     int  `json:"limit"`
	Current   int  `json:"current"`
}

// CreateTaskParams 创建生成任务参数
type CreateTaskParams struct {
	UserID     int64
	TaskType   string
	Prompt     string
	SourceURL  string
	Duration   int
	Resolution string
}

type GenerationService struct {
	genRepo   *repository.GenerationRepository
	subRepo   *repository.SubscriptionRepository
	creditSvc *CreditService
	taskQueue TaskQueue
	cfg       *config.Config
	now       func() time.Time
}

func NewGenerationService(
	genRepo *repository.GenerationRepository,
	subRepo *repository.SubscriptionRepository,
	creditSvc *CreditService,
	taskQueue TaskQueue,
	cfg *config.Config,
) *GenerationService {
	return &GenerationService{
		genRepo:   genRepo,
		subRepo:   subRepo,
		creditSvc: creditSvc,
		taskQueue: taskQueue,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CheckConcurrentLimit 并发额度检查。
// 上限取自当前生效订阅的套餐配置，无订阅或未知套餐按 1 处理。
// 检查和创建之间没有锁，属于尽力而为的准入控制。
func (s *GenerationService) CheckConcurrentLimit(userID int64) (*ConcurrencyStatus, error) {
	limit := 1
	sub, err := s.subRepo.GetActiveByUser(userID, s.now())
	if err == nil {
		if plan, ok := s.cfg.Subscription.Plans[sub.PlanTier]; ok && plan.ConcurrentLimit > 0 {
			limit = plan.ConcurrentLimit
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	current, err := s.genRepo.CountInFlight(userID)
	if err != nil {
		return nil, err
	}

	return &ConcurrencyStatus{
		CanCreate: current < limit,
		Limit:     limit,
		Current:   current,
	}, nil
}

// TaskCost 按任务类型计算积分成本。
// 视频按秒计价，1080p 上浮 50%，向上取整。
func (s *GenerationService) TaskCost(taskType string, duration int, resolution string) int {
	switch taskType {
	case model.GenTextToImage:
		return s.cfg.Credits.TextToImageCost
	case model.GenImageToImage:
		return s.cfg.Credits.ImageToImageCost
	case model.GenVideo:
		cost := float64(s.cfg.Credits.VideoPerSecondCost * duration)
		if resolution == "1080p" {
			cost *= s.cfg.Credits.Video1080pMultiplier
		}
		return int(math.Ceil(cost))
	default:
		return 0
	}
}

// CreateTask 创建生成任务：并发检查 -> 扣积分 -> 入库 -> 入队
func (s *GenerationService) CreateTask(ctx context.Context, params CreateTaskParams) (*model.GenerationTask, error) {
	status, err := s.CheckConcurrentLimit(params.UserID)
	if err != nil {
		return nil, err
	}
	if !status.CanCreate {
		return nil, ErrConcurrentLimitExceeded
	}

	cost := s.TaskCost(params.TaskType, params.Duration, params.Resolution)
	if cost <= 0 {
		return nil, fmt.Errorf("未知的任务类型: %s", params.TaskType)
	}

	task := &model.GenerationTask{
		UserID:     params.UserID,
		TaskType:   params.TaskType,
		Prompt:     params.Prompt,
		SourceURL:  params.SourceURL,
		Duration:   params.Duration,
		Resolution: params.Resolution,
		CreditCost: cost,
		Status:     model.GenStatusPending,
	}
	if err := s.genRepo.Create(task); err != nil {
		return nil, fmt.Errorf("创建任务失败: %w", err)
	}

	result, err := s.creditSvc.Consume(params.UserID, cost, params.TaskType, &task.ID, model.EntityGeneration, taskDescription(params.TaskType))
	if err != nil || !result.Success {
		// 扣费失败的任务直接作废，不计入并发额度
		if derr := s.genRepo.UpdateStatus(task.ID, model.GenStatusCancelled); derr != nil {
			log.Printf("作废任务 %d 失败: %v", task.ID, derr)
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrInsufficientCredits
	}

	if err := s.taskQueue.Push(ctx, &queue.TaskMessage{
		TaskID:     task.ID,
		UserID:     task.UserID,
		TaskType:   task.TaskType,
		Prompt:     task.Prompt,
		SourceURL:  task.SourceURL,
		Duration:   task.Duration,
		Resolution: task.Resolution,
	}); err != nil {
		// 入队失败：任务置为失败并退还积分
		if ferr := s.FailTask(task.ID, "任务入队失败"); ferr != nil {
			log.Printf("回滚任务 %d 失败: %v", task.ID, ferr)
		}
		return nil, fmt.Errorf("任务入队失败: %w", err)
	}

	return task, nil
}

// GetTask 查询任务，校验归属
func (s *GenerationService) GetTask(userID, taskID int64) (*model.GenerationTask, error) {
	task, err := s.genRepo.GetByID(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// ListTasks 分页查询用户任务
func (s *GenerationService) ListTasks(userID int64, page, pageSize int) ([]*model.GenerationTask, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.genRepo.ListByUser(userID, pageSize, (page-1)*pageSize)
}

// StartTask worker 开始处理任务
func (s *GenerationService) StartTask(taskID int64) error {
	now := s.now()
	return s.genRepo.UpdateFields(taskID, map[string]interface{}{
		"status":     model.GenStatusProcessing,
		"started_at": now,
	})
}

// CompleteTask worker 完成任务
func (s *GenerationService) CompleteTask(taskID int64, resultURL string) error {
	now := s.now()
	return s.genRepo.UpdateFields(taskID, map[string]interface{}{
		"status":       model.GenStatusCompleted,
		"result_url":   resultURL,
		"completed_at": now,
	})
}

// FailTask 任务失败：标记失败并退还积分
func (s *GenerationService) FailTask(taskID int64, errMsg string) error {
	now := s.now()
	if err := s.genRepo.UpdateFields(taskID, map[string]interface{}{
		"status":        model.GenStatusFailed,
		"error_message": errMsg,
		"completed_at":  now,
	}); err != nil {
		return err
	}

	if _, err := s.RefundFailedTask(taskID); err != nil && !errors.Is(err, ErrDuplicateRefund) {
		return err
	}
	return nil
}

// RefundFailedTask 失败任务退款。
// 同一任务只退一次，重复调用返回 ErrDuplicateRefund。
func (s *GenerationService) RefundFailedTask(taskID int64) (int64, error) {
	task, err := s.genRepo.GetByID(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrTaskNotFound
		}
		return 0, err
	}

	refunded, err := s.creditSvc.creditRepo.HasRefundForTask(taskID)
	if err != nil {
		return 0, err
	}
	if refunded {
		return 0, ErrDuplicateRefund
	}

	txType := model.TxRefund
	if task.TaskType == model.GenVideo {
		txType = model.TxVideoRefund
	}
	return s.creditSvc.Refund(task.UserID, taskID, task.CreditCost, txType,
		fmt.Sprintf("任务 %d 失败退款", taskID))
}

func taskDescription(taskType string) string {
	switch taskType {
	case model.GenTextToImage:
		return "文生图"
	case model.GenImageToImage:
		return "图生图"
	case model.GenVideo:
		return "视频生成"
	default:
		return taskType
	}
}
