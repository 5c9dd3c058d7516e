package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/pkg/queue"
	"github.com/qs3c/artgen_go_server/internal/pkg/userlock"
	"github.com/qs3c/artgen_go_server/internal/repository"
	"github.com/qs3c/artgen_go_server/internal/testutil"
)

// fakeQueue 测试用内存队列
type fakeQueue struct {
	messages []*queue.TaskMessage
	pushErr  error
}

func (f *fakeQueue) Push(_ context.Context, msg *queue.TaskMessage) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.messages = append(f.messages, msg)
	return nil
}

func newGenerationService(t *testing.T) (*GenerationService, *CreditService, *fakeQueue, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	cfg := config.Default()
	creditSvc := NewCreditService(repository.NewCreditRepository(db), userlock.New(), cfg)
	fq := &fakeQueue{}
	svc := NewGenerationService(
		repository.NewGenerationRepository(db),
		repository.NewSubscriptionRepository(db),
		creditSvc, fq, cfg)
	return svc, creditSvc, fq, db
}

func TestCheckConcurrentLimit(t *testing.T) {
	svc, _, _, db := newGenerationService(t)
	user := testutil.TestUser(t, db)
	testutil.TestSubscription(t, db, user.ID, testutil.WithPlan(model.PlanBasic, 150))

	// basic 套餐上限 1，已有 1 个处理中的任务
	testutil.TestTask(t, db, user.ID, model.GenTextToImage, model.GenStatusProcessing, 1)

	status, err := svc.CheckConcurrentLimit(user.ID)
	require.NoError(t, err)
	assert.False(t, status.CanCreate)
	assert.Equal(t, 1, status.Limit)
	assert.Equal(t, 1, status.Current)
}

func TestCheckConcurrentLimit_NoSubscriptionDefaultsToOne(t *testing.T) {
	svc, _, _, db := newGenerationService(t)
	user := testutil.TestUser(t, db)

	status, err := svc.CheckConcurrentLimit(user.ID)
	require.NoError(t, err)
	assert.True(t, status.CanCreate)
	assert.Equal(t, 1, status.Limit)
	assert.Equal(t, 0, status.Current)
}

func TestCheckConcurrentLimit_CompletedTasksDontCount(t *testing.T) {
	svc, _, _, db := newGenerationService(t)
	user := testutil.TestUser(t, db)
	testutil.TestSubscription(t, db, user.ID, testutil.WithPlan(model.PlanPro, 800))

	testutil.TestTask(t, db, user.ID, model.GenTextToImage, model.GenStatusCompleted, 1)
	testutil.TestTask(t, db, user.ID, model.GenTextToImage, model.GenStatusFailed, 1)
	testutil.TestTask(t, db, user.ID, model.GenVideo, model.GenStatusPending, 50)

	status, err := svc.CheckConcurrentLimit(user.ID)
	require.NoError(t, err)
	assert.True(t, status.CanCreate)
	assert.Equal(t, 2, status.Limit)
	assert.Equal(t, 1, status.Current)
}

func TestTaskCost(t *testing.T) {
	svc, _, _, _ := newGenerationService(t)

	assert.Equal(t, 1, svc.TaskCost(model.GenTextToImage, 0, ""))
	assert.Equal(t, 2, svc.TaskCost(model.GenImageToImage, 0, ""))
	// 视频 10 积分/秒
	assert.Equal(t, 50, svc.TaskCost(model.GenVideo, 5, "720p"))
	// 1080p 上浮 50%
	assert.Equal(t, 75, svc.TaskCost(model.GenVideo, 5, "1080p"))
	assert.Equal(t, 0, svc.TaskCost("unknown", 0, ""))
}

func TestCreateTask(t *testing.T) {
	svc, creditSvc, fq, db := newGenerationService(t)
	user := testutil.TestUser(t, db)
	testutil.TestGrant(t, db, user.ID, 100)

	task, err := svc.CreateTask(context.Background(), CreateTaskParams{
		UserID:   user.ID,
		TaskType: model.GenImageToImage,
		Prompt:   "watercolor style",
	})
	require.NoError(t, err)
	assert.Equal(t, model.GenStatusPending, task.Status)
	assert.Equal(t, 2, task.CreditCost)

	// 积分已扣，消息已入队
	assert.Equal(t, 98, creditSvc.GetAvailableCredits(user.ID))
	require.Len(t, fq.messages, 1)
	assert.Equal(t, task.ID, fq.messages[0].TaskID)
}

func TestCreateTask_InsufficientCredits(t *testing.T) {
	svc, creditSvc, fq, db := newGenerationService(t)
	user := testutil.TestUser(t, db)
	testutil.TestGrant(t, db, user.ID, 10)

	_, err := svc.CreateTask(context.Background(), CreateTaskParams{
		UserID:   user.ID,
		TaskType: model.GenVideo,
		Duration: 5,
	})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	// 不扣积分、不入队，作废的任务不占并发额度
	assert.Equal(t, 10, creditSvc.GetAvailableCredits(user.ID))
	assert.Empty(t, fq.messages)

	status, err := svc.CheckConcurrentLimit(user.ID)
	require.NoError(t, err)
	assert.Zero(t, status.Current)
}

func TestCreateTask_ConcurrentLimit(t *testing.T) {
	svc, creditSvc, _, db := newGenerationService(t)
	user := testutil.TestUser(t, db)
	testutil.TestSubscription(t, db, user.ID, testutil.WithPlan(model.PlanBasic, 150))
	testutil.TestGrant(t, db, user.ID, 100)
	testutil.TestTask(t, db, user.ID, model.GenVideo, model.GenStatusProcessing, 50)

	_, err := svc.CreateTask(context.Background(), CreateTaskParams{
		UserID:   user.ID,
		TaskType: model.GenTextToImage,
	})
	assert.ErrorIs(t, err, ErrConcurrentLimitExceeded)
	assert.Equal(t, 100, creditSvc.GetAvailableCredits(user.ID))
}

func TestCreateTask_EnqueueFailureRefunds(t *testing.T) {
	svc, creditSvc, fq, db := newGenerationService(t)
	user := testutil.TestUser(t, db)
	testutil.TestGrant(t, db, user.ID, 100)
	fq.pushErr = errors.New("redis down")

	_, err := svc.CreateTask(context.Background(), CreateTaskParams{
		UserID:   user.ID,
		TaskType: model.GenImageToImage,
	})
	require.Error(t, err)

	// 扣掉的 2 积分以退款形式返还
	assert.Equal(t, 100, creditSvc.GetAvailableCredits(user.ID))

	var refund model.CreditTransaction
	require.NoError(t, db.Where("user_id = ? AND transaction_type = ?", user.ID, model.TxRefund).
		First(&refund).Error)
	assert.Equal(t, 2, refund.Amount)
}

func TestFailTask_RefundsOnce(t *testing.T) {
	svc, creditSvc, _, db := newGenerationService(t)
	user := testutil.TestUser(t, db)
	task := testutil.TestTask(t, db, user.ID, model.GenVideo, model.GenStatusProcessing, 50)

	require.NoError(t, svc.FailTask(task.ID, "模型超时"))

	var updated model.GenerationTask
	require.NoError(t, db.First(&updated, task.ID).Error)
	assert.Equal(t, model.GenStatusFailed, updated.Status)
	assert.Equal(t, "模型超时", updated.ErrorMessage)

	// 视频任务按 video_refund 退款
	assert.Equal(t, 50, creditSvc.GetAvailableCredits(user.ID))
	var refund model.CreditTransaction
	require.NoError(t, db.Where("transaction_type = ?", model.TxVideoRefund).First(&refund).Error)
	assert.Equal(t, 50, refund.Amount)

	// 重复退款被拒绝
	_, err := svc.RefundFailedTask(task.ID)
	assert.ErrorIs(t, err, ErrDuplicateRefund)
	assert.Equal(t, 50, creditSvc.GetAvailableCredits(user.ID))
}

func TestRefundFailedTask_NotFound(t *testing.T) {
	svc, _, _, _ := newGenerationService(t)

	_, err := svc.RefundFailedTask(99999)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
