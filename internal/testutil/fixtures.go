package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	email := fmt.Sprintf("test_%d@example.com", time.Now().UnixNano())
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		Username:      fmt.Sprintf("testuser_%d", time.Now().UnixNano()%100000000),
		Email:         &email,
		PasswordHash:  &passwordHash,
		EmailVerified: true,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = &email
	}
}

// TestGrant 创建测试充值包
func TestGrant(t *testing.T, db *gorm.DB, userID int64, amount int, opts ...func(*model.CreditTransaction)) *model.CreditTransaction {
	t.Helper()

	record := &model.CreditTransaction{
		UserID:          userID,
		TransactionType: model.TxPackagePurchase,
		Amount:          amount,
		RemainingAmount: amount,
	}

	for _, opt := range opts {
		opt(record)
	}

	if err := db.Create(record).Error; err != nil {
		t.Fatalf("Failed to create test grant: %v", err)
	}

	return record
}

// WithExpiry 设置过期时间
func WithExpiry(expiresAt time.Time) func(*model.CreditTransaction) {
	return func(tx *model.CreditTransaction) {
		tx.ExpiresAt = &expiresAt
	}
}

// WithTxType 设置交易类型
func WithTxType(txType string) func(*model.CreditTransaction) {
	return func(tx *model.CreditTransaction) {
		tx.TransactionType = txType
	}
}

// WithRelatedEntity 设置关联实体
func WithRelatedEntity(entityType string, entityID int64) func(*model.CreditTransaction) {
	return func(tx *model.CreditTransaction) {
		tx.RelatedEntityType = entityType
		tx.RelatedEntityID = &entityID
	}
}

// WithRemaining 设置剩余额度（部分消费过的包）
func WithRemaining(remaining int) func(*model.CreditTransaction) {
	return func(tx *model.CreditTransaction) {
		tx.RemainingAmount = remaining
	}
}

// WithFrozen 设置冻结状态
func WithFrozen(frozenUntil time.Time, remainingSeconds int64) func(*model.CreditTransaction) {
	return func(tx *model.CreditTransaction) {
		tx.IsFrozen = true
		tx.FrozenUntil = &frozenUntil
		tx.FrozenRemainingSeconds = remainingSeconds
	}
}

// WithPending 设置未激活状态
func WithPending(activateAt time.Time) func(*model.CreditTransaction) {
	return func(tx *model.CreditTransaction) {
		tx.IsPending = true
		tx.ActivateAt = &activateAt
	}
}

// TestSubscription 创建测试订阅
func TestSubscription(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Subscription)) *model.Subscription {
	t.Helper()

	now := time.Now()
	sub := &model.Subscription{
		UserID:         userID,
		PlanTier:       model.PlanBasic,
		BillingCycle:   model.CycleMonthly,
		Status:         model.SubStatusActive,
		MonthlyCredits: 150,
		StartedAt:      now,
		ExpiresAt:      now.Add(30 * 24 * time.Hour),
	}

	for _, opt := range opts {
		opt(sub)
	}

	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}

	return sub
}

// WithPlan 设置套餐和积分额度
func WithPlan(tier string, monthlyCredits int) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.PlanTier = tier
		s.MonthlyCredits = monthlyCredits
	}
}

// WithCycle 设置计费周期
func WithCycle(cycle string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.BillingCycle = cycle
	}
}

// WithSubStatus 设置订阅状态
func WithSubStatus(status string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.Status = status
	}
}

// WithSubExpiry 设置订阅到期时间
func WithSubExpiry(expiresAt time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.ExpiresAt = expiresAt
	}
}

// WithCreemID 设置 Creem 订阅ID
func WithCreemID(creemID string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.CreemSubscriptionID = creemID
	}
}

// WithUnactivatedMonths 设置未激活月份数
func WithUnactivatedMonths(months int) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.UnactivatedMonths = months
	}
}

// TestTask 创建测试生成任务
func TestTask(t *testing.T, db *gorm.DB, userID int64, taskType, status string, creditCost int) *model.GenerationTask {
	t.Helper()

	task := &model.GenerationTask{
		UserID:     userID,
		TaskType:   taskType,
		Prompt:     "a cat wearing sunglasses",
		CreditCost: creditCost,
		Status:     status,
	}

	if err := db.Create(task).Error; err != nil {
		t.Fatalf("Failed to create test task: %v", err)
	}

	return task
}
