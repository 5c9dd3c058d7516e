package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/repository"
)

var (
	ErrNoActiveSubscription = errors.New("用户没有生效中的订阅")
	ErrNotPrepared          = errors.New("冻结前必须先完成 Prepare")
)

// PrepareResult 套餐变更两阶段协议的第一阶段产物。
// Freeze 只接受 Prepare 的返回值，保证调用顺序由类型约束而非约定。
type PrepareResult struct {
	OldSubscription *model.Subscription
	NewSubscription *model.Subscription
	// FrozenGrant 旧订阅的 FIFO 充值包，可能为 nil（已消费完或已过期）
	FrozenGrant *model.CreditTransaction
	Immediate   bool
}

// FreezeService 套餐升级/降级期间的充值包冻结与恢复。
// 冻结把旧套餐的剩余价值从余额中移出但不销毁，
// 新订阅到期/取消时整体恢复。
type FreezeService struct {
	creditRepo *repository.CreditRepository
	subRepo    *repository.SubscriptionRepository
	now        func() time.Time
}

func NewFreezeService(creditRepo *repository.CreditRepository, subRepo *repository.SubscriptionRepository) *FreezeService {
	return &FreezeService{
		creditRepo: creditRepo,
		subRepo:    subRepo,
		now:        time.Now,
	}
}

// Prepare 第一阶段。immediate 模式：取消旧订阅并顺延其到期时间，
// 创建立即生效的新订阅，定位待冻结的充值包；scheduled 模式：
// 旧订阅保持 active 用到自然到期，只创建 pending 新订阅，
// 激活时间为旧订阅的到期日。
func (s *FreezeService) Prepare(userID int64, newTier, newCycle string, monthlyCredits int, creemSubID string, immediate bool) (*PrepareResult, error) {
	now := s.now()

	oldSub, err := s.subRepo.GetActiveByUser(userID, now)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}

	if immediate {
		// 旧订阅标记为被取代，剩余时长快照留作审计；
		// 到期时间顺延一个新套餐周期，与冻结包的解冻时间线对齐
		if err := s.subRepo.UpdateFields(oldSub.ID, map[string]interface{}{
			"status":                   model.SubStatusCancelled,
			"cancelled_at":             now,
			"cancellation_reason":      "plan_change",
			"expires_at":               ExtendExpiry(oldSub.ExpiresAt, newCycle),
			"frozen_remaining_seconds": RemainingSeconds(oldSub, now),
			"is_time_frozen":           true,
		}); err != nil {
			return nil, fmt.Errorf("取消旧订阅失败: %w", err)
		}
	}

	newSub := &model.Subscription{
		UserID:              userID,
		PlanTier:            newTier,
		BillingCycle:        newCycle,
		MonthlyCredits:      monthlyCredits,
		CreemSubscriptionID: creemSubID,
		UnactivatedMonths:   CycleMonths(newCycle) - 1,
	}
	if immediate {
		newSub.Status = model.SubStatusActive
		newSub.StartedAt = now
		newSub.ExpiresAt = now.AddDate(0, 0, CycleDays(newCycle))
	} else {
		newSub.Status = model.SubStatusPending
		newSub.StartedAt = oldSub.ExpiresAt
		newSub.ExpiresAt = oldSub.ExpiresAt.AddDate(0, 0, CycleDays(newCycle))
		activationDate := oldSub.ExpiresAt
		newSub.ActivationDate = &activationDate
	}
	if err := s.subRepo.Create(newSub); err != nil {
		return nil, fmt.Errorf("创建新订阅失败: %w", err)
	}

	result := &PrepareResult{
		OldSubscription: oldSub,
		NewSubscription: newSub,
		Immediate:       immediate,
	}

	grant, err := s.creditRepo.GetFifoGrant(userID, oldSub.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// 旧订阅没有可冻结的充值包，合法状态
	} else {
		result.FrozenGrant = grant
	}

	return result, nil
}

// Freeze 第二阶段（仅 immediate 模式）：冻结旧订阅的充值包。
// 记录冻结时刻的剩余秒数和原到期时间，并把到期时间推到
// 新订阅结束之后，保证解冻后剩余有效期与冻结前一致。
func (s *FreezeService) Freeze(prep *PrepareResult) error {
	if prep == nil || prep.NewSubscription == nil {
		return ErrNotPrepared
	}
	if !prep.Immediate {
		return nil
	}

	now := s.now()
	frozenUntil := prep.NewSubscription.ExpiresAt

	if prep.FrozenGrant != nil && prep.FrozenGrant.ExpiresAt != nil && prep.FrozenGrant.ExpiresAt.After(now) {
		g := prep.FrozenGrant
		remainingSeconds := int64(g.ExpiresAt.Sub(now).Seconds())
		newExpiresAt := frozenUntil.Add(time.Duration(remainingSeconds) * time.Second)
		reason := fmt.Sprintf("套餐变更冻结 (订阅 %d -> %d)", prep.OldSubscription.ID, prep.NewSubscription.ID)

		if err := s.creditRepo.Freeze(g.ID, frozenUntil, newExpiresAt, remainingSeconds, g.ExpiresAt, reason); err != nil {
			return fmt.Errorf("冻结充值包失败: %w", err)
		}
	}

	// 旧订阅的未激活月份顺延一个新订阅周期，避免冻结期间提前激活
	pending, err := s.creditRepo.ListPendingBySubscription(prep.OldSubscription.UserID, prep.OldSubscription.ID)
	if err != nil {
		return err
	}
	delay := activationDelayDays(prep.NewSubscription.BillingCycle)
	for _, p := range pending {
		if p.ActivateAt == nil {
			continue
		}
		if err := s.creditRepo.DelayActivation(p.ID, p.ActivateAt.AddDate(0, 0, delay)); err != nil {
			log.Printf("顺延充值包 %d 激活时间失败: %v", p.ID, err)
		}
	}

	return nil
}

// Unfreeze 解冻用户全部冻结中的充值包。
// 只清除冻结标记，剩余额度和到期时间保持冻结时的值，幂等。
func (s *FreezeService) Unfreeze(userID int64) (int64, error) {
	return s.creditRepo.UnfreezeAll(userID)
}
