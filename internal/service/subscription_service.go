package service

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/repository"
)

var (
	ErrUnknownPlan          = errors.New("未知的订阅套餐")
	ErrSubscriptionNotFound = errors.New("订阅不存在")
)

// SubscriptionService 订阅生命周期状态机。
// 响应计费网关事件驱动积分发放和冻结/解冻，
// 事件为至少一次投递，所有处理路径必须幂等。
type SubscriptionService struct {
	subRepo    *repository.SubscriptionRepository
	creditRepo *repository.CreditRepository
	creditSvc  *CreditService
	freezeSvc  *FreezeService
	cfg        *config.Config
	now        func() time.Time

	// 短窗口事件去重（同一外部订阅的重复续费通知）
	mu         sync.Mutex
	recentSeen map[string]time.Time
}

func NewSubscriptionService(
	subRepo *repository.SubscriptionRepository,
	creditRepo *repository.CreditRepository,
	creditSvc *CreditService,
	freezeSvc *FreezeService,
	cfg *config.Config,
) *SubscriptionService {
	return &SubscriptionService{
		subRepo:    subRepo,
		creditRepo: creditRepo,
		creditSvc:  creditSvc,
		freezeSvc:  freezeSvc,
		cfg:        cfg,
		now:        time.Now,
		recentSeen: map[string]time.Time{},
	}
}

// GetActiveSubscription 查询用户当前生效的订阅，没有返回 nil
func (s *SubscriptionService) GetActiveSubscription(userID int64) (*model.Subscription, error) {
	sub, err := s.subRepo.GetActiveByUser(userID, s.now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// GetSubscriptionHistory 查询用户全部订阅记录
func (s *SubscriptionService) GetSubscriptionHistory(userID int64) ([]*model.Subscription, error) {
	return s.subRepo.ListByUser(userID)
}

func (s *SubscriptionService) planCredits(tier string) (int, error) {
	plan, ok := s.cfg.Subscription.Plans[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPlan, tier)
	}
	return plan.MonthlyCredits, nil
}

// seenRecently 记录并检测短窗口内的重复事件
func (s *SubscriptionService) seenRecently(key string) bool {
	window := time.Duration(s.cfg.Credits.RefillDedupeMinutes) * time.Minute
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.recentSeen[key]; ok && now.Sub(last) < window {
		return true
	}
	s.recentSeen[key] = now
	for k, v := range s.recentSeen {
		if now.Sub(v) >= window {
			delete(s.recentSeen, k)
		}
	}
	return false
}

// ProcessFirstPurchase 首次购买：创建生效订阅并发放首期积分。
// 年付额外一次性发放年付奖励积分，剩余 11 个月按月释放。
func (s *SubscriptionService) ProcessFirstPurchase(userID int64, tier, cycle, creemSubID string) (*model.Subscription, error) {
	credits, err := s.planCredits(tier)
	if err != nil {
		return nil, err
	}

	// 同一外部订阅的 created 事件重放
	if creemSubID != "" {
		if existing, err := s.subRepo.GetByCreemID(creemSubID); err == nil {
			log.Printf("订阅 %s 已存在，跳过重复的首购事件", creemSubID)
			return existing, nil
		}
	}

	now := s.now()
	sub := &model.Subscription{
		UserID:              userID,
		PlanTier:            tier,
		BillingCycle:        cycle,
		Status:              model.SubStatusActive,
		MonthlyCredits:      credits,
		StartedAt:           now,
		ExpiresAt:           now.AddDate(0, 0, CycleDays(cycle)),
		UnactivatedMonths:   CycleMonths(cycle) - 1,
		CreemSubscriptionID: creemSubID,
	}
	if err := s.subRepo.Create(sub); err != nil {
		return nil, fmt.Errorf("创建订阅失败: %w", err)
	}

	if _, err := s.creditSvc.RefillSubscriptionCredits(userID, sub.ID, credits, tier, false); err != nil {
		return nil, err
	}
	if cycle == model.CycleYearly {
		if _, err := s.creditSvc.GrantYearlyBonus(userID, sub.ID, credits, tier); err != nil {
			log.Printf("发放年付奖励失败 (订阅 %d): %v", sub.ID, err)
		}
	}

	return sub, nil
}

// ProcessRenewal 续费：不立即发放积分，累加未激活月份数，
// 由定时任务在上一期积分到期前转为实际充值。
func (s *SubscriptionService) ProcessRenewal(creemSubID string) error {
	if s.seenRecently("renewal:" + creemSubID) {
		log.Printf("订阅 %s 的续费通知在去重窗口内重复，跳过", creemSubID)
		return nil
	}

	sub, err := s.subRepo.GetByCreemID(creemSubID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		return err
	}

	// 进程重启后内存去重失效，由上次入账时间兜底
	now := s.now()
	window := time.Duration(s.cfg.Credits.RefillDedupeMinutes) * time.Minute
	if sub.LastRenewedAt != nil && now.Sub(*sub.LastRenewedAt) < window {
		log.Printf("订阅 %s 在 %v 内已续费入账，跳过重复投递", creemSubID, window)
		return nil
	}

	months := CycleMonths(sub.BillingCycle)
	if err := s.subRepo.IncrementUnactivatedMonths(sub.ID, months); err != nil {
		return fmt.Errorf("累加未激活月份失败: %w", err)
	}

	// 订阅期顺延一个计费周期
	newExpiry := sub.ExpiresAt.AddDate(0, 0, CycleDays(sub.BillingCycle))
	return s.subRepo.UpdateFields(sub.ID, map[string]interface{}{
		"expires_at":      newExpiry,
		"status":          model.SubStatusActive,
		"last_renewed_at": now,
	})
}

// ProcessPlanChange 升级/降级。
// immediate 模式：冻结旧套餐剩余价值，新套餐立即生效并发放首期积分；
// scheduled 模式：新订阅 pending，旧套餐用到自然到期后由定时任务激活。
func (s *SubscriptionService) ProcessPlanChange(userID int64, newTier, newCycle, mode, creemSubID string) (*model.Subscription, error) {
	credits, err := s.planCredits(newTier)
	if err != nil {
		return nil, err
	}

	// checkout.completed 和 subscription.active 可能携带同一外部订阅
	if creemSubID != "" {
		if existing, err := s.subRepo.GetByCreemID(creemSubID); err == nil {
			log.Printf("订阅 %s 已存在，跳过重复的套餐变更事件", creemSubID)
			return existing, nil
		}
	}

	immediate := mode != "scheduled"
	prep, err := s.freezeSvc.Prepare(userID, newTier, newCycle, credits, creemSubID, immediate)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			// 没有可被取代的订阅，按首购处理
			return s.ProcessFirstPurchase(userID, newTier, newCycle, creemSubID)
		}
		return nil, err
	}

	if !immediate {
		return prep.NewSubscription, nil
	}

	// 冻结失败不回滚已完成的套餐变更，记录后人工对账
	if err := s.freezeSvc.Freeze(prep); err != nil {
		log.Printf("冻结旧订阅 %d 的充值包失败，需人工对账: %v", prep.OldSubscription.ID, err)
	}

	if _, err := s.creditSvc.RefillSubscriptionCredits(userID, prep.NewSubscription.ID, credits, newTier, false); err != nil {
		return nil, err
	}
	if newCycle == model.CycleYearly {
		if _, err := s.creditSvc.GrantYearlyBonus(userID, prep.NewSubscription.ID, credits, newTier); err != nil {
			log.Printf("发放年付奖励失败 (订阅 %d): %v", prep.NewSubscription.ID, err)
		}
	}

	return prep.NewSubscription, nil
}

// ProcessCancellation 计费网关的取消通知。
// 订阅保留到期末，只标记取消状态，幂等。
func (s *SubscriptionService) ProcessCancellation(creemSubID, reason string) error {
	sub, err := s.subRepo.GetByCreemID(creemSubID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		return err
	}
	if sub.Status == model.SubStatusCancelled || sub.Status == model.SubStatusExpired {
		return nil
	}

	now := s.now()
	return s.subRepo.UpdateFields(sub.ID, map[string]interface{}{
		"status":              model.SubStatusCancelled,
		"cancelled_at":        now,
		"cancellation_reason": reason,
	})
}

// ProcessExpiry 计费网关的到期通知。
// 订阅置为 expired，并解冻该用户全部冻结中的充值包。
// 同一通知可能重复投递，整个流程幂等。
func (s *SubscriptionService) ProcessExpiry(creemSubID string) error {
	sub, err := s.subRepo.GetByCreemID(creemSubID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		return err
	}

	if sub.Status != model.SubStatusExpired {
		if err := s.subRepo.UpdateFields(sub.ID, map[string]interface{}{
			"status": model.SubStatusExpired,
		}); err != nil {
			return err
		}
	}

	n, err := s.freezeSvc.Unfreeze(sub.UserID)
	if err != nil {
		return fmt.Errorf("解冻用户 %d 的充值包失败: %w", sub.UserID, err)
	}
	if n > 0 {
		log.Printf("订阅 %s 到期，已解冻用户 %d 的 %d 个充值包", creemSubID, sub.UserID, n)
	}
	return nil
}

// SyncGatewayStatus 同步网关侧的订阅状态（subscription.updated）。
// 取消/到期走既有的幂等处理路径；网关侧撤销取消时恢复 active。
func (s *SubscriptionService) SyncGatewayStatus(creemSubID, status, reason string) error {
	switch status {
	case "cancelled", "canceled":
		if reason == "" {
			reason = "gateway_sync"
		}
		return s.ProcessCancellation(creemSubID, reason)
	case "expired":
		return s.ProcessExpiry(creemSubID)
	case "active", "trialing", "paid":
		sub, err := s.subRepo.GetByCreemID(creemSubID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSubscriptionNotFound
			}
			return err
		}
		if sub.Status == model.SubStatusCancelled && sub.ExpiresAt.After(s.now()) {
			return s.subRepo.UpdateFields(sub.ID, map[string]interface{}{
				"status":              model.SubStatusActive,
				"cancelled_at":        nil,
				"cancellation_reason": "",
			})
		}
		return nil
	default:
		log.Printf("网关订阅 %s 的未知状态 %q，忽略", creemSubID, status)
		return nil
	}
}

// CancelSubscription 用户主动取消
func (s *SubscriptionService) CancelSubscription(userID int64, reason string) error {
	sub, err := s.GetActiveSubscription(userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	return s.ProcessCancellation(sub.CreemSubscriptionID, reason)
}

// ActivateMonthlyCredits 定时任务：把到期的未激活月份转为实际充值。
// 当最近一笔月度充值即将到期（3 天内）或已不存在时发放下一个月，
// 并扣减一个未激活月份。
func (s *SubscriptionService) ActivateMonthlyCredits() error {
	subs, err := s.subRepo.ListActiveWithUnactivatedMonths()
	if err != nil {
		return err
	}

	now := s.now()
	threshold := now.AddDate(0, 0, 3)
	for _, sub := range subs {
		due := false
		latest, err := s.creditRepo.GetLatestRefill(sub.UserID, sub.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				due = true
			} else {
				log.Printf("查询订阅 %d 最近充值失败: %v", sub.ID, err)
				continue
			}
		} else if latest.ExpiresAt != nil && latest.ExpiresAt.Before(threshold) {
			due = true
		}
		if !due {
			continue
		}

		if _, err := s.creditSvc.RefillSubscriptionCredits(sub.UserID, sub.ID, sub.MonthlyCredits, sub.PlanTier, true); err != nil {
			log.Printf("订阅 %d 月度充值失败: %v", sub.ID, err)
			continue
		}
		if err := s.subRepo.DecrementUnactivatedMonths(sub.ID); err != nil {
			log.Printf("订阅 %d 扣减未激活月份失败: %v", sub.ID, err)
		}
	}
	return nil
}

// ActivatePendingSubscriptions 定时任务：激活到期的 pending 订阅
// （scheduled 模式的降级/变更），激活时发放首期积分。
func (s *SubscriptionService) ActivatePendingSubscriptions() error {
	subs, err := s.subRepo.ListPendingDue(s.now())
	if err != nil {
		return err
	}

	now := s.now()
	for _, sub := range subs {
		if err := s.subRepo.UpdateFields(sub.ID, map[string]interface{}{
			"status":       model.SubStatusActive,
			"activated_at": now,
		}); err != nil {
			log.Printf("激活订阅 %d 失败: %v", sub.ID, err)
			continue
		}
		if _, err := s.creditSvc.RefillSubscriptionCredits(sub.UserID, sub.ID, sub.MonthlyCredits, sub.PlanTier, false); err != nil {
			log.Printf("订阅 %d 激活充值失败: %v", sub.ID, err)
		}
		if sub.BillingCycle == model.CycleYearly {
			if _, err := s.creditSvc.GrantYearlyBonus(sub.UserID, sub.ID, sub.MonthlyCredits, sub.PlanTier); err != nil {
				log.Printf("订阅 %d 年付奖励失败: %v", sub.ID, err)
			}
		}
	}
	return nil
}

// ExpireOverdueSubscriptions 定时任务：过期未收到网关通知的订阅兜底。
// 置为 expired 并解冻用户的冻结充值包。
func (s *SubscriptionService) ExpireOverdueSubscriptions() (int, error) {
	subs, err := s.subRepo.ListActiveExpiredBefore(s.now())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, sub := range subs {
		if err := s.subRepo.UpdateFields(sub.ID, map[string]interface{}{
			"status": model.SubStatusExpired,
		}); err != nil {
			log.Printf("过期订阅 %d 失败: %v", sub.ID, err)
			continue
		}
		if _, err := s.freezeSvc.Unfreeze(sub.UserID); err != nil {
			log.Printf("解冻用户 %d 充值包失败: %v", sub.UserID, err)
		}
		count++
	}
	return count, nil
}
