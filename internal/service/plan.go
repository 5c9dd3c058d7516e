package service

import (
	"time"

	"github.com/qs3c/artgen_go_server/internal/model"
)

// 套餐变更动作
const (
	PlanActionNew       = "new"
	PlanActionRenewal   = "renewal"
	PlanActionUpgrade   = "upgrade"
	PlanActionDowngrade = "downgrade"
)

var planRank = map[string]int{
	model.PlanBasic: 1,
	model.PlanPro:   2,
	model.PlanMax:   3,
}

// DeterminePlanAction 根据当前订阅和目标套餐判断变更类型。
// 同级别切换计费周期按升级处理（走冻结流程，保留旧周期剩余价值）。
func DeterminePlanAction(current *model.Subscription, newTier, newCycle string) string {
	if current == nil {
		return PlanActionNew
	}
	if current.PlanTier == newTier && current.BillingCycle == newCycle {
		return PlanActionRenewal
	}
	if planRank[newTier] < planRank[current.PlanTier] {
		return PlanActionDowngrade
	}
	return PlanActionUpgrade
}

// CycleDays 计费周期对应的订阅期天数
func CycleDays(cycle string) int {
	if cycle == model.CycleYearly {
		return 365
	}
	return 30
}

// CycleMonths 计费周期对应的付费月份数
func CycleMonths(cycle string) int {
	if cycle == model.CycleYearly {
		return 12
	}
	return 1
}

// activationDelayDays 冻结期间 pending 月份的激活顺延天数（按月释放口径：30天/月）
func activationDelayDays(cycle string) int {
	if cycle == model.CycleYearly {
		return 360
	}
	return 30
}

// ExtendExpiry 被取代订阅的顺延到期时间：原到期时间加一个新套餐周期，
// 与其冻结充值包的解冻时间线对齐
func ExtendExpiry(expiresAt time.Time, newCycle string) time.Time {
	return expiresAt.AddDate(0, 0, CycleDays(newCycle))
}

// RemainingSeconds 订阅到自然到期的剩余秒数，已到期返回 0
func RemainingSeconds(sub *model.Subscription, now time.Time) int64 {
	if !sub.ExpiresAt.After(now) {
		return 0
	}
	return int64(sub.ExpiresAt.Sub(now).Seconds())
}
