package model

import (
	"time"
)

// 订阅状态
const (
	SubStatusPending   = "pending"
	SubStatusActive    = "active"
	SubStatusFrozen    = "frozen"
	SubStatusCancelled = "cancelled"
	SubStatusExpired   = "expired"
)

// 套餐等级
const (
	PlanBasic = "basic"
	PlanPro   = "pro"
	PlanMax   = "max"
)

// 计费周期
const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
)

// Subscription 订阅记录，一个计费期一行。
// 正常情况下每个用户最多一个 active 订阅；升级/降级过渡期内
// 可能同时存在一个 active 和一个 cancelled/pending 订阅。
type Subscription struct {
	ID             int64      `gorm:"primaryKey" json:"id"`
	UserID         int64      `gorm:"not null;index" json:"user_id"`
	PlanTier       string     `gorm:"size:20;not null" json:"plan_tier"`       // basic, pro, max
	BillingCycle   string     `gorm:"size:20;not null" json:"billing_cycle"`   // monthly, yearly
	Status         string     `gorm:"size:20;default:active;index" json:"status"`
	MonthlyCredits int        `gorm:"not null" json:"monthly_credits"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	ExpiresAt      time.Time  `gorm:"not null;index" json:"expires_at"`

	// 年付按月释放：已付费但未充值的月份数
	UnactivatedMonths int `gorm:"default:0" json:"unactivated_months"`

	// 最近一次续费入账时间，重复投递跨进程去重用
	LastRenewedAt *time.Time `json:"last_renewed_at,omitempty"`

	// scheduled 模式：pending 订阅的激活时间
	ActivationDate *time.Time `json:"activation_date,omitempty"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`

	// immediate 模式：被新订阅取代时冻结的剩余时长
	FrozenRemainingSeconds int64 `json:"frozen_remaining_seconds,omitempty"`
	IsTimeFrozen           bool  `gorm:"default:false" json:"is_time_frozen"`

	CreemSubscriptionID string     `gorm:"size:100;index" json:"creem_subscription_id,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason  string     `gorm:"size:200" json:"cancellation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "user_subscriptions"
}

func (s *Subscription) IsActive() bool {
	return s.Status == SubStatusActive
}
