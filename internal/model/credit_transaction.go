package model

import (
	"time"
)

// 积分交易类型
const (
	TxTrial               = "trial"
	TxRegisterBonus       = "register_bonus"
	TxPackagePurchase     = "package_purchase"
	TxSubscriptionRefill  = "subscription_refill"
	TxSubscriptionBonus   = "subscription_bonus"
	TxSubscriptionUpgrade = "subscription_upgrade"
	TxAdminAdjustment     = "admin_adjustment"
	TxRefund              = "refund"
	TxVideoRefund         = "video_refund"
	TxTextToImage         = "text_to_image"
	TxImageToImage        = "image_to_image"
	TxVideoGeneration     = "video_generation"
	TxVideoExtension      = "video_extension"
	TxMilestoneReward     = "milestone_reward"
)

// 关联实体类型
const (
	EntitySubscription = "subscription"
	EntityOrder        = "order"
	EntityGeneration   = "generation"
	EntityAdmin        = "admin"
)

// CreditTransaction 积分账本条目。
// amount > 0 为充值包（grant），remaining_amount 记录未消费部分；
// amount < 0 为消费记录，remaining_amount 恒为 0。
// 余额 = 未冻结、未pending、未过期充值包的 remaining_amount 之和。
type CreditTransaction struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	UserID          int64      `gorm:"not null;index" json:"user_id"`
	TransactionType string     `gorm:"size:50;not null;index" json:"transaction_type"`
	Amount          int        `gorm:"not null" json:"amount"`
	RemainingAmount int        `gorm:"not null;default:0" json:"remaining_amount"`
	RemainingCredits int       `json:"remaining_credits"` // 操作后余额快照（展示用）
	ExpiresAt       *time.Time `gorm:"index" json:"expires_at,omitempty"` // NULL=永久有效

	// 冻结字段（升级/降级时保留旧套餐剩余价值）
	IsFrozen               bool       `gorm:"default:false;index" json:"is_frozen"`
	FrozenUntil            *time.Time `json:"frozen_until,omitempty"`
	FrozenRemainingSeconds int64      `json:"frozen_remaining_seconds,omitempty"`
	OriginalExpiresAt      *time.Time `json:"original_expires_at,omitempty"` // 冻结前的到期时间快照
	FrozenReason           string     `gorm:"size:200" json:"frozen_reason,omitempty"`

	// 未激活月份字段（年付按月释放）
	IsPending  bool       `gorm:"default:false;index" json:"is_pending"`
	ActivateAt *time.Time `json:"activate_at,omitempty"`

	RelatedEntityID   *int64 `gorm:"index" json:"related_entity_id,omitempty"`
	RelatedEntityType string `gorm:"size:30" json:"related_entity_type,omitempty"`
	Description       string `gorm:"size:500" json:"description,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// IsGrant 是否为充值包
func (t *CreditTransaction) IsGrant() bool {
	return t.Amount > 0
}

// Consumable 当前时刻是否可被消费
func (t *CreditTransaction) Consumable(now time.Time) bool {
	if !t.IsGrant() || t.RemainingAmount <= 0 || t.IsFrozen || t.IsPending {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}
