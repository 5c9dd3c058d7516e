package dto

// SubscriptionInfo 订阅信息
type SubscriptionInfo struct {
	ID                int64  `json:"id"`
	PlanTier          string `json:"plan_tier"`
	BillingCycle      string `json:"billing_cycle"`
	Status            string `json:"status"`
	MonthlyCredits    int    `json:"monthly_credits"`
	ExpiresAt         string `json:"expires_at"`
	UnactivatedMonths int    `json:"unactivated_months"`
}

// CancelSubscriptionRequest 取消订阅请求
type CancelSubscriptionRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

// PlanInfo 套餐信息（定价页）
type PlanInfo struct {
	Tier            string  `json:"tier"`
	MonthlyCredits  int     `json:"monthly_credits"`
	ConcurrentLimit int     `json:"concurrent_limit"`
	PriceMonthly    float64 `json:"price_monthly"`
	PriceYearly     float64 `json:"price_yearly"`
}
