package dto

// BalanceResponse 积分余额
type BalanceResponse struct {
	Credits int `json:"credits"`
}

// TransactionListRequest 积分流水查询
type TransactionListRequest struct {
	Type     string `form:"type"`
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
}

// ExpiringCreditsItem 即将过期的积分
type ExpiringCreditsItem struct {
	TransactionID int64  `json:"transaction_id"`
	Remaining     int    `json:"remaining"`
	ExpiresAt     string `json:"expires_at"`
}
