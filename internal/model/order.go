package model

import (
	"time"
)

// 订单状态
const (
	OrderStatusCompleted = "completed"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
)

// Order 支付订单（订阅和积分包共用）
type Order struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	UserID          int64      `gorm:"not null;index" json:"user_id"`
	CreemOrderID    string     `gorm:"size:100;uniqueIndex" json:"creem_order_id"`
	CreemCheckoutID string     `gorm:"size:100" json:"creem_checkout_id,omitempty"`
	ProductID       string     `gorm:"size:100" json:"product_id,omitempty"`
	Amount          float64    `gorm:"type:decimal(10,2)" json:"amount"`
	Currency        string     `gorm:"size:10;default:USD" json:"currency"`
	Status          string     `gorm:"size:20;index" json:"status"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	FailedAt        *time.Time `json:"failed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Order) TableName() string {
	return "subscription_orders"
}
