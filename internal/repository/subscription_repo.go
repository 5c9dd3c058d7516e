package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/internal/model"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(sub *model.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *SubscriptionRepository) GetByID(id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetActiveByUser 查询用户当前有效的 active 订阅（到期最晚的）
func (r *SubscriptionRepository) GetActiveByUser(userID int64, now time.Time) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("user_id = ? AND status = ? AND expires_at > ?",
		userID, model.SubStatusActive, now).
		Order("expires_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByCreemID(creemSubscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("creem_subscription_id = ?", creemSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) Update(sub *model.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *SubscriptionRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.Subscription{}).Where("id = ?", id).Updates(fields).Error
}

// IncrementUnactivatedMonths 增加未激活月份数（续订时调用）
func (r *SubscriptionRepository) IncrementUnactivatedMonths(id int64, months int) error {
	return r.db.Model(&model.Subscription{}).Where("id = ?", id).
		Update("unactivated_months", gorm.Expr("unactivated_months + ?", months)).Error
}

// DecrementUnactivatedMonths 消耗一个未激活月份（定时激活时调用）
func (r *SubscriptionRepository) DecrementUnactivatedMonths(id int64) error {
	return r.db.Model(&model.Subscription{}).
		Where("id = ? AND unactivated_months > 0", id).
		Update("unactivated_months", gorm.Expr("unactivated_months - 1")).Error
}

// ListActiveWithUnactivatedMonths 查询有未激活月份的活跃订阅（定时充值用）
func (r *SubscriptionRepository) ListActiveWithUnactivatedMonths() ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("status = ? AND unactivated_months > 0", model.SubStatusActive).
		Find(&subs).Error
	return subs, err
}

// ListPendingDue 查询激活时间已到的 pending 订阅
func (r *SubscriptionRepository) ListPendingDue(now time.Time) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("status = ? AND activation_date IS NOT NULL AND activation_date <= ?",
		model.SubStatusPending, now).
		Find(&subs).Error
	return subs, err
}

// ListActiveExpiredBefore 查询已过自然到期时间但状态仍为 active 的订阅（对账用）
func (r *SubscriptionRepository) ListActiveExpiredBefore(now time.Time) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("status = ? AND expires_at <= ?", model.SubStatusActive, now).
		Find(&subs).Error
	return subs, err
}

// ListByUser 查询用户全部订阅记录
func (r *SubscriptionRepository) ListByUser(userID int64) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}
