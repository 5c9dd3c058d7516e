package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/artgen_go_server/internal/model"
)

type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// DB 返回底层连接（服务层开事务用）
func (r *CreditRepository) DB() *gorm.DB {
	return r.db
}

func (r *CreditRepository) Create(tx *model.CreditTransaction) error {
	return r.db.Create(tx).Error
}

// CreateInTx 在事务内插入交易记录
func (r *CreditRepository) CreateInTx(tx *gorm.DB, record *model.CreditTransaction) error {
	return tx.Create(record).Error
}

func (r *CreditRepository) GetByID(id int64) (*model.CreditTransaction, error) {
	var record model.CreditTransaction
	err := r.db.Where("id = ?", id).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SumAvailable 汇总可用积分：未冻结、未pending、未过期充值包的剩余额度
func (r *CreditRepository) SumAvailable(userID int64, now time.Time) (int, error) {
	var total int64
	err := r.db.Model(&model.CreditTransaction{}).
		Select("COALESCE(SUM(remaining_amount), 0)").
		Where("user_id = ? AND amount > 0 AND remaining_amount > 0", userID).
		Where("is_frozen = ?", false).
		Where("is_pending = ?", false).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Scan(&total).Error
	return int(total), err
}

// ListEligibleForUpdate 查询可消费的充值包并加行锁（FIFO：最早过期的排前面，
// 永久有效的排最后，同一过期时间按创建时间升序）
func (r *CreditRepository) ListEligibleForUpdate(tx *gorm.DB, userID int64, now time.Time) ([]*model.CreditTransaction, error) {
	var grants []*model.CreditTransaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND amount > 0 AND remaining_amount > 0", userID).
		Where("is_frozen = ?", false).
		Where("is_pending = ?", false).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END, expires_at ASC, created_at ASC, id ASC").
		Find(&grants).Error
	return grants, err
}

// DecrementRemaining 在事务内扣减充值包剩余额度
func (r *CreditRepository) DecrementRemaining(tx *gorm.DB, id int64, amount int) error {
	return tx.Model(&model.CreditTransaction{}).
		Where("id = ? AND remaining_amount >= ?", id, amount).
		Update("remaining_amount", gorm.Expr("remaining_amount - ?", amount)).Error
}

// ListByUser 分页查询交易历史
func (r *CreditRepository) ListByUser(userID int64, limit, offset int, txType string) ([]*model.CreditTransaction, int64, error) {
	query := r.db.Model(&model.CreditTransaction{}).Where("user_id = ?", userID)
	if txType != "" {
		query = query.Where("transaction_type = ?", txType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []*model.CreditTransaction
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&records).Error
	return records, total, err
}

// ListExpiringBefore 查询指定时间前过期、仍有剩余的可用充值包
func (r *CreditRepository) ListExpiringBefore(userID int64, now, before time.Time) ([]*model.CreditTransaction, error) {
	var grants []*model.CreditTransaction
	err := r.db.Where("user_id = ? AND amount > 0 AND remaining_amount > 0", userID).
		Where("is_frozen = ? AND is_pending = ?", false, false).
		Where("expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?", now, before).
		Order("expires_at ASC").
		Find(&grants).Error
	return grants, err
}

// GetLatestRefill 查询订阅最近一次充值包（过期时间最晚的）
func (r *CreditRepository) GetLatestRefill(userID, subscriptionID int64) (*model.CreditTransaction, error) {
	var record model.CreditTransaction
	err := r.db.Where("user_id = ? AND related_entity_id = ? AND transaction_type = ?",
		userID, subscriptionID, model.TxSubscriptionRefill).
		Where("amount > 0 AND expires_at IS NOT NULL").
		Order("expires_at DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// HasRecentRefill 检查用户在指定时间之后是否已有订阅充值记录（重复充值防护）
func (r *CreditRepository) HasRecentRefill(userID int64, since time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&model.CreditTransaction{}).
		Where("user_id = ? AND transaction_type = ? AND created_at >= ?",
			userID, model.TxSubscriptionRefill, since).
		Count(&count).Error
	return count > 0, err
}

// GetFifoGrant 查询订阅的 FIFO 充值包：最早过期、有剩余、未冻结的
func (r *CreditRepository) GetFifoGrant(userID, subscriptionID int64) (*model.CreditTransaction, error) {
	var record model.CreditTransaction
	err := r.db.Where("user_id = ? AND related_entity_id = ? AND transaction_type = ?",
		userID, subscriptionID, model.TxSubscriptionRefill).
		Where("amount > 0 AND remaining_amount > 0 AND is_frozen = ?", false).
		Order("expires_at ASC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Freeze 冻结充值包：记录剩余秒数和原到期时间，延后到期时间
func (r *CreditRepository) Freeze(id int64, frozenUntil, newExpiresAt time.Time, remainingSeconds int64, originalExpiresAt *time.Time, reason string) error {
	return r.db.Model(&model.CreditTransaction{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_frozen":                true,
			"frozen_until":             frozenUntil,
			"frozen_remaining_seconds": remainingSeconds,
			"original_expires_at":      originalExpiresAt,
			"expires_at":               newExpiresAt,
			"frozen_reason":            reason,
		}).Error
}

// ListFrozen 查询用户所有冻结中的充值包
func (r *CreditRepository) ListFrozen(userID int64) ([]*model.CreditTransaction, error) {
	var grants []*model.CreditTransaction
	err := r.db.Where("user_id = ? AND is_frozen = ?", userID, true).Find(&grants).Error
	return grants, err
}

// UnfreezeAll 解冻用户的全部冻结包。只清除 is_frozen 标记，
// 冻结历史字段（frozen_until 等）保留作为审计记录。幂等。
func (r *CreditRepository) UnfreezeAll(userID int64) (int64, error) {
	result := r.db.Model(&model.CreditTransaction{}).
		Where("user_id = ? AND is_frozen = ?", userID, true).
		Update("is_frozen", false)
	return result.RowsAffected, result.Error
}

// ListPendingBySubscription 查询订阅的未激活月份记录
func (r *CreditRepository) ListPendingBySubscription(userID, subscriptionID int64) ([]*model.CreditTransaction, error) {
	var grants []*model.CreditTransaction
	err := r.db.Where("user_id = ? AND related_entity_id = ? AND is_pending = ?",
		userID, subscriptionID, true).
		Find(&grants).Error
	return grants, err
}

// DelayActivation 将充值包的激活时间后延
func (r *CreditRepository) DelayActivation(id int64, newActivateAt time.Time) error {
	return r.db.Model(&model.CreditTransaction{}).Where("id = ?", id).
		Update("activate_at", newActivateAt).Error
}

// HasRefundForTask 检查任务是否已退款（防止重复退款）
func (r *CreditRepository) HasRefundForTask(taskID int64) (bool, error) {
	var count int64
	err := r.db.Model(&model.CreditTransaction{}).
		Where("transaction_type IN ? AND related_entity_id = ?",
			[]string{model.TxRefund, model.TxVideoRefund}, taskID).
		Count(&count).Error
	return count > 0, err
}

// HasGrantForEntity 检查指定类型+关联实体是否已有充值记录（幂等防护）
func (r *CreditRepository) HasGrantForEntity(userID int64, txType string, relatedEntityID int64, since time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&model.CreditTransaction{}).
		Where("user_id = ? AND transaction_type = ? AND related_entity_id = ? AND amount > 0 AND created_at >= ?",
			userID, txType, relatedEntityID, since).
		Count(&count).Error
	return count > 0, err
}
