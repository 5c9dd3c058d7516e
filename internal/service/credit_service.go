package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/pkg/userlock"
	"github.com/qs3c/artgen_go_server/internal/repository"
)

var (
	ErrInvalidAmount       = errors.New("积分数量必须为正数")
	ErrInsufficientCredits = errors.New("积分不足")
	ErrConsumeFailed       = errors.New("积分扣减失败")
	ErrGrantFailed         = errors.New("积分发放失败")
)

// ConsumeResult 扣减结果
type ConsumeResult struct {
	Success       bool  `json:"success"`
	Consumed      int   `json:"consumed"`
	Remaining     int   `json:"remaining"`
	Insufficient  bool  `json:"insufficient"`
	TransactionID int64 `json:"transaction_id,omitempty"`
}

// GrantParams 积分发放参数
type GrantParams struct {
	UserID            int64
	Amount            int
	TransactionType   string
	ExpiresAt         *time.Time
	IsPending         bool
	ActivateAt        *time.Time
	RelatedEntityID   *int64
	RelatedEntityType string
	Description       string
	// SkipDedupe 跳过同实体短窗口去重（管理员调整等场景）
	SkipDedupe bool
}

type CreditService struct {
	creditRepo *repository.CreditRepository
	locker     *userlock.Locker
	cfg        *config.Config
	now        func() time.Time
}

func NewCreditService(creditRepo *repository.CreditRepository, locker *userlock.Locker, cfg *config.Config) *CreditService {
	return &CreditService{
		creditRepo: creditRepo,
		locker:     locker,
		cfg:        cfg,
		now:        time.Now,
	}
}

// GetAvailableCredits 查询可用积分余额，查询失败时返回 0
func (s *CreditService) GetAvailableCredits(userID int64) int {
	balance, err := s.creditRepo.SumAvailable(userID, s.now())
	if err != nil {
		log.Printf("查询用户 %d 积分余额失败: %v", userID, err)
		return 0
	}
	return balance
}

// CheckSufficient 检查余额是否满足所需积分
func (s *CreditService) CheckSufficient(userID int64, required int) bool {
	return s.GetAvailableCredits(userID) >= required
}

// Grant 发放一笔积分（新增一条充值记录，余额由剩余额度聚合得出）
func (s *CreditService) Grant(params GrantParams) (int64, error) {
	if params.Amount <= 0 {
		return 0, ErrInvalidAmount
	}

	unlock := s.locker.Lock(params.UserID)
	defer unlock()

	now := s.now()

	// 同一关联实体短时间内只发放一次，防止网关事件重放导致重复入账
	if params.RelatedEntityID != nil && !params.SkipDedupe {
		window := time.Duration(s.cfg.Credits.RefillDedupeMinutes) * time.Minute
		exists, err := s.creditRepo.HasGrantForEntity(
			params.UserID, params.TransactionType,
			*params.RelatedEntityID, now.Add(-window),
		)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrGrantFailed, err)
		}
		if exists {
			log.Printf("用户 %d 的 %s 积分在去重窗口内已发放，跳过 (entity=%d)",
				params.UserID, params.TransactionType, *params.RelatedEntityID)
			return 0, nil
		}
	}

	balance, err := s.creditRepo.SumAvailable(params.UserID, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGrantFailed, err)
	}

	remainingAfter := balance
	if !params.IsPending {
		remainingAfter = balance + params.Amount
	}

	tx := &model.CreditTransaction{
		UserID:            params.UserID,
		TransactionType:   params.TransactionType,
		Amount:            params.Amount,
		RemainingAmount:   params.Amount,
		RemainingCredits:  remainingAfter,
		ExpiresAt:         params.ExpiresAt,
		IsPending:         params.IsPending,
		ActivateAt:        params.ActivateAt,
		RelatedEntityID:   params.RelatedEntityID,
		RelatedEntityType: params.RelatedEntityType,
		Description:       params.Description,
	}
	if err := s.creditRepo.Create(tx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGrantFailed, err)
	}
	return tx.ID, nil
}

// GrantRegistrationBonus 注册奖励积分，短有效期
func (s *CreditService) GrantRegistrationBonus(userID int64) (int64, error) {
	expiresAt := s.now().AddDate(0, 0, s.cfg.Credits.RegistrationValidDays)
	return s.Grant(GrantParams{
		UserID:          userID,
		Amount:          s.cfg.Credits.RegistrationBonus,
		TransactionType: model.TxRegisterBonus,
		ExpiresAt:       &expiresAt,
		Description:     "注册奖励积分",
		SkipDedupe:      true,
	})
}

// RefillSubscriptionCredits 订阅月度积分发放。
// 续费场景下从最近一次充值的到期时间顺延，避免缩短用户已有额度的有效期。
func (s *CreditService) RefillSubscriptionCredits(userID, subscriptionID int64, credits int, planTier string, isRenewal bool) (int64, error) {
	base := s.now()
	if isRenewal {
		if latest, err := s.creditRepo.GetLatestRefill(userID, subscriptionID); err == nil && latest.ExpiresAt != nil && latest.ExpiresAt.After(base) {
			base = *latest.ExpiresAt
		}
	}
	expiresAt := base.AddDate(0, 0, 30)
	return s.Grant(GrantParams{
		UserID:            userID,
		Amount:            credits,
		TransactionType:   model.TxSubscriptionRefill,
		ExpiresAt:         &expiresAt,
		RelatedEntityID:   &subscriptionID,
		RelatedEntityType: model.EntitySubscription,
		Description:       fmt.Sprintf("%s 订阅月度积分", planTier),
	})
}

// GrantYearlyBonus 年付奖励积分：按年积分总量的固定比例一次性发放，一年内有效
func (s *CreditService) GrantYearlyBonus(userID, subscriptionID int64, monthlyCredits int, planTier string) (int64, error) {
	bonus := int(float64(monthlyCredits*12) * s.cfg.Credits.YearlyBonusRate)
	if bonus <= 0 {
		return 0, nil
	}
	expiresAt := s.now().AddDate(1, 0, 0)
	return s.Grant(GrantParams{
		UserID:            userID,
		Amount:            bonus,
		TransactionType:   model.TxSubscriptionBonus,
		ExpiresAt:         &expiresAt,
		RelatedEntityID:   &subscriptionID,
		RelatedEntityType: model.EntitySubscription,
		Description:       fmt.Sprintf("%s 年付奖励积分", planTier),
	})
}

// GrantPackagePurchase 积分包购买入账，一年内有效
func (s *CreditService) GrantPackagePurchase(userID, orderID int64, credits int, packageName string) (int64, error) {
	expiresAt := s.now().AddDate(1, 0, 0)
	return s.Grant(GrantParams{
		UserID:            userID,
		Amount:            credits,
		TransactionType:   model.TxPackagePurchase,
		ExpiresAt:         &expiresAt,
		RelatedEntityID:   &orderID,
		RelatedEntityType: model.EntityOrder,
		Description:       fmt.Sprintf("购买积分包 %s", packageName),
	})
}

// AdminAdjust 管理员手动调整，不设有效期
func (s *CreditService) AdminAdjust(userID int64, amount int, reason string) (int64, error) {
	return s.Grant(GrantParams{
		UserID:            userID,
		Amount:            amount,
		TransactionType:   model.TxAdminAdjustment,
		RelatedEntityType: model.EntityAdmin,
		Description:       reason,
		SkipDedupe:        true,
	})
}

// Refund 任务失败退款，不设有效期
func (s *CreditService) Refund(userID, taskID int64, amount int, txType, description string) (int64, error) {
	return s.Grant(GrantParams{
		UserID:            userID,
		Amount:            amount,
		TransactionType:   txType,
		RelatedEntityID:   &taskID,
		RelatedEntityType: model.EntityGeneration,
		Description:       description,
		SkipDedupe:        true,
	})
}

// Consume 原子扣减积分。
// 按到期时间升序依次消耗各充值包的剩余额度（永久有效的排最后），
// 余额不足时不产生任何变更，全程在同一数据库事务内完成。
func (s *CreditService) Consume(userID int64, amount int, txType string, relatedEntityID *int64, relatedEntityType, description string) (*ConsumeResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := s.locker.Lock(userID)
	defer unlock()

	now := s.now()
	result := &ConsumeResult{}

	err := s.creditRepo.DB().Transaction(func(tx *gorm.DB) error {
		grants, err := s.creditRepo.ListEligibleForUpdate(tx, userID, now)
		if err != nil {
			return err
		}

		balance := 0
		for _, g := range grants {
			balance += g.RemainingAmount
		}
		if balance < amount {
			result.Insufficient = true
			result.Remaining = balance
			return nil
		}

		remaining := amount
		for _, g := range grants {
			if remaining <= 0 {
				break
			}
			take := g.RemainingAmount
			if take > remaining {
				take = remaining
			}
			if err := s.creditRepo.DecrementRemaining(tx, g.ID, take); err != nil {
				return err
			}
			remaining -= take
		}
		if remaining > 0 {
			// 并发窗口内被其他事务抢先消耗
			return ErrInsufficientCredits
		}

		record := &model.CreditTransaction{
			UserID:            userID,
			TransactionType:   txType,
			Amount:            -amount,
			RemainingAmount:   0,
			RemainingCredits:  balance - amount,
			RelatedEntityID:   relatedEntityID,
			RelatedEntityType: relatedEntityType,
			Description:       description,
		}
		if err := s.creditRepo.CreateInTx(tx, record); err != nil {
			return err
		}

		result.Success = true
		result.Consumed = amount
		result.Remaining = balance - amount
		result.TransactionID = record.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			return &ConsumeResult{Insufficient: true}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrConsumeFailed, err)
	}
	return result, nil
}

// GetTransactions 分页查询积分流水
func (s *CreditService) GetTransactions(userID int64, txType string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.creditRepo.ListByUser(userID, pageSize, (page-1)*pageSize, txType)
}

// GetExpiringSoon 查询即将过期的充值包
func (s *CreditService) GetExpiringSoon(userID int64, within time.Duration) ([]*model.CreditTransaction, error) {
	now := s.now()
	return s.creditRepo.ListExpiringBefore(userID, now, now.Add(within))
}
