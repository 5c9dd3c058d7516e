package handler

import (
	"errors"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/api/middleware"
	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/model/dto"
	"github.com/qs3c/artgen_go_server/internal/pkg/response"
	"github.com/qs3c/artgen_go_server/internal/service"
)

type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
	cfg                 *config.Config
}

func NewSubscriptionHandler(subscriptionService *service.SubscriptionService, cfg *config.Config) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		cfg:                 cfg,
	}
}

func toSubscriptionInfo(sub *model.Subscription) *dto.SubscriptionInfo {
	return &dto.SubscriptionInfo{
		ID:                sub.ID,
		PlanTier:          sub.PlanTier,
		BillingCycle:      sub.BillingCycle,
		Status:            sub.Status,
		MonthlyCredits:    sub.MonthlyCredits,
		ExpiresAt:         sub.ExpiresAt.Format(time.RFC3339),
		UnactivatedMonths: sub.UnactivatedMonths,
	}
}

// GetCurrent 获取当前生效订阅
// GET /api/v1/subscription
func (h *SubscriptionHandler) GetCurrent(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	sub, err := h.subscriptionService.GetActiveSubscription(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}
	if sub == nil {
		response.Success(c, nil)
		return
	}

	response.Success(c, toSubscriptionInfo(sub))
}

// GetHistory 订阅历史
// GET /api/v1/subscription/history
func (h *SubscriptionHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	subs, err := h.subscriptionService.GetSubscriptionHistory(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	items := make([]*dto.SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		items = append(items, toSubscriptionInfo(sub))
	}
	response.Success(c, items)
}

// Cancel 取消当前订阅（服务保留到已付费周期结束）
// POST /api/v1/subscription/cancel
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.subscriptionService.CancelSubscription(userID, req.Reason); err != nil {
		if errors.Is(err, service.ErrSubscriptionNotFound) {
			response.NotFoundError(c, "没有生效中的订阅")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.SuccessWithMessage(c, "订阅已取消，服务保留至当前周期结束", nil)
}

// ListPlans 套餐列表（定价页，公开）
// GET /api/v1/plans
func (h *SubscriptionHandler) ListPlans(c *gin.Context) {
	plans := make([]dto.PlanInfo, 0, len(h.cfg.Subscription.Plans))
	for tier, p := range h.cfg.Subscription.Plans {
		plans = append(plans, dto.PlanInfo{
			Tier:            tier,
			MonthlyCredits:  p.MonthlyCredits,
			ConcurrentLimit: p.ConcurrentLimit,
			PriceMonthly:    p.PriceMonthly,
			PriceYearly:     p.PriceYearly,
		})
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].MonthlyCredits < plans[j].MonthlyCredits
	})

	response.Success(c, plans)
}
