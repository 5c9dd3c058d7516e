package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/pkg/creem"
	"github.com/qs3c/artgen_go_server/internal/pkg/email"
	"github.com/qs3c/artgen_go_server/internal/repository"
	"github.com/qs3c/artgen_go_server/internal/service"
)

// WebhookHandler Creem 支付网关回调。
// 所有分支都必须幂等：网关对未确认的事件会重试投递。
type WebhookHandler struct {
	subscriptionService *service.SubscriptionService
	creditService       *service.CreditService
	orderRepo           *repository.OrderRepository
	userRepo            *repository.UserRepository
	emailService        *email.Service
	cfg                 *config.Config
}

func NewWebhookHandler(
	subscriptionService *service.SubscriptionService,
	creditService *service.CreditService,
	orderRepo *repository.OrderRepository,
	userRepo *repository.UserRepository,
	emailService *email.Service,
	cfg *config.Config,
) *WebhookHandler {
	return &WebhookHandler{
		subscriptionService: subscriptionService,
		creditService:       creditService,
		orderRepo:           orderRepo,
		userRepo:            userRepo,
		emailService:        emailService,
		cfg:                 cfg,
	}
}

// HandleCreem Creem webhook 入口
// POST /api/v1/webhooks/creem
func (h *WebhookHandler) HandleCreem(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	signature := c.GetHeader("creem-signature")
	if !creem.VerifySignature(payload, signature, h.cfg.Creem.WebhookSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := creem.ParseEvent(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := h.dispatch(event); err != nil {
		log.Printf("Webhook %s (%s) failed: %v", event.EventType, event.ID, err)
		// 返回 500 让网关重试
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) dispatch(event *creem.Event) error {
	switch event.EventType {
	case creem.EventCheckoutCompleted:
		return h.handleCheckoutCompleted(event)
	case creem.EventSubscriptionCreated, creem.EventSubscriptionActive:
		return h.handleSubscriptionActive(event)
	case creem.EventSubscriptionUpdated:
		return h.handleSubscriptionUpdated(event)
	case creem.EventSubscriptionPaid:
		return h.handleSubscriptionPaid(event)
	case creem.EventSubscriptionCancelled:
		return h.handleSubscriptionCancelled(event)
	case creem.EventSubscriptionExpired:
		return h.handleSubscriptionExpired(event)
	case creem.EventPaymentSucceeded:
		return h.handlePaymentSucceeded(event)
	case creem.EventPaymentFailed:
		return h.handlePaymentFailed(event)
	default:
		// 未处理的事件类型直接确认，避免网关无意义重试
		log.Printf("Webhook: ignoring event type %s", event.EventType)
		return nil
	}
}

// handleCheckoutCompleted 结账完成：新订阅、套餐变更或积分包购买
func (h *WebhookHandler) handleCheckoutCompleted(event *creem.Event) error {
	checkout, err := event.Checkout()
	if err != nil {
		return err
	}
	userID, err := checkout.Metadata.UserIDInt64()
	if err != nil {
		return err
	}

	if checkout.Metadata.PurchaseType == creem.PurchaseCreditPackage {
		return h.handlePackagePurchase(userID, checkout)
	}

	meta := checkout.Metadata
	creemSubID := checkout.SubscriptionID
	if creemSubID == "" {
		creemSubID = checkout.ID
	}
	switch meta.Action {
	case creem.ActionUpgrade, creem.ActionDowngrade:
		_, err = h.subscriptionService.ProcessPlanChange(userID, meta.PlanTier, meta.BillingCycle, meta.AdjustmentMode, creemSubID)
	default:
		_, err = h.subscriptionService.ProcessFirstPurchase(userID, meta.PlanTier, meta.BillingCycle, creemSubID)
	}
	if err != nil {
		return err
	}

	h.recordOrder(userID, checkout.OrderID, checkout.ID, checkout.Amount, checkout.Currency)
	return nil
}

// handlePackagePurchase 积分包购买：建订单并发放永久不过期积分
func (h *WebhookHandler) handlePackagePurchase(userID int64, checkout *creem.CheckoutObject) error {
	order, err := h.orderRepo.GetByCreemOrderID(checkout.OrderID)
	if err == nil && order != nil {
		// 重复投递
		return nil
	}

	h.recordOrder(userID, checkout.OrderID, checkout.ID, checkout.Amount, checkout.Currency)

	order, err = h.orderRepo.GetByCreemOrderID(checkout.OrderID)
	if err != nil {
		return err
	}

	credits := checkout.Metadata.PackageCreditsInt()
	if credits <= 0 {
		return nil
	}
	_, err = h.creditService.GrantPackagePurchase(userID, order.ID, credits, checkout.Metadata.PackageName)
	return err
}

// handleSubscriptionActive 订阅创建/生效通知。携带完整业务元数据时按
// 购买入口处理（可能先于 checkout.completed 或 paid 到达，重复投递
// 由服务层按外部订阅号去重），否则退化为状态同步。
func (h *WebhookHandler) handleSubscriptionActive(event *creem.Event) error {
	sub, err := event.Subscription()
	if err != nil {
		return err
	}

	meta := sub.Metadata
	userID, err := meta.UserIDInt64()
	if err != nil || meta.PlanTier == "" {
		return h.syncSubscriptionStatus(sub)
	}

	switch meta.Action {
	case creem.ActionUpgrade, creem.ActionDowngrade:
		_, err = h.subscriptionService.ProcessPlanChange(userID, meta.PlanTier, meta.BillingCycle, meta.AdjustmentMode, sub.ID)
	default:
		_, err = h.subscriptionService.ProcessFirstPurchase(userID, meta.PlanTier, meta.BillingCycle, sub.ID)
	}
	return err
}

// handleSubscriptionUpdated 网关侧订阅状态变化同步
func (h *WebhookHandler) handleSubscriptionUpdated(event *creem.Event) error {
	sub, err := event.Subscription()
	if err != nil {
		return err
	}
	return h.syncSubscriptionStatus(sub)
}

func (h *WebhookHandler) syncSubscriptionStatus(sub *creem.SubscriptionObject) error {
	err := h.subscriptionService.SyncGatewayStatus(sub.ID, sub.Status, sub.Reason)
	if errors.Is(err, service.ErrSubscriptionNotFound) {
		// 本地没有对应记录的陈旧事件，确认掉避免网关重试
		log.Printf("Webhook: no local subscription for %s, ignoring status %q", sub.ID, sub.Status)
		return nil
	}
	return err
}

// handleSubscriptionPaid 续费扣款成功
func (h *WebhookHandler) handleSubscriptionPaid(event *creem.Event) error {
	sub, err := event.Subscription()
	if err != nil {
		return err
	}
	return h.subscriptionService.ProcessRenewal(sub.ID)
}

// handleSubscriptionCancelled 用户在网关侧取消
func (h *WebhookHandler) handleSubscriptionCancelled(event *creem.Event) error {
	sub, err := event.Subscription()
	if err != nil {
		return err
	}
	reason := sub.Reason
	if reason == "" {
		reason = "user_cancelled"
	}
	return h.subscriptionService.ProcessCancellation(sub.ID, reason)
}

// handleSubscriptionExpired 订阅到期
func (h *WebhookHandler) handleSubscriptionExpired(event *creem.Event) error {
	sub, err := event.Subscription()
	if err != nil {
		return err
	}
	return h.subscriptionService.ProcessExpiry(sub.ID)
}

// handlePaymentSucceeded 扣款成功：记录订单并发送账单邮件
func (h *WebhookHandler) handlePaymentSucceeded(event *creem.Event) error {
	sub, err := event.Subscription()
	if err != nil {
		return err
	}
	if sub.OrderID == "" {
		return nil
	}

	now := time.Now()
	if err := h.orderRepo.UpdateByCreemOrderID(sub.OrderID, map[string]interface{}{
		"status":  model.OrderStatusPaid,
		"paid_at": now,
	}); err != nil {
		log.Printf("Webhook: failed to mark order %s paid: %v", sub.OrderID, err)
	}

	if userID, err := sub.Metadata.UserIDInt64(); err == nil {
		h.notifyInvoice(userID, sub.Metadata.PlanTier, sub.Amount, sub.Currency)
	}
	return nil
}

// handlePaymentFailed 扣款失败：标记订单并通知用户
func (h *WebhookHandler) handlePaymentFailed(event *creem.Event) error {
	sub, err := event.Subscription()
	if err != nil {
		return err
	}
	if sub.OrderID != "" {
		now := time.Now()
		if err := h.orderRepo.UpdateByCreemOrderID(sub.OrderID, map[string]interface{}{
			"status":    model.OrderStatusFailed,
			"failed_at": now,
		}); err != nil {
			log.Printf("Webhook: failed to mark order %s failed: %v", sub.OrderID, err)
		}
	}

	if userID, err := sub.Metadata.UserIDInt64(); err == nil {
		h.notifyPaymentFailed(userID)
	}
	return nil
}

func (h *WebhookHandler) recordOrder(userID int64, orderID, checkoutID string, amount float64, currency string) {
	if orderID == "" {
		return
	}
	if currency == "" {
		currency = "USD"
	}
	now := time.Now()
	order := &model.Order{
		UserID:          userID,
		CreemOrderID:    orderID,
		CreemCheckoutID: checkoutID,
		Amount:          amount,
		Currency:        currency,
		Status:          model.OrderStatusCompleted,
		PaidAt:          &now,
	}
	if err := h.orderRepo.Create(order); err != nil {
		// 唯一索引冲突说明是重复投递，不算失败
		log.Printf("Webhook: order %s already recorded: %v", orderID, err)
	}
}

func (h *WebhookHandler) notifyInvoice(userID int64, planTier string, amount float64, currency string) {
	if h.emailService == nil {
		return
	}
	user, err := h.userRepo.GetByID(userID)
	if err != nil || user.Email == nil {
		return
	}
	if err := h.emailService.SendInvoice(*user.Email, planTier, amount, currency); err != nil {
		log.Printf("Webhook: failed to send invoice email to user %d: %v", userID, err)
	}
}

func (h *WebhookHandler) notifyPaymentFailed(userID int64) {
	if h.emailService == nil {
		return
	}
	user, err := h.userRepo.GetByID(userID)
	if err != nil || user.Email == nil {
		return
	}
	if err := h.emailService.SendPaymentFailed(*user.Email); err != nil {
		log.Printf("Webhook: failed to send payment-failed email to user %d: %v", userID, err)
	}
}
