package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/pkg/creem"
	"github.com/qs3c/artgen_go_server/internal/testutil"
)

func setupWebhook(t *testing.T) (*gin.Engine, *services) {
	t.Helper()
	svcs := setupServices(t)
	handler := NewWebhookHandler(svcs.subscription, svcs.credit, svcs.orderRepo, svcs.userRepo, nil, svcs.cfg)

	router := gin.New()
	router.POST("/webhooks/creem", handler.HandleCreem)
	return router, svcs
}

func postEvent(t *testing.T, router *gin.Engine, svcs *services, eventType string, object interface{}) *httptest.ResponseRecorder {
	t.Helper()

	objBytes, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]interface{}{
		"id":         fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"eventType":  eventType,
		"created_at": time.Now().Unix(),
		"object":     json.RawMessage(objBytes),
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/webhooks/creem", bytes.NewReader(payload))
	req.Header.Set("creem-signature", creem.Sign(payload, svcs.cfg.Creem.WebhookSecret))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhook_InvalidSignature(t *testing.T) {
	router, _ := setupWebhook(t)

	req := httptest.NewRequest("POST", "/webhooks/creem", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("creem-signature", "bogus")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhook_CheckoutCompleted_FirstPurchase(t *testing.T) {
	router, svcs := setupWebhook(t)
	user := testutil.TestUser(t, svcs.db)

	w := postEvent(t, router, svcs, creem.EventCheckoutCompleted, map[string]interface{}{
		"id":              "chk_1",
		"order_id":        "ord_1",
		"subscription_id": "sub_1",
		"amount":          9.99,
		"currency":        "USD",
		"metadata": map[string]string{
			"user_id":       fmt.Sprintf("%d", user.ID),
			"purchase_type": "subscription",
			"plan_tier":     "basic",
			"billing_cycle": "monthly",
			"action":        "first_purchase",
		},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 150, svcs.credit.GetAvailableCredits(user.ID))

	sub, err := svcs.subscription.GetActiveSubscription(user.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub_1", sub.CreemSubscriptionID)

	// 订单已落库
	order, err := svcs.orderRepo.GetByCreemOrderID("ord_1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
}

func TestWebhook_CheckoutCompleted_DuplicateDelivery(t *testing.T) {
	router, svcs := setupWebhook(t)
	user := testutil.TestUser(t, svcs.db)

	object := map[string]interface{}{
		"id":              "chk_dup",
		"order_id":        "ord_dup",
		"subscription_id": "sub_dup",
		"metadata": map[string]string{
			"user_id":       fmt.Sprintf("%d", user.ID),
			"purchase_type": "subscription",
			"plan_tier":     "basic",
			"billing_cycle": "monthly",
			"action":        "first_purchase",
		},
	}
	postEvent(t, router, svcs, creem.EventCheckoutCompleted, object)
	w := postEvent(t, router, svcs, creem.EventCheckoutCompleted, object)

	assert.Equal(t, http.StatusOK, w.Code)
	// 重复投递不重复发积分
	assert.Equal(t, 150, svcs.credit.GetAvailableCredits(user.ID))
}

func TestWebhook_CheckoutCompleted_CreditPackage(t *testing.T) {
	router, svcs := setupWebhook(t)
	user := testutil.TestUser(t, svcs.db)

	object := map[string]interface{}{
		"id":       "chk_pkg",
		"order_id": "ord_pkg",
		"amount":   4.99,
		"metadata": map[string]string{
			"user_id":         fmt.Sprintf("%d", user.ID),
			"purchase_type":   "credit_package",
			"package_name":    "starter_pack",
			"package_credits": "500",
		},
	}
	w := postEvent(t, router, svcs, creem.EventCheckoutCompleted, object)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 500, svcs.credit.GetAvailableCredits(user.ID))

	// 重复投递被订单唯一性拦下
	postEvent(t, router, svcs, creem.EventCheckoutCompleted, object)
	assert.Equal(t, 500, svcs.credit.GetAvailableCredits(user.ID))
}

func TestWebhook_SubscriptionPaid_Renewal(t *testing.T) {
	router, svcs := setupWebhook(t)
	user := testutil.TestUser(t, svcs.db)
	sub := testutil.TestSubscription(t, svcs.db, user.ID,
		testutil.WithCreemID("sub_renew"),
		testutil.WithCycle(model.CycleMonthly),
	)
	oldExpiry := sub.ExpiresAt

	w := postEvent(t, router, svcs, creem.EventSubscriptionPaid, map[string]interface{}{
		"id": "sub_renew",
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var got model.Subscription
	require.NoError(t, svcs.db.First(&got, sub.ID).Error)
	assert.Equal(t, 1, got.UnactivatedMonths)
	assert.True(t, got.ExpiresAt.After(oldExpiry))
	// 续费不直接发积分
	assert.Equal(t, 0, svcs.credit.GetAvailableCredits(user.ID))
}

func TestWebhook_SubscriptionActive_BeforeCheckout(t *testing.T) {
	router, svcs := setupWebhook(t)
	user := testutil.TestUser(t, svcs.db)

	object := map[string]interface{}{
		"id":     "sub_act",
		"status": "active",
		"metadata": map[string]string{
			"user_id":       fmt.Sprintf("%d", user.ID),
			"plan_tier":     "basic",
			"billing_cycle": "monthly",
		},
	}
	w := postEvent(t, router, svcs, creem.EventSubscriptionActive, object)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 150, svcs.credit.GetAvailableCredits(user.ID))

	sub, err := svcs.subscription.GetActiveSubscription(user.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub_act", sub.CreemSubscriptionID)

	// active 与 checkout.completed 重复到达时按外部订阅号去重
	postEvent(t, router, svcs, creem.EventSubscriptionActive, object)
	assert.Equal(t, 150, svcs.credit.GetAvailableCredits(user.ID))
}

func TestWebhook_SubscriptionUpdated_SyncsCancellation(t *testing.T) {
	router, svcs := setupWebhook(t)
	user := testutil.TestUser(t, svcs.db)
	sub := testutil.TestSubscription(t, svcs.db, user.ID,
		testutil.WithCreemID("sub_upd"),
		testutil.WithSubExpiry(time.Now().AddDate(0, 0, 20)))

	w := postEvent(t, router, svcs, creem.EventSubscriptionUpdated, map[string]interface{}{
		"id":     "sub_upd",
		"status": "cancelled",
		"reason": "dunning",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var got model.Subscription
	require.NoError(t, svcs.db.First(&got, sub.ID).Error)
	assert.Equal(t, model.SubStatusCancelled, got.Status)
	assert.Equal(t, "dunning", got.CancellationReason)
}

func TestWebhook_SubscriptionUpdated_UnknownSubscriptionAcked(t *testing.T) {
	router, svcs := setupWebhook(t)

	// 本地没有对应记录的陈旧事件直接确认，不触发网关重试
	w := postEvent(t, router, svcs, creem.EventSubscriptionUpdated, map[string]interface{}{
		"id":     "sub_ghost",
		"status": "active",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_SubscriptionExpired_UnfreezesCredits(t *testing.T) {
	router, svcs := setupWebhook(t)
	user := testutil.TestUser(t, svcs.db)
	testutil.TestSubscription(t, svcs.db, user.ID,
		testutil.WithCreemID("sub_exp"),
		testutil.WithSubStatus(model.SubStatusCancelled),
	)
	testutil.TestGrant(t, svcs.db, user.ID, 60,
		testutil.WithFrozen(time.Now().Add(time.Hour), 3600),
	)

	w := postEvent(t, router, svcs, creem.EventSubscriptionExpired, map[string]interface{}{
		"id": "sub_exp",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 60, svcs.credit.GetAvailableCredits(user.ID))
}

func TestWebhook_PaymentFailed_MarksOrder(t *testing.T) {
	router, svcs := setupWebhook(t)
	user := testutil.TestUser(t, svcs.db)
	require.NoError(t, svcs.db.Create(&model.Order{
		UserID:       user.ID,
		CreemOrderID: "ord_fail",
		Status:       model.OrderStatusCompleted,
	}).Error)

	w := postEvent(t, router, svcs, creem.EventPaymentFailed, map[string]interface{}{
		"id":       "sub_fail",
		"order_id": "ord_fail",
		"metadata": map[string]string{"user_id": fmt.Sprintf("%d", user.ID)},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	order, err := svcs.orderRepo.GetByCreemOrderID("ord_fail")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, order.Status)
	require.NotNil(t, order.FailedAt)
}

func TestWebhook_UnknownEventAcknowledged(t *testing.T) {
	router, svcs := setupWebhook(t)

	w := postEvent(t, router, svcs, "subscription.trialing", map[string]interface{}{"id": "sub_x"})
	assert.Equal(t, http.StatusOK, w.Code)
}
