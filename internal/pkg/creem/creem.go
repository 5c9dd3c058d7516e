package creem

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// 网关事件类型
const (
	EventCheckoutCompleted     = "checkout.completed"
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionActive    = "subscription.active"
	EventSubscriptionPaid      = "subscription.paid"
	EventSubscriptionExpired   = "subscription.expired"
	EventPaymentSucceeded      = "payment.succeeded"
	EventPaymentFailed         = "payment.failed"
)

// 购买类型
const (
	PurchaseSubscription  = "subscription"
	PurchaseCreditPackage = "credit_package"
)

// 套餐变更动作
const (
	ActionFirstPurchase = "first_purchase"
	ActionRenewal       = "renewal"
	ActionUpgrade       = "upgrade"
	ActionDowngrade     = "downgrade"
)

var (
	ErrInvalidSignature = errors.New("webhook 签名校验失败")
	ErrInvalidPayload   = errors.New("webhook 载荷格式错误")
	ErrMissingMetadata  = errors.New("webhook 缺少必要的 metadata 字段")
)

// Event 网关事件信封。object 的具体结构由 eventType 决定，
// 通过 Checkout/Subscription 方法按类型解出并校验。
type Event struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	CreatedAt int64           `json:"created_at"`
	Object    json.RawMessage `json:"object"`
}

// Metadata 结账时透传的业务字段。网关按字符串存储，
// 数值字段用访问方法转换。
type Metadata struct {
	UserID           string `json:"user_id"`
	PurchaseType     string `json:"purchase_type"`
	PlanTier         string `json:"plan_tier"`
	BillingCycle     string `json:"billing_cycle"`
	Action           string `json:"action"`
	AdjustmentMode   string `json:"adjustment_mode"`
	RemainingSeconds string `json:"remaining_seconds"`
	PackageName      string `json:"package_name"`
	PackageCredits   string `json:"package_credits"`
}

// CheckoutObject checkout.completed 的 object
type CheckoutObject struct {
	ID             string   `json:"id"`
	OrderID        string   `json:"order_id"`
	SubscriptionID string   `json:"subscription_id,omitempty"`
	Amount         float64  `json:"amount"`
	Currency       string   `json:"currency"`
	Status         string   `json:"status"`
	Metadata       Metadata `json:"metadata"`
}

// SubscriptionObject subscription.* 和 payment.* 的 object。
// payment 事件额外携带本次扣款的订单信息。
type SubscriptionObject struct {
	ID        string   `json:"id"`
	ProductID string   `json:"product_id"`
	Status    string   `json:"status"`
	OrderID   string   `json:"order_id,omitempty"`
	Amount    float64  `json:"amount,omitempty"`
	Currency  string   `json:"currency,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// VerifySignature 校验 HMAC-SHA256 签名（hex 编码），常数时间比较
func VerifySignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign 计算载荷签名（测试和重试投递用）
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent 解析事件信封
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if event.EventType == "" {
		return nil, fmt.Errorf("%w: 缺少 eventType", ErrInvalidPayload)
	}
	return &event, nil
}

// Checkout 解出 checkout.completed 的载荷
func (e *Event) Checkout() (*CheckoutObject, error) {
	if e.EventType != EventCheckoutCompleted {
		return nil, fmt.Errorf("%w: %s 不是 checkout 事件", ErrInvalidPayload, e.EventType)
	}
	var obj CheckoutObject
	if err := json.Unmarshal(e.Object, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := obj.Metadata.validate(); err != nil {
		return nil, err
	}
	return &obj, nil
}

// Subscription 解出订阅/支付类事件的载荷
func (e *Event) Subscription() (*SubscriptionObject, error) {
	switch e.EventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionCancelled,
		EventSubscriptionActive, EventSubscriptionPaid, EventSubscriptionExpired,
		EventPaymentSucceeded, EventPaymentFailed:
	default:
		return nil, fmt.Errorf("%w: %s 不是订阅类事件", ErrInvalidPayload, e.EventType)
	}
	var obj SubscriptionObject
	if err := json.Unmarshal(e.Object, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: 缺少订阅 ID", ErrInvalidPayload)
	}
	return &obj, nil
}

func (m *Metadata) validate() error {
	if m.UserID == "" {
		return fmt.Errorf("%w: user_id", ErrMissingMetadata)
	}
	if _, err := strconv.ParseInt(m.UserID, 10, 64); err != nil {
		return fmt.Errorf("%w: user_id 不是合法数字", ErrMissingMetadata)
	}
	return nil
}

// UserIDInt64 metadata 中的用户 ID
func (m *Metadata) UserIDInt64() (int64, error) {
	id, err := strconv.ParseInt(m.UserID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: user_id 不是合法数字", ErrMissingMetadata)
	}
	return id, nil
}

// RemainingSecondsInt64 被取代订阅的剩余秒数，缺省为 0
func (m *Metadata) RemainingSecondsInt64() int64 {
	if m.RemainingSeconds == "" {
		return 0
	}
	n, err := strconv.ParseInt(m.RemainingSeconds, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// PackageCreditsInt 积分包额度，缺省为 0
func (m *Metadata) PackageCreditsInt() int {
	if m.PackageCredits == "" {
		return 0
	}
	n, err := strconv.Atoi(m.PackageCredits)
	if err != nil {
		return 0
	}
	return n
}
