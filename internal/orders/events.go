package orders

import (
	"encoding/json"
	"time"
)

const (
	EventCheckoutCompleted  = "CheckoutCompleted"
	EventChallengeIssued    = "ChallengeIssued"
	EventPaymentFailed      = "PaymentFailed"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventStockReleased      = "StockReleased"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payload types per event ----

type CheckoutCompletedPayload struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	TotalCents  int    `json:"total_cents"`
	ProviderRef string `json:"provider_ref"`
}

type ChallengeIssuedPayload struct {
	OrderID     string `json:"order_id"`
	ProviderRef string `json:"provider_ref"`
	ExpiresAt   string `json:"expires_at"` // RFC3339
}

type PaymentFailedPayload struct {
	OrderID     string `json:"order_id"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Reason      string `json:"reason"` // e.g. DECLINED, CHALLENGE_EXPIRED
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Actor   string `json:"actor"`
}

type StockReleasedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"` // CANCELLED | PAYMENT_FAILED | CHALLENGE_EXPIRED
}
