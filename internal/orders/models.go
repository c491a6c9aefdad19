package orders

import "time"

type Product struct {
	ID         string
	SKU        string
	Name       string
	PriceCents int
	TotalStock int
	// Variants is the authoritative per-(color,size) stock when non-empty;
	// TotalStock is informational only in that case.
	Variants  []VariantStock
	CreatedAt time.Time
	UpdatedAt time.Time
}

type VariantStock struct {
	Color string
	Size  string
	Stock int
}

type Order struct {
	ID            string
	UserID        string
	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus
	TotalCents    int
	ShippingCents int
	ProviderRef   string
	// StockReleased is the one-shot flag guarding cancellation-triggered
	// inventory release. Never derived from OrderStatus.
	StockReleased bool
	Lines         []OrderLine
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderLine struct {
	ID             string
	OrderID        string
	ProductID      string
	Color          string
	Size           string
	Qty            int
	UnitPriceCents int
}

type AttemptStatus string

const (
	AttemptInitiated       AttemptStatus = "initiated"
	AttemptChallengeIssued AttemptStatus = "challenge_issued"
	AttemptAuthorized      AttemptStatus = "authorized"
	AttemptFailed          AttemptStatus = "failed"
	AttemptExpired         AttemptStatus = "expired"
)

// PaymentAttempt tracks one conversation with the payment provider, keyed by
// the provider reference so the async callback can find its way back.
type PaymentAttempt struct {
	ProviderRef string
	OrderID     string
	Nonce       string
	AmountCents int
	Status      AttemptStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
