package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-checkout.git/internal/catalog"
	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/payment"
)

// ValidationError is bad caller input: 4xx, never retried.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return "checkout: " + e.Reason }

// ErrGatewayConflict marks a hard disagreement with the provider, e.g. the
// authorized amount not matching the order total. Never coerced.
var ErrGatewayConflict = errors.New("checkout: provider state conflicts with order")

// OrderStore is the order persistence the orchestrator needs. Payment status
// writes live here and only here.
type OrderStore interface {
	CreateTx(ctx context.Context, o *orders.Order) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	SetPaymentStatus(ctx context.Context, orderID string, ps orders.PaymentStatus, providerRef string) error
	MarkPaid(ctx context.Context, orderID, providerRef string) (bool, error)
	ClaimReleaseFlag(ctx context.Context, orderID string) (bool, error)
}

type AttemptStore interface {
	Create(ctx context.Context, a *orders.PaymentAttempt) error
	Get(ctx context.Context, providerRef string) (*orders.PaymentAttempt, error)
	SetStatus(ctx context.Context, providerRef string, st orders.AttemptStatus) error
	Expire(ctx context.Context, providerRef string) (bool, error)
	Stale(ctx context.Context, cutoff time.Time) ([]orders.PaymentAttempt, error)
}

type Gateway interface {
	Authorize(ctx context.Context, draft payment.OrderDraft) (payment.Authorization, error)
	CompleteChallenge(ctx context.Context, providerRef string, payload json.RawMessage) (payment.Authorization, error)
	Retrieve(ctx context.Context, providerRef string) (payment.ProviderStatus, error)
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

type Config struct {
	ShippingFreeCents int
	ShippingFeeCents  int
	ChallengeTTL      time.Duration
	AuthorizeRetries  int
	CallbackURL       string
	Currency          string
	ServiceName       string
}

// Service drives one checkout attempt through
// Draft -> Reserved -> Authorizing -> {Completed | ChallengePending | Failed}.
// The only suspension is ChallengePending, which is durable state keyed by
// provider reference, resumed by Callback (possibly on another instance).
type Service struct {
	Orders   OrderStore
	Attempts AttemptStore
	Ledger   inventory.Ledger
	Gateway  Gateway
	Catalog  catalog.Catalog
	Producer Publisher
	Log      *zap.Logger
	Cfg      Config

	Now   func() time.Time
	Sleep func(time.Duration) // retry backoff; overridable in tests
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
	Qty       int    `json:"qty"`
}

type Request struct {
	UserID string
	Lines  []CartLine
	Buyer  *payment.Buyer
	Card   payment.Card
}

const (
	StateCompleted        = "completed"
	StateChallengePending = "challenge_required"
	StateFailed           = "failed"
)

type Result struct {
	Status       string
	OrderID      string
	TotalCents   int
	RedirectHTML string
	ProviderRef  string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// sleep waits out one backoff window but gives up as soon as the context
// does. The stub path still honors cancellation so tests stay deterministic.
func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		s.Sleep(d)
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Checkout runs the synchronous half of the flow. The reservation is held,
// never committed, while a challenge is outstanding; every failure path
// after the reserve must release it exactly once.
func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	if len(req.Lines) == 0 {
		return Result{}, &ValidationError{Reason: "cart is empty"}
	}

	// recompute totals from authoritative prices, never from the client
	var subtotal int
	lines := make([]orders.OrderLine, 0, len(req.Lines))
	resLines := make([]inventory.Line, 0, len(req.Lines))
	items := make([]payment.Item, 0, len(req.Lines))
	for _, l := range req.Lines {
		if l.Qty <= 0 {
			return Result{}, &ValidationError{Reason: fmt.Sprintf("invalid quantity for product %s", l.ProductID)}
		}
		price, err := s.Catalog.Price(ctx, l.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return Result{}, &ValidationError{Reason: fmt.Sprintf("unknown product %s", l.ProductID)}
			}
			return Result{}, err
		}
		subtotal += price * l.Qty
		lines = append(lines, orders.OrderLine{
			ProductID: l.ProductID, Color: l.Color, Size: l.Size, Qty: l.Qty, UnitPriceCents: price,
		})
		resLines = append(resLines, inventory.Line{ProductID: l.ProductID, Color: l.Color, Size: l.Size, Qty: l.Qty})
		items = append(items, payment.Item{ProductID: l.ProductID, Qty: l.Qty, PriceCents: price})
	}

	shipping := s.Cfg.ShippingFeeCents
	if subtotal >= s.Cfg.ShippingFreeCents {
		shipping = 0
	}
	total := subtotal + shipping

	orderID := uuid.NewString()

	// Draft -> Reserved: eager deduction; from here on every exit that is
	// not Completed or ChallengePending must give the stock back
	if err := s.Ledger.Reserve(ctx, orderID, resLines); err != nil {
		var short *inventory.InsufficientStockError
		if errors.As(err, &short) {
			return Result{}, short
		}
		if errors.Is(err, inventory.ErrVariantRequired) || errors.Is(err, inventory.ErrInvalidQuantity) ||
			errors.Is(err, inventory.ErrUnknownProduct) {
			return Result{}, &ValidationError{Reason: err.Error()}
		}
		return Result{}, err
	}

	o := &orders.Order{
		ID:            orderID,
		UserID:        req.UserID,
		PaymentStatus: orders.PaymentPending,
		OrderStatus:   orders.StatusPending,
		TotalCents:    total,
		ShippingCents: shipping,
		Lines:         lines,
	}
	if err := s.Orders.CreateTx(ctx, o); err != nil {
		s.releaseQuietly(ctx, orderID)
		return Result{}, err
	}

	// Reserved -> Authorizing
	draft := payment.OrderDraft{
		OrderID:     orderID,
		AmountCents: total,
		Currency:    s.Cfg.Currency,
		CallbackURL: s.Cfg.CallbackURL,
		Card:        req.Card,
		Buyer:       req.Buyer,
		Items:       items,
	}
	auth, err := s.authorizeWithRetry(ctx, draft)
	if err != nil {
		var declined *payment.DeclinedError
		if errors.As(err, &declined) {
			if auth.ProviderRef != "" {
				_ = s.Attempts.Create(ctx, &orders.PaymentAttempt{
					ProviderRef: auth.ProviderRef, OrderID: orderID,
					AmountCents: total, Status: orders.AttemptFailed,
				})
			}
			s.failOrder(ctx, orderID, auth.ProviderRef, "DECLINED:"+declined.Code)
			return Result{Status: StateFailed, OrderID: orderID, TotalCents: total}, declined
		}
		// retries exhausted; the reservation must not outlive the attempt
		s.failOrder(ctx, orderID, "", "GATEWAY_UNAVAILABLE")
		return Result{Status: StateFailed, OrderID: orderID, TotalCents: total}, err
	}

	nonce := payment.NewNonce()
	switch auth.Outcome {
	case payment.OutcomeApproved:
		attempt := &orders.PaymentAttempt{
			ProviderRef: auth.ProviderRef, OrderID: orderID, Nonce: nonce,
			AmountCents: total, Status: orders.AttemptAuthorized,
		}
		if err := s.Attempts.Create(ctx, attempt); err != nil {
			s.Log.Error("record attempt", zap.String("order_id", orderID), zap.Error(err))
		}
		claimed, err := s.complete(ctx, orderID, auth.ProviderRef, total)
		if err != nil {
			return Result{}, err
		}
		if !claimed {
			// a concurrent cancel won the order; the approval has nowhere to land
			if err := s.Attempts.SetStatus(ctx, auth.ProviderRef, orders.AttemptFailed); err != nil {
				s.Log.Error("mark attempt failed", zap.String("provider_ref", auth.ProviderRef), zap.Error(err))
			}
			return Result{Status: StateFailed, OrderID: orderID, TotalCents: total, ProviderRef: auth.ProviderRef}, nil
		}
		return Result{Status: StateCompleted, OrderID: orderID, TotalCents: total, ProviderRef: auth.ProviderRef}, nil

	case payment.OutcomeChallenge:
		attempt := &orders.PaymentAttempt{
			ProviderRef: auth.ProviderRef, OrderID: orderID, Nonce: nonce,
			AmountCents: total, Status: orders.AttemptChallengeIssued,
		}
		if err := s.Attempts.Create(ctx, attempt); err != nil {
			// without the attempt row the callback can never land
			s.failOrder(ctx, orderID, auth.ProviderRef, "ATTEMPT_PERSIST_FAILED")
			return Result{}, err
		}
		s.emit(orders.EventChallengeIssued, orders.TopicCheckoutChallenge, orderID, orders.ChallengeIssuedPayload{
			OrderID: orderID, ProviderRef: auth.ProviderRef,
			ExpiresAt: s.now().Add(s.Cfg.ChallengeTTL).Format(time.RFC3339),
		})
		s.Log.Info("challenge issued", zap.String("order_id", orderID), zap.String("provider_ref", auth.ProviderRef))
		return Result{
			Status: StateChallengePending, OrderID: orderID, TotalCents: total,
			RedirectHTML: auth.ChallengeHTML, ProviderRef: auth.ProviderRef,
		}, nil

	default:
		s.failOrder(ctx, orderID, auth.ProviderRef, "UNEXPECTED_OUTCOME")
		return Result{}, fmt.Errorf("checkout: unexpected authorize outcome %q", auth.Outcome)
	}
}

// Callback resumes a suspended checkout. Duplicate deliveries for an already
// finalized attempt answer with the final state and change nothing.
func (s *Service) Callback(ctx context.Context, providerRef string, payload json.RawMessage) (Result, error) {
	attempt, err := s.Attempts.Get(ctx, providerRef)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return Result{}, &ValidationError{Reason: "unknown provider reference"}
		}
		return Result{}, err
	}

	switch attempt.Status {
	case orders.AttemptAuthorized:
		return Result{Status: StateCompleted, OrderID: attempt.OrderID, ProviderRef: providerRef}, nil
	case orders.AttemptFailed, orders.AttemptExpired:
		return Result{Status: StateFailed, OrderID: attempt.OrderID, ProviderRef: providerRef}, nil
	}

	auth, err := s.Gateway.CompleteChallenge(ctx, providerRef, payload)
	if err != nil {
		var declined *payment.DeclinedError
		if errors.As(err, &declined) {
			s.failAttempt(ctx, attempt, "DECLINED:"+declined.Code)
			return Result{Status: StateFailed, OrderID: attempt.OrderID, ProviderRef: providerRef}, nil
		}
		// transient: leave the attempt pending, the provider retries callbacks
		return Result{}, err
	}

	if auth.Outcome != payment.OutcomeApproved {
		s.failAttempt(ctx, attempt, "NOT_APPROVED")
		return Result{Status: StateFailed, OrderID: attempt.OrderID, ProviderRef: providerRef}, nil
	}
	if auth.AmountCents != 0 && auth.AmountCents != attempt.AmountCents {
		// charged amount disagrees with what was authorized: hard stop
		s.failAttempt(ctx, attempt, "AMOUNT_MISMATCH")
		return Result{}, fmt.Errorf("%w: authorized %d, provider reports %d",
			ErrGatewayConflict, attempt.AmountCents, auth.AmountCents)
	}

	claimed, err := s.complete(ctx, attempt.OrderID, providerRef, attempt.AmountCents)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		// the order left pending while the challenge was open; if another
		// path already completed it this is a duplicate, otherwise the
		// cancellation stands and the approval is dropped
		if o, gerr := s.Orders.Get(ctx, attempt.OrderID); gerr == nil && o.PaymentStatus == orders.PaymentPaid {
			if err := s.Attempts.SetStatus(ctx, providerRef, orders.AttemptAuthorized); err != nil {
				s.Log.Error("mark attempt authorized", zap.String("provider_ref", providerRef), zap.Error(err))
			}
			return Result{Status: StateCompleted, OrderID: attempt.OrderID, ProviderRef: providerRef}, nil
		}
		if err := s.Attempts.SetStatus(ctx, providerRef, orders.AttemptFailed); err != nil {
			s.Log.Error("mark attempt failed", zap.String("provider_ref", providerRef), zap.Error(err))
		}
		return Result{Status: StateFailed, OrderID: attempt.OrderID, ProviderRef: providerRef}, nil
	}
	if err := s.Attempts.SetStatus(ctx, providerRef, orders.AttemptAuthorized); err != nil {
		return Result{}, err
	}
	return Result{Status: StateCompleted, OrderID: attempt.OrderID, ProviderRef: providerRef}, nil
}

// ExpireStale fails every challenge attempt older than the TTL window and
// releases its reservation. The expire CAS makes redundant sweeps harmless.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.Cfg.ChallengeTTL)
	stale, err := s.Attempts.Stale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, a := range stale {
		// the callback may have been lost in transit; ask the provider
		// before giving up on the attempt
		if st, rerr := s.Gateway.Retrieve(ctx, a.ProviderRef); rerr == nil && st.Status == "authorized" {
			claimed, cerr := s.complete(ctx, a.OrderID, a.ProviderRef, a.AmountCents)
			if cerr != nil {
				s.Log.Error("complete recovered attempt", zap.String("order_id", a.OrderID), zap.Error(cerr))
				continue
			}
			if claimed {
				if err := s.Attempts.SetStatus(ctx, a.ProviderRef, orders.AttemptAuthorized); err != nil {
					s.Log.Error("recover attempt", zap.String("provider_ref", a.ProviderRef), zap.Error(err))
				}
				continue
			}
			// the order finished or was cancelled elsewhere; close the
			// attempt without touching the order again
			if _, err := s.Attempts.Expire(ctx, a.ProviderRef); err != nil {
				s.Log.Error("expire attempt", zap.String("provider_ref", a.ProviderRef), zap.Error(err))
			}
			continue
		}

		won, err := s.Attempts.Expire(ctx, a.ProviderRef)
		if err != nil {
			s.Log.Error("expire attempt", zap.String("provider_ref", a.ProviderRef), zap.Error(err))
			continue
		}
		if !won {
			continue // a callback or another sweeper got there first
		}
		s.failOrder(ctx, a.OrderID, a.ProviderRef, "CHALLENGE_EXPIRED")
		s.Log.Info("challenge expired",
			zap.String("order_id", a.OrderID), zap.String("provider_ref", a.ProviderRef))
		expired++
	}
	return expired, nil
}

func (s *Service) authorizeWithRetry(ctx context.Context, draft payment.OrderDraft) (payment.Authorization, error) {
	backoff := 500 * time.Millisecond
	var auth payment.Authorization
	var err error
	for attempt := 0; ; attempt++ {
		auth, err = s.Gateway.Authorize(ctx, draft)
		if err == nil || !errors.Is(err, payment.ErrGatewayUnavailable) {
			return auth, err
		}
		if attempt >= s.Cfg.AuthorizeRetries {
			return auth, err
		}
		s.Log.Warn("authorize retry",
			zap.String("order_id", draft.OrderID), zap.Int("attempt", attempt+1), zap.Error(err))
		if werr := s.sleep(ctx, backoff); werr != nil {
			return auth, werr
		}
		backoff *= 2
	}
}

// complete is the shared approved path. The conditional claim on the
// still-pending order is the linearization point: only the winner commits
// the reservation and emits the event. A lost claim means the order was
// cancelled or finished elsewhere and nothing here may touch it.
func (s *Service) complete(ctx context.Context, orderID, providerRef string, totalCents int) (bool, error) {
	claimed, err := s.Orders.MarkPaid(ctx, orderID, providerRef)
	if err != nil {
		return false, err
	}
	if !claimed {
		s.Log.Warn("completion claim lost, order no longer pending",
			zap.String("order_id", orderID), zap.String("provider_ref", providerRef))
		return false, nil
	}
	if err := s.Ledger.Commit(ctx, orderID); err != nil {
		return true, err
	}
	o, err := s.Orders.Get(ctx, orderID)
	userID := ""
	if err == nil {
		userID = o.UserID
	}
	s.emit(orders.EventCheckoutCompleted, orders.TopicCheckoutCompleted, orderID, orders.CheckoutCompletedPayload{
		OrderID: orderID, UserID: userID, TotalCents: totalCents, ProviderRef: providerRef,
	})
	s.Log.Info("checkout completed", zap.String("order_id", orderID), zap.String("provider_ref", providerRef))
	return true, nil
}

func (s *Service) failAttempt(ctx context.Context, attempt *orders.PaymentAttempt, reason string) {
	if err := s.Attempts.SetStatus(ctx, attempt.ProviderRef, orders.AttemptFailed); err != nil {
		s.Log.Error("mark attempt failed", zap.String("provider_ref", attempt.ProviderRef), zap.Error(err))
	}
	s.failOrder(ctx, attempt.OrderID, attempt.ProviderRef, reason)
}

// failOrder is the single failure funnel: payment failed, stock back
// exactly once, event out.
func (s *Service) failOrder(ctx context.Context, orderID, providerRef, reason string) {
	if err := s.Orders.SetPaymentStatus(ctx, orderID, orders.PaymentFailed, providerRef); err != nil {
		s.Log.Error("mark payment failed", zap.String("order_id", orderID), zap.Error(err))
	}
	release, err := s.Orders.ClaimReleaseFlag(ctx, orderID)
	if err != nil {
		s.Log.Error("claim release flag", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if release {
		s.releaseQuietly(ctx, orderID)
		s.emit(orders.EventStockReleased, orders.TopicStockReleased, orderID,
			orders.StockReleasedPayload{OrderID: orderID, Reason: reason})
	}
	s.emit(orders.EventPaymentFailed, orders.TopicPaymentFailed, orderID, orders.PaymentFailedPayload{
		OrderID: orderID, ProviderRef: providerRef, Reason: reason,
	})
}

func (s *Service) releaseQuietly(ctx context.Context, orderID string) {
	if err := s.Ledger.Release(ctx, orderID); err != nil {
		s.Log.Error("release reservation", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) emit(eventType, topic, orderID string, payload any) {
	if s.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Cfg.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Producer.Publish(topic, orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
