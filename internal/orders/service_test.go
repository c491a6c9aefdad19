package orders

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
)

type memStore struct {
	mu    sync.Mutex
	items map[string]*Order
}

func newMemStore(seed ...*Order) *memStore {
	s := &memStore{items: map[string]*Order{}}
	for _, o := range seed {
		cp := *o
		s.items[o.ID] = &cp
	}
	return s
}

func (s *memStore) Get(_ context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.items[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) SetOrderStatus(_ context.Context, orderID string, from, to OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.items[orderID]
	if !ok || o.OrderStatus != from {
		return ErrInvalidTransition
	}
	o.OrderStatus = to
	return nil
}

func (s *memStore) MarkCancelled(_ context.Context, orderID string, from OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.items[orderID]
	if !ok || o.OrderStatus != from {
		return false, ErrInvalidTransition
	}
	o.OrderStatus = StatusCancelled
	if o.PaymentStatus == PaymentPending {
		o.PaymentStatus = PaymentFailed
	}
	if o.StockReleased {
		return false, nil
	}
	o.StockReleased = true
	return true, nil
}

type recordPublisher struct {
	mu     sync.Mutex
	events []Envelope
}

func (p *recordPublisher) Publish(_ string, _, value []byte, _ ...kafkago.Header) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return
	}
	p.mu.Lock()
	p.events = append(p.events, env)
	p.mu.Unlock()
}

func (p *recordPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

func newOrderService(store Store, led *inventory.MemoryLedger) (*Service, *recordPublisher) {
	pub := &recordPublisher{}
	return &Service{
		Store:       store,
		Ledger:      led,
		Producer:    pub,
		Log:         zap.NewNop(),
		ServiceName: "orders-test",
	}, pub
}

func TestTransitionCustomerCancelReleasesStock(t *testing.T) {
	led := inventory.NewMemoryLedger()
	led.SetStock("mug", 10)
	require.NoError(t, led.Reserve(context.Background(), "ord-1", []inventory.Line{{ProductID: "mug", Qty: 2}}))

	store := newMemStore(&Order{ID: "ord-1", UserID: "u1", OrderStatus: StatusPending, PaymentStatus: PaymentPending})
	svc, pub := newOrderService(store, led)

	o, err := svc.Transition(context.Background(), ActorCustomer, "ord-1", StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.OrderStatus)
	assert.Equal(t, PaymentFailed, o.PaymentStatus)
	assert.Equal(t, 10, led.Available("mug", "", ""))

	types := pub.types()
	assert.Contains(t, types, EventStockReleased)
	assert.Contains(t, types, EventOrderStatusChanged)
}

func TestTransitionCancelReleasesOnlyOnce(t *testing.T) {
	led := inventory.NewMemoryLedger()
	led.SetStock("mug", 10)
	require.NoError(t, led.Reserve(context.Background(), "ord-1", []inventory.Line{{ProductID: "mug", Qty: 2}}))

	store := newMemStore(&Order{
		ID: "ord-1", OrderStatus: StatusShipped, PaymentStatus: PaymentPaid, StockReleased: true,
	})
	svc, pub := newOrderService(store, led)

	o, err := svc.Transition(context.Background(), ActorAdmin, "ord-1", StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.OrderStatus)
	assert.Equal(t, 8, led.Available("mug", "", ""), "claimed flag must suppress a second release")
	assert.NotContains(t, pub.types(), EventStockReleased)
}

func TestTransitionAdminForward(t *testing.T) {
	store := newMemStore(&Order{ID: "ord-1", OrderStatus: StatusProcessing, PaymentStatus: PaymentPaid})
	svc, pub := newOrderService(store, inventory.NewMemoryLedger())

	o, err := svc.Transition(context.Background(), ActorAdmin, "ord-1", StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.OrderStatus)
	assert.Contains(t, pub.types(), EventOrderStatusChanged)
}

func TestTransitionCustomerCannotShip(t *testing.T) {
	store := newMemStore(&Order{ID: "ord-1", OrderStatus: StatusProcessing, PaymentStatus: PaymentPaid})
	svc, pub := newOrderService(store, inventory.NewMemoryLedger())

	_, err := svc.Transition(context.Background(), ActorCustomer, "ord-1", StatusShipped)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, pub.types())
}

func TestTransitionCancelledIsTerminal(t *testing.T) {
	store := newMemStore(&Order{ID: "ord-1", OrderStatus: StatusCancelled, PaymentStatus: PaymentFailed, StockReleased: true})
	svc, _ := newOrderService(store, inventory.NewMemoryLedger())

	_, err := svc.Transition(context.Background(), ActorAdmin, "ord-1", StatusProcessing)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionUnknownOrder(t *testing.T) {
	svc, _ := newOrderService(newMemStore(), inventory.NewMemoryLedger())
	_, err := svc.Transition(context.Background(), ActorAdmin, "ghost", StatusProcessing)
	assert.ErrorIs(t, err, ErrNotFound)
}

// staleStore reports an outdated status from Get, as if another transition
// committed between the read and the write.
type staleStore struct {
	*memStore
	reported OrderStatus
}

func (s *staleStore) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.memStore.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.OrderStatus = s.reported
	return o, nil
}

func TestTransitionCancelRejectsStaleRead(t *testing.T) {
	led := inventory.NewMemoryLedger()
	led.SetStock("mug", 10)
	store := &staleStore{
		memStore: newMemStore(&Order{ID: "ord-1", OrderStatus: StatusDelivered, PaymentStatus: PaymentPaid}),
		reported: StatusShipped,
	}
	svc, pub := newOrderService(store, led)

	_, err := svc.Transition(context.Background(), ActorAdmin, "ord-1", StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	o, err := store.memStore.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.OrderStatus, "a delivered order must survive a stale cancel")
	assert.False(t, o.StockReleased)
	assert.Empty(t, pub.types())
}

func TestTransitionForwardRejectsStaleRead(t *testing.T) {
	store := &staleStore{
		memStore: newMemStore(&Order{ID: "ord-1", OrderStatus: StatusCancelled, PaymentStatus: PaymentFailed, StockReleased: true}),
		reported: StatusProcessing,
	}
	svc, pub := newOrderService(store, inventory.NewMemoryLedger())

	_, err := svc.Transition(context.Background(), ActorAdmin, "ord-1", StatusShipped)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	o, err := store.memStore.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.OrderStatus)
	assert.Empty(t, pub.types())
}
