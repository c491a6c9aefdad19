package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
)

// Store is the persistence surface the state machine needs.
type Store interface {
	Get(ctx context.Context, orderID string) (*Order, error)
	SetOrderStatus(ctx context.Context, orderID string, from, to OrderStatus) error
	MarkCancelled(ctx context.Context, orderID string, from OrderStatus) (release bool, err error)
}

// Publisher matches the kafka producer's publish signature.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Service owns order lifecycle transitions. All status changes flow through
// Transition; nothing else writes order_status. Payment status is out of its
// reach entirely, that belongs to the checkout paths.
type Service struct {
	Store       Store
	Ledger      inventory.Ledger
	Producer    Publisher
	Log         *zap.Logger
	ServiceName string
}

// Transition applies one actor-requested status change. First entry into
// cancelled claims the one-shot release flag and gives the stock back.
func (s *Service) Transition(ctx context.Context, actor Actor, orderID string, to OrderStatus) (*Order, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := o.OrderStatus

	if err := CanTransition(actor, from, to); err != nil {
		return nil, err
	}

	if to == StatusCancelled {
		release, err := s.Store.MarkCancelled(ctx, orderID, from)
		if err != nil {
			return nil, err
		}
		if release {
			if err := s.Ledger.Release(ctx, orderID); err != nil {
				// flag is already claimed; surface the error so the caller
				// can retry the release explicitly
				s.Log.Error("release after cancel failed", zap.String("order_id", orderID), zap.Error(err))
				return nil, err
			}
			s.emit(EventStockReleased, TopicStockReleased, orderID,
				StockReleasedPayload{OrderID: orderID, Reason: "CANCELLED"})
		}
	} else {
		if err := s.Store.SetOrderStatus(ctx, orderID, from, to); err != nil {
			return nil, err
		}
	}

	s.emit(EventOrderStatusChanged, TopicOrderStatusChanged, orderID, OrderStatusChangedPayload{
		OrderID: orderID, From: string(from), To: string(to), Actor: string(actor),
	})
	s.Log.Info("order status changed",
		zap.String("order_id", orderID), zap.String("from", string(from)),
		zap.String("to", string(to)), zap.String("actor", string(actor)))

	return s.Store.Get(ctx, orderID)
}

func (s *Service) emit(eventType, topic, orderID string, payload any) {
	if s.Producer == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Producer.Publish(topic, PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
