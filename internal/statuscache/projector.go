package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

// Projector keeps the Redis order-status cache in step with order events.
// The database stays authoritative; every event triggers a re-read so the
// cached document never depends on event ordering.
type Projector struct {
	Orders      *orders.Repo
	Redis       *redis.Client
	Log         *zap.Logger
	ServiceName string
}

// HandleEvent is installed as the consumer handler.
func (p *Projector) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// malformed message; committing it beats blocking the partition
		p.Log.Warn("dropping malformed event", zap.String("topic", m.Topic), zap.Error(err))
		return nil
	}

	switch env.EventType {
	case orders.EventCheckoutCompleted, orders.EventPaymentFailed,
		orders.EventOrderStatusChanged, orders.EventStockReleased:
	default:
		return nil // ignore
	}

	if env.EventType == orders.EventOrderStatusChanged {
		if pl, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload); err == nil {
			p.Log.Info("order transition observed",
				zap.String("order_id", pl.OrderID), zap.String("from", pl.From),
				zap.String("to", pl.To), zap.String("actor", pl.Actor))
		}
	}

	// dedup via Redis keyed by event_id
	dkey := fmt.Sprintf(redisx.KeyDedup, p.ServiceName, env.EventID)
	exists, _ := redisx.Exists(ctx, p.Redis, dkey)
	if exists {
		return nil
	}
	_ = p.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	orderID := env.CorrelationID
	if orderID == "" {
		return nil
	}

	o, err := p.Orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return redisx.InvalidateOrderStatus(ctx, p.Redis, orderID)
	}
	if err != nil {
		return err
	}
	if err := redisx.CacheOrderStatus(ctx, p.Redis, o.ID, o.UserID,
		string(o.OrderStatus), string(o.PaymentStatus)); err != nil {
		return err
	}

	p.Log.Info("status cache refreshed",
		zap.String("order_id", orderID),
		zap.String("event_type", env.EventType),
		zap.String("order_status", string(o.OrderStatus)),
		zap.String("payment_status", string(o.PaymentStatus)))
	return nil
}
