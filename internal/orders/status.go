package orders

import "errors"

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
)

// ErrForbidden is returned when this actor may never perform the requested
// transition; ErrInvalidTransition when nobody may.
var (
	ErrForbidden         = errors.New("orders: transition not permitted for actor")
	ErrInvalidTransition = errors.New("orders: invalid status transition")
)

// fulfillment rank along pending -> processing -> shipped -> delivered
var forwardRank = map[OrderStatus]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusShipped:    2,
	StatusDelivered:  3,
}

// CanTransition decides whether actor may move an order between statuses.
// Customers may only cancel pending/processing orders. Admins may move
// forward along the fulfillment path and may cancel anything not yet
// delivered or already cancelled.
func CanTransition(actor Actor, from, to OrderStatus) error {
	if from == to {
		return ErrInvalidTransition
	}
	switch actor {
	case ActorCustomer:
		if to != StatusCancelled || (from != StatusPending && from != StatusProcessing) {
			return ErrForbidden
		}
		return nil
	case ActorAdmin:
		if from == StatusCancelled || from == StatusDelivered {
			return ErrInvalidTransition
		}
		if to == StatusCancelled {
			return nil
		}
		fr, okFrom := forwardRank[from]
		tr, okTo := forwardRank[to]
		if !okFrom || !okTo || tr <= fr {
			return ErrInvalidTransition
		}
		return nil
	default:
		return ErrForbidden
	}
}
