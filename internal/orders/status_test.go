package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionCustomer(t *testing.T) {
	cases := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want error
	}{
		{"cancel pending", StatusPending, StatusCancelled, nil},
		{"cancel processing", StatusProcessing, StatusCancelled, nil},
		{"cancel shipped", StatusShipped, StatusCancelled, ErrForbidden},
		{"cancel delivered", StatusDelivered, StatusCancelled, ErrForbidden},
		{"advance pending", StatusPending, StatusProcessing, ErrForbidden},
		{"advance shipped", StatusShipped, StatusDelivered, ErrForbidden},
		{"cancel twice", StatusCancelled, StatusCancelled, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CanTransition(ActorCustomer, tc.from, tc.to)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestCanTransitionAdmin(t *testing.T) {
	cases := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want error
	}{
		{"pending to processing", StatusPending, StatusProcessing, nil},
		{"processing to shipped", StatusProcessing, StatusShipped, nil},
		{"shipped to delivered", StatusShipped, StatusDelivered, nil},
		{"pending straight to shipped", StatusPending, StatusShipped, nil},
		{"cancel pending", StatusPending, StatusCancelled, nil},
		{"cancel shipped", StatusShipped, StatusCancelled, nil},
		{"backwards", StatusShipped, StatusProcessing, ErrInvalidTransition},
		{"delivered is terminal", StatusDelivered, StatusShipped, ErrInvalidTransition},
		{"cancel delivered", StatusDelivered, StatusCancelled, ErrInvalidTransition},
		{"cancelled is terminal", StatusCancelled, StatusProcessing, ErrInvalidTransition},
		{"revive cancelled", StatusCancelled, StatusPending, ErrInvalidTransition},
		{"same status", StatusProcessing, StatusProcessing, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CanTransition(ActorAdmin, tc.from, tc.to)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestCanTransitionUnknownActor(t *testing.T) {
	assert.ErrorIs(t, CanTransition(Actor("service"), StatusPending, StatusCancelled), ErrForbidden)
}

func TestValidOrderStatus(t *testing.T) {
	for _, s := range []OrderStatus{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled} {
		assert.True(t, ValidOrderStatus(s))
	}
	assert.False(t, ValidOrderStatus(OrderStatus("returned")))
	assert.False(t, ValidOrderStatus(OrderStatus("")))
}
