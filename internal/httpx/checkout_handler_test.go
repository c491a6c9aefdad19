package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/payment"
)

func TestWriteCheckoutError(t *testing.T) {
	h := &CheckoutHandler{Log: zap.NewNop()}

	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation", &checkout.ValidationError{Reason: "cart is empty"}, http.StatusBadRequest},
		{"insufficient stock", &inventory.InsufficientStockError{ProductID: "p1", Requested: 3, Available: 1}, http.StatusConflict},
		{"declined", &payment.DeclinedError{Code: "DO_NOT_HONOR", Message: "nope"}, http.StatusPaymentRequired},
		{"unavailable", fmt.Errorf("%w: refused", payment.ErrGatewayUnavailable), http.StatusBadGateway},
		{"conflict", fmt.Errorf("%w: amount", checkout.ErrGatewayConflict), http.StatusConflict},
		{"not found", orders.ErrNotFound, http.StatusNotFound},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
			h.writeCheckoutError(rec, req, tc.err)
			assert.Equal(t, tc.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestWriteCheckoutErrorStockDetails(t *testing.T) {
	h := &CheckoutHandler{Log: zap.NewNop()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)

	h.writeCheckoutError(rec, req, &inventory.InsufficientStockError{
		ProductID: "shirt", Color: "red", Size: "M", Requested: 4, Available: 1,
	})

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "shirt", body["product_id"])
	assert.Equal(t, "red", body["color"])
	assert.EqualValues(t, 4, body["requested"])
	assert.EqualValues(t, 1, body["available"])
}

func TestWriteCheckoutErrorHidesDeclineDetail(t *testing.T) {
	h := &CheckoutHandler{Log: zap.NewNop()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)

	h.writeCheckoutError(rec, req, &payment.DeclinedError{Code: "51", Message: "issuer says no"})

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "51", body["decline_code"])
	assert.NotContains(t, rec.Body.String(), "issuer says no")
}
