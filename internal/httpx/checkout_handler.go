package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-checkout.git/internal/auth"
	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/payment"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

type CheckoutHandler struct {
	Svc      *checkout.Service
	Redis    *redis.Client
	Verifier *auth.Verifier
	Log      *zap.Logger
}

type checkoutReq struct {
	Lines []checkout.CartLine `json:"lines"`
	Card  cardReq             `json:"card"`
	Buyer *buyerReq           `json:"buyer,omitempty"`
	// shipping address is passed through for fulfillment; checkout itself
	// only needs it present
	ShippingAddress json.RawMessage `json:"shipping_address,omitempty"`
}

type cardReq struct {
	HolderName  string `json:"holder_name"`
	Number      string `json:"number"`
	ExpireMonth string `json:"expire_month"`
	ExpireYear  string `json:"expire_year"`
	CVC         string `json:"cvc"`
}

type buyerReq struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type callbackReq struct {
	ProviderRef string          `json:"provider_ref"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Group(func(g chi.Router) {
		g.Use(h.Verifier.Middleware)
		g.Post("/checkout", h.create)
	})
	// server-to-server callback from the provider; authenticated by the
	// provider reference lookup, not by a user token
	r.Post("/checkout/callback", h.callback)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *CheckoutHandler) create(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
		return
	}

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	var buyer *payment.Buyer
	if req.Buyer != nil {
		buyer = &payment.Buyer{ID: id.UserID, Name: req.Buyer.Name, Email: req.Buyer.Email}
	}
	res, err := h.Svc.Checkout(r.Context(), checkout.Request{
		UserID: id.UserID,
		Lines:  req.Lines,
		Buyer:  buyer,
		Card: payment.Card{
			HolderName:  req.Card.HolderName,
			Number:      req.Card.Number,
			ExpireMonth: req.Card.ExpireMonth,
			ExpireYear:  req.Card.ExpireYear,
			CVC:         req.Card.CVC,
		},
	})
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}

	switch res.Status {
	case checkout.StateCompleted:
		_ = redisx.CacheOrderStatus(r.Context(), h.Redis, res.OrderID, id.UserID,
			string(orders.StatusProcessing), string(orders.PaymentPaid))
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "completed",
			"order_id":    res.OrderID,
			"total_cents": res.TotalCents,
		})
	case checkout.StateChallengePending:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "challenge_required",
			"order_id":      res.OrderID,
			"total_cents":   res.TotalCents,
			"redirect_html": res.RedirectHTML,
		})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "checkout did not complete"})
	}
}

func (h *CheckoutHandler) callback(w http.ResponseWriter, r *http.Request) {
	var req callbackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProviderRef == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid callback payload"})
		return
	}

	res, err := h.Svc.Callback(r.Context(), req.ProviderRef, req.Payload)
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}
	_ = redisx.InvalidateOrderStatus(r.Context(), h.Redis, res.OrderID)
	writeJSON(w, http.StatusOK, map[string]string{"status": res.Status, "order_id": res.OrderID})
}

// writeCheckoutError maps the error taxonomy onto HTTP. Provider-internal
// detail is logged, never echoed.
func (h *CheckoutHandler) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *checkout.ValidationError
	var short *inventory.InsufficientStockError
	var declined *payment.DeclinedError

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Reason})
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient stock",
			"product_id": short.ProductID,
			"color":      short.Color,
			"size":       short.Size,
			"requested":  short.Requested,
			"available":  short.Available,
		})
	case errors.As(err, &declined):
		h.Log.Info("payment declined", zap.String("path", r.URL.Path), zap.String("code", declined.Code))
		writeJSON(w, http.StatusPaymentRequired, map[string]string{
			"error":        "payment declined",
			"decline_code": declined.Code,
		})
	case errors.Is(err, payment.ErrGatewayUnavailable):
		h.Log.Error("gateway unavailable", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment provider unavailable"})
	case errors.Is(err, checkout.ErrGatewayConflict):
		h.Log.Error("provider conflict", zap.Error(err))
		writeJSON(w, http.StatusConflict, map[string]string{"error": "payment could not be reconciled"})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		h.Log.Error("checkout error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
