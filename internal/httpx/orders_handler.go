package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-shop-checkout.git/internal/auth"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

// ProductLister is the storefront slice of the catalog.
type ProductLister interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type OrdersHandler struct {
	Svc      *orders.Service
	Store    orders.Store
	Catalog  ProductLister
	Redis    *redis.Client
	Verifier *auth.Verifier
	Log      *zap.Logger
}

type transitionReq struct {
	Status string `json:"status"`
}

type orderLineResp struct {
	ProductID      string `json:"product_id"`
	Color          string `json:"color,omitempty"`
	Size           string `json:"size,omitempty"`
	Qty            int    `json:"qty"`
	UnitPriceCents int    `json:"unit_price_cents"`
}

type orderResp struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	OrderStatus   string          `json:"order_status"`
	PaymentStatus string          `json:"payment_status"`
	TotalCents    int             `json:"total_cents"`
	ShippingCents int             `json:"shipping_cents"`
	Lines         []orderLineResp `json:"lines,omitempty"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/products", h.listProducts)
	r.Group(func(g chi.Router) {
		g.Use(h.Verifier.Middleware)
		g.Get("/orders/{id}", h.getOrder)
		g.Patch("/orders/{id}", h.transition)
	})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.ListProducts(r.Context())
	if err != nil {
		h.Log.Error("list products failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	type variantResp struct {
		Color string `json:"color"`
		Size  string `json:"size"`
		Stock int    `json:"stock"`
	}
	type productResp struct {
		ID         string        `json:"id"`
		SKU        string        `json:"sku"`
		Name       string        `json:"name"`
		PriceCents int           `json:"price_cents"`
		TotalStock int           `json:"total_stock"`
		Variants   []variantResp `json:"variants,omitempty"`
	}
	out := make([]productResp, 0, len(products))
	for _, p := range products {
		pr := productResp{ID: p.ID, SKU: p.SKU, Name: p.Name, PriceCents: p.PriceCents, TotalStock: p.TotalStock}
		for _, v := range p.Variants {
			pr.Variants = append(pr.Variants, variantResp{Color: v.Color, Size: v.Size, Stock: v.Stock})
		}
		out = append(out, pr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": out})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
		return
	}
	orderID := chi.URLParam(r, "id")

	// cache fast path for the common status poll; full line detail always
	// comes from the database
	if cached, hit, err := redisx.GetOrderStatus(r.Context(), h.Redis, orderID); err == nil && hit {
		if id.IsAdmin() || cached.UserID == id.UserID {
			writeJSON(w, http.StatusOK, orderResp{
				ID:            orderID,
				UserID:        cached.UserID,
				OrderStatus:   cached.OrderStatus,
				PaymentStatus: cached.PaymentStatus,
			})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	o, err := h.Store.Get(r.Context(), orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		h.Log.Error("get order failed", zap.String("order_id", orderID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !id.IsAdmin() && o.UserID != id.UserID {
		// hide existence from other customers
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	_ = redisx.CacheOrderStatus(r.Context(), h.Redis, o.ID, o.UserID,
		string(o.OrderStatus), string(o.PaymentStatus))
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
		return
	}
	orderID := chi.URLParam(r, "id")

	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	to := orders.OrderStatus(req.Status)
	if !orders.ValidOrderStatus(to) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	actor := orders.ActorCustomer
	if id.IsAdmin() {
		actor = orders.ActorAdmin
	} else {
		o, err := h.Store.Get(r.Context(), orderID)
		if errors.Is(err, orders.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		if err != nil {
			h.Log.Error("get order failed", zap.String("order_id", orderID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		if o.UserID != id.UserID {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
	}

	o, err := h.Svc.Transition(r.Context(), actor, orderID, to)
	if err != nil {
		h.writeTransitionError(w, orderID, err)
		return
	}
	_ = redisx.InvalidateOrderStatus(r.Context(), h.Redis, orderID)
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) writeTransitionError(w http.ResponseWriter, orderID string, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, orders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "transition not allowed for this actor"})
	case errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "invalid status transition"})
	default:
		h.Log.Error("transition failed", zap.String("order_id", orderID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func toOrderResp(o *orders.Order) orderResp {
	resp := orderResp{
		ID:            o.ID,
		UserID:        o.UserID,
		OrderStatus:   string(o.OrderStatus),
		PaymentStatus: string(o.PaymentStatus),
		TotalCents:    o.TotalCents,
		ShippingCents: o.ShippingCents,
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResp{
			ProductID:      l.ProductID,
			Color:          l.Color,
			Size:           l.Size,
			Qty:            l.Qty,
			UnitPriceCents: l.UnitPriceCents,
		})
	}
	return resp
}
