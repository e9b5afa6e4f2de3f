package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-paymongo-checkout/internal/checkout"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Checkout interface {
	StartPayment(ctx context.Context, orderID int64, orderKey string) (string, error)
	CancelReturn(ctx context.Context, p checkout.CancelParams) error
	CheckoutURL() string
}

type OrderReader interface {
	Get(ctx context.Context, id int64) (*orders.Order, error)
}

type OrdersHandler struct {
	Checkout      Checkout
	Orders        OrderReader
	Redis         redis.Cmdable // optional status cache
	CancelLimiter *RateLimiter  // optional
	Log           *zap.Logger
}

type CheckoutResp struct {
	Redirect string `json:"redirect"`
}

type PaymentStatusResp struct {
	OrderID           int64      `json:"order_id"`
	Status            string     `json:"status"`
	Paid              bool       `json:"paid"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CheckoutSessionID string     `json:"checkout_session_id,omitempty"`
	LastStatus        string     `json:"last_status,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders/{id}/checkout", h.startCheckout)
	r.Get("/orders/{id}/payment", h.getPayment)

	cancel := http.HandlerFunc(h.cancelReturn)
	if h.CancelLimiter != nil {
		r.Method(http.MethodGet, "/checkout/cancel", h.CancelLimiter.Limit(cancel))
	} else {
		r.Get("/checkout/cancel", cancel)
	}
}

func (h *OrdersHandler) startCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	// tanpa key yang cocok, order diperlakukan seperti tidak ada
	orderKey := r.URL.Query().Get("key")
	if orderKey == "" {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	redirect, err := h.Checkout.StartPayment(r.Context(), id, orderKey)
	switch {
	case err == nil:
		h.forget(r.Context(), id)
		writeJSON(w, http.StatusOK, CheckoutResp{Redirect: redirect})
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, checkout.ErrNotPayable):
		writeError(w, http.StatusConflict, checkout.ErrNotPayable.Error())
	case errors.Is(err, checkout.ErrGatewayDisabled):
		writeError(w, http.StatusServiceUnavailable, checkout.ErrGatewayDisabled.Error())
	case errors.Is(err, checkout.ErrCheckoutUnavailable):
		writeError(w, http.StatusServiceUnavailable, checkout.ErrCheckoutUnavailable.Error())
	case errors.Is(err, checkout.ErrCheckoutFailed):
		writeError(w, http.StatusBadGateway, checkout.ErrCheckoutFailed.Error())
	default:
		h.log().Error("start checkout failed", zap.Int64("order", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, checkout.ErrCheckoutFailed.Error())
	}
}

func (h *OrdersHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	key := fmt.Sprintf(redisx.KeyOrderStatus, id)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	// 2) fallback DB
	o, err := h.Orders.Get(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.log().Error("load order failed", zap.Int64("order", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	body := PaymentStatusResp{
		OrderID:           o.ID,
		Status:            string(o.Status),
		Paid:              o.IsPaid(),
		PaidAt:            o.PaidAt,
		CheckoutSessionID: o.CheckoutSessionID,
		LastStatus:        o.LastStatus,
	}
	b, _ := json.Marshal(body)
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, json.RawMessage(b))
}

// cancelReturn always sends the shopper back to the storefront checkout.
func (h *OrdersHandler) cancelReturn(w http.ResponseWriter, r *http.Request) {
	p, err := checkout.ParseCancelParams(r.URL.Query())
	if err == nil {
		err = h.Checkout.CancelReturn(r.Context(), p)
	}
	if err != nil {
		h.log().Info("cancel return not recorded", zap.Int64("order", p.OrderID), zap.Error(err))
	} else {
		h.forget(r.Context(), p.OrderID)
	}
	http.Redirect(w, r, h.Checkout.CheckoutURL(), http.StatusSeeOther)
}

func (h *OrdersHandler) forget(ctx context.Context, id int64) {
	if h.Redis != nil {
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, id)).Err()
	}
}

func (h *OrdersHandler) log() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return zap.NewNop()
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}
