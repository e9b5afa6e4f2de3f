package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"

	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
)

type Strategy string

const (
	StrategyMetadata        Strategy = "metadata"
	StrategyCheckoutSession Strategy = "checkout_session"
	StrategyPaymentID       Strategy = "payment_id"
)

// Resolver binds a webhook resource to a local order. The first strategy
// that matches wins; results are never merged.
type Resolver struct {
	Store orders.Store
}

// Resolve returns the matching order, or nil when no strategy matches.
func (r *Resolver) Resolve(ctx context.Context, res Resource) (*orders.Order, Strategy, error) {
	meta := res.Metadata()
	if id, err := strconv.ParseInt(metaString(meta, "woo_order_id"), 10, 64); err == nil && id > 0 {
		key := metaString(meta, "woo_order_key")
		o, err := r.Store.Get(ctx, id)
		switch {
		case errors.Is(err, orders.ErrNotFound):
		case err != nil:
			return nil, "", err
		case key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(o.Key)) == 1:
			return o, StrategyMetadata, nil
		}
	}

	if res.Type == ResourceCheckoutSession && res.ID != "" {
		o, err := r.Store.FindByCheckoutSession(ctx, res.ID)
		if err == nil {
			return o, StrategyCheckoutSession, nil
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return nil, "", err
		}
	}

	if pid := res.PaymentID(); pid != "" {
		o, err := r.Store.FindByPaymentID(ctx, pid)
		if err == nil {
			return o, StrategyPaymentID, nil
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, "", nil
}
