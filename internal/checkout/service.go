// Package checkout starts PayMongo hosted checkouts for orders and handles
// the ways an unpaid checkout ends: timeout, operator command, or the
// shopper coming back through the cancel link.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ariefcatur/go-paymongo-checkout/internal/config"
	"github.com/ariefcatur/go-paymongo-checkout/internal/logger"
	"github.com/ariefcatur/go-paymongo-checkout/internal/money"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/paymongo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Shopper-facing errors. Details stay in logs and order notes.
var (
	ErrCheckoutUnavailable = errors.New("payment provider is temporarily unavailable, please try again")
	ErrCheckoutFailed      = errors.New("unable to start payment, please try again")
	ErrNotPayable          = errors.New("order cannot be paid with PayMongo")
	ErrGatewayDisabled     = errors.New("PayMongo checkout is disabled")
)

const statusSessionCreated = "checkout_session.created"

// Gateway is the part of the PayMongo API the orchestrator needs.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, attrs paymongo.SessionAttributes, idempotencyKey string) (*paymongo.Session, error)
	ExpireCheckoutSession(ctx context.Context, id string) (*paymongo.Session, error)
}

// GatewayFor returns the gateway client for a mode ("test" or "live").
type GatewayFor func(mode string) Gateway

type Scheduler interface {
	ScheduleAutocancel(ctx context.Context, orderID int64, orderKey string, at time.Time) error
}

type EventSink interface {
	OrderCancelled(ctx context.Context, p orders.OrderCancelledPayload)
}

type Service struct {
	Store     orders.Store
	Gateways  GatewayFor
	Settings  config.Gateway
	Links     *CancelLinks
	Scheduler Scheduler // optional
	Events    EventSink // optional

	StoreName     string
	StorefrontURL string
	PublicBaseURL string

	Log *zap.Logger
	Now func() time.Time
}

// StartPayment returns the hosted checkout URL for an order, creating the
// remote session on first use. orderKey must match the order; a wrong key
// reads as orders.ErrNotFound.
func (s *Service) StartPayment(ctx context.Context, orderID int64, orderKey string) (string, error) {
	if !s.Settings.Enabled {
		return "", ErrGatewayDisabled
	}

	var (
		snap     orders.Order
		existing string
	)
	err := s.Store.Update(ctx, orderID, func(o *orders.Order) error {
		if !keyMatches(o.Key, orderKey) {
			return orders.ErrNotFound
		}
		if !o.OwnedByGateway() || o.IsPaid() {
			return ErrNotPayable
		}
		changed := false
		if !o.Status.AwaitingPayment() {
			if err := o.SetStatus(orders.StatusPending, "Awaiting PayMongo payment."); err != nil {
				return fmt.Errorf("%w: %v", ErrNotPayable, err)
			}
			changed = true
		}
		if o.CheckoutSessionID != "" && o.CheckoutURL != "" {
			existing = o.CheckoutURL
		}
		snap = *o
		if !changed {
			return orders.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	mode := s.Settings.Mode
	attrs := s.sessionAttributes(&snap, mode)
	idem := fmt.Sprintf("wc_%d_%s", snap.ID, snap.Key)

	sess, err := s.Gateways(mode).CreateCheckoutSession(ctx, attrs, idem)
	if err != nil {
		msg := logger.Redact(err.Error())
		s.log().Error("checkout session create failed", zap.Int64("order", orderID), zap.String("error", msg))
		s.note(ctx, orderID, "PayMongo checkout session creation failed: "+msg)
		if paymongo.IsRetryable(err) {
			return "", ErrCheckoutUnavailable
		}
		return "", ErrCheckoutFailed
	}

	redirect := sess.CheckoutURL
	err = s.Store.Update(ctx, orderID, func(o *orders.Order) error {
		if o.CheckoutSessionID != "" && o.CheckoutURL != "" {
			// concurrent start already stored a session
			redirect = o.CheckoutURL
			return orders.ErrNoChange
		}
		o.CheckoutSessionID = sess.ID
		o.CheckoutURL = sess.CheckoutURL
		o.PaymentMode = mode
		o.LastStatus = statusSessionCreated
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store checkout session: %w", err)
	}

	if s.Settings.AutoCancelDelay > 0 && s.Scheduler != nil {
		at := s.now().Add(s.Settings.AutoCancelDelay)
		if err := s.Scheduler.ScheduleAutocancel(ctx, snap.ID, snap.Key, at); err != nil {
			s.log().Warn("schedule autocancel failed", zap.Int64("order", orderID), zap.Error(err))
		}
	}
	return redirect, nil
}

func (s *Service) sessionAttributes(o *orders.Order, mode string) paymongo.SessionAttributes {
	dec := s.Settings.PriceDecimals
	amount := money.ToMinorDecimals(o.Total, dec)

	items := make([]paymongo.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		lineMinor := money.ToMinorDecimals(it.LineTotal.Add(it.LineTax), dec)
		qty, unit := it.Quantity, lineMinor
		if qty > 0 {
			unit = decimal.NewFromInt(lineMinor).Div(decimal.NewFromInt(int64(qty))).Round(0).IntPart()
		}
		items = append(items, paymongo.LineItem{
			Name:        it.Name,
			Quantity:    max(1, qty),
			Amount:      max(0, unit),
			Currency:    o.Currency,
			Description: it.Name,
		})
	}
	if len(items) == 0 {
		name := fmt.Sprintf("Order #%d", o.ID)
		items = append(items, paymongo.LineItem{
			Name: name, Quantity: 1, Amount: max(0, amount), Currency: o.Currency, Description: name,
		})
	}

	domain := ""
	if u, err := url.Parse(s.StorefrontURL); err == nil {
		domain = u.Hostname()
	}

	return paymongo.SessionAttributes{
		Amount:             amount,
		Currency:           o.Currency,
		Description:        fmt.Sprintf("%s - Order #%d", s.StoreName, o.ID),
		PaymentMethodTypes: s.Settings.PaymentMethodTypes,
		LineItems:          items,
		SuccessURL:         fmt.Sprintf("%s/checkout/order-received/%d?key=%s", s.StorefrontURL, o.ID, url.QueryEscape(o.Key)),
		CancelURL:          s.Links.URL(s.PublicBaseURL+"/checkout/cancel", o.ID, o.Key),
		Metadata: map[string]string{
			"woo_order_id":  fmt.Sprint(o.ID),
			"woo_order_key": o.Key,
			"store":         s.StoreName,
			"domain":        domain,
			"mode":          mode,
		},
	}
}

// CheckoutURL is where the shopper lands after a cancel return.
func (s *Service) CheckoutURL() string { return s.StorefrontURL + "/checkout" }

// CancelReturn records that the shopper came back from the cancel link. The
// caller always redirects to the storefront checkout; an error only means no
// note was written.
func (s *Service) CancelReturn(ctx context.Context, p CancelParams) error {
	if !s.Links.Valid(p, s.Settings.AllowLegacyUnsignedCancel) {
		return ErrInvalidCancelLink
	}
	if p.Sig == "" {
		s.log().Info("legacy unsigned cancel link accepted", zap.Int64("order", p.OrderID))
	}
	err := s.Store.Update(ctx, p.OrderID, func(o *orders.Order) error {
		if !keyMatches(o.Key, p.Key) {
			return ErrInvalidCancelLink
		}
		o.AddNote("Customer returned from PayMongo cancel URL (payment not completed).")
		return nil
	})
	if errors.Is(err, orders.ErrNotFound) {
		return ErrInvalidCancelLink
	}
	return err
}

func (s *Service) note(ctx context.Context, orderID int64, body string) {
	err := s.Store.Update(ctx, orderID, func(o *orders.Order) error {
		o.AddNote(body)
		return nil
	})
	if err != nil {
		s.log().Warn("add order note failed", zap.Int64("order", orderID), zap.Error(err))
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}
