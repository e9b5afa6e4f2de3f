package checkout

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/ariefcatur/go-paymongo-checkout/internal/logger"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/paymongo"
	"go.uber.org/zap"
)

// expireResult is what happened to the remote session before a local cancel.
type expireResult int

const (
	expireNoSession expireResult = iota
	expireDone
	expireFailed
	expireNoCredentials
)

// Autocancel runs when the payment deadline fires. The remote session is
// expired best-effort outside the row lock; the paid check is repeated under
// the lock so a payment that landed in between wins.
func (s *Service) Autocancel(ctx context.Context, orderID int64, orderKey string) error {
	o, err := s.Store.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !autocancelable(o, orderKey) {
		s.log().Debug("autocancel skipped", zap.Int64("order", orderID), zap.String("status", string(o.Status)))
		return nil
	}

	res, errMsg := s.expireRemote(ctx, o)
	var cancelled bool
	err = s.Store.Update(ctx, orderID, func(o *orders.Order) error {
		if !autocancelable(o, orderKey) {
			return orders.ErrNoChange
		}
		var note string
		switch res {
		case expireNoSession:
			note = "Auto-cancelled after timeout (no PayMongo session id found)."
		case expireDone:
			o.AddNote("PayMongo checkout session expired via API before auto-cancel: %s", o.CheckoutSessionID)
			note = "Auto-cancelled after timeout (PayMongo checkout session expired)."
		case expireNoCredentials:
			o.AddNote("Auto-cancel: missing PayMongo secret key for mode %s.", modeOf(o))
			note = "Auto-cancelled after timeout (PayMongo checkout session expire failed)."
		default:
			o.AddNote("Auto-cancel: failed to expire PayMongo checkout session %s. Error: %s", o.CheckoutSessionID, errMsg)
			note = "Auto-cancelled after timeout (PayMongo checkout session expire failed)."
		}
		if err := o.SetStatus(orders.StatusCancelled, note); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return err
	}
	if cancelled {
		s.emitCancelled(ctx, orderID, "autocancel", res)
	}
	return nil
}

// CommandCancel cancels an unpaid order on operator request. Unlike the
// timeout it does not gate on status beyond "not paid".
func (s *Service) CommandCancel(ctx context.Context, orderID int64) error {
	if orderID <= 0 {
		return orders.ErrNotFound
	}
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.OwnedByGateway() || o.IsPaid() {
		return nil
	}

	res, errMsg := s.expireRemote(ctx, o)
	var cancelled bool
	err = s.Store.Update(ctx, orderID, func(o *orders.Order) error {
		if !o.OwnedByGateway() || o.IsPaid() {
			return orders.ErrNoChange
		}
		switch res {
		case expireNoSession:
			o.AddNote("Command cancel: no PayMongo checkout session id found on order.")
		case expireDone:
			o.AddNote("Command cancel: PayMongo checkout session expired via API: %s", o.CheckoutSessionID)
		case expireNoCredentials:
			o.AddNote("Command cancel: missing PayMongo secret key for mode %s.", modeOf(o))
		default:
			o.AddNote("Command cancel: failed to expire PayMongo checkout session %s. Error: %s", o.CheckoutSessionID, errMsg)
		}
		if o.Status == orders.StatusCancelled {
			return nil
		}
		if err := o.SetStatus(orders.StatusCancelled, "Cancelled by command action."); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return err
	}
	if cancelled {
		s.emitCancelled(ctx, orderID, "command", res)
	}
	return nil
}

func (s *Service) expireRemote(ctx context.Context, o *orders.Order) (expireResult, string) {
	if o.CheckoutSessionID == "" {
		return expireNoSession, ""
	}
	mode := modeOf(o)
	_, err := s.Gateways(mode).ExpireCheckoutSession(ctx, o.CheckoutSessionID)
	switch {
	case err == nil:
		return expireDone, ""
	case errors.Is(err, paymongo.ErrMissingCredentials):
		s.log().Warn("expire skipped, no secret key", zap.Int64("order", o.ID), zap.String("mode", mode))
		return expireNoCredentials, ""
	default:
		msg := logger.Redact(err.Error())
		s.log().Warn("expire checkout session failed",
			zap.Int64("order", o.ID), zap.String("session", o.CheckoutSessionID), zap.String("error", msg))
		return expireFailed, msg
	}
}

func (r expireResult) String() string {
	switch r {
	case expireNoSession:
		return "none"
	case expireDone:
		return "expired"
	default:
		return "expire_failed"
	}
}

func (s *Service) emitCancelled(ctx context.Context, orderID int64, reason string, res expireResult) {
	if s.Events == nil {
		return
	}
	s.Events.OrderCancelled(ctx, orders.OrderCancelledPayload{OrderID: orderID, Reason: reason, Remote: res.String()})
}

// autocancelable requires the key the deadline was armed with; a deadline
// without one is skipped.
func autocancelable(o *orders.Order, key string) bool {
	if !keyMatches(o.Key, key) {
		return false
	}
	return o.OwnedByGateway() && !o.IsPaid() && o.Status.AwaitingPayment()
}

func keyMatches(want, got string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// modeOf returns the mode the session was created in, defaulting to test.
func modeOf(o *orders.Order) string {
	if o.PaymentMode == orders.ModeLive {
		return orders.ModeLive
	}
	return orders.ModeTest
}
