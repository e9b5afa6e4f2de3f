package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-paymongo-checkout/internal/money"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"go.uber.org/zap"
)

// Binding rejection reasons, stored as the status record error.
const (
	ReasonSessionMismatch       = "checkout_session_mismatch"
	ReasonPaymentMismatch       = "payment_id_mismatch"
	ReasonMissingAmountCurrency = "missing_amount_currency"
	ReasonAmountMismatch        = "amount_currency_mismatch"
)

type Result string

const (
	ResultProcessed Result = "processed"
	ResultIgnored   Result = "ignored"
	ResultRejected  Result = "rejected"
	ResultError     Result = "error"
)

// Outcome is what a delivery did. Message goes back to the sender.
type Outcome struct {
	Result   Result
	Message  string
	Reason   string
	OrderID  int64
	Strategy Strategy
}

// effects run only after the order write has committed.
type effects struct {
	clearAutocancel bool
	confirmed       *orders.PaymentConfirmedPayload
	failed          *orders.PaymentFailedPayload
}

// Reconciler applies a verified event to one order in a single store write.
type Reconciler struct {
	Store    orders.Store
	Decimals int
	Log      *zap.Logger
	Now      func() time.Time
}

func (r *Reconciler) Apply(ctx context.Context, ev *Event, orderID int64) (Outcome, effects, error) {
	var (
		out Outcome
		fx  effects
	)
	err := r.Store.Update(ctx, orderID, func(o *orders.Order) error {
		out, fx = Outcome{OrderID: o.ID}, effects{}

		if ev.ID != "" && o.ProcessedEvents.Contains(ev.ID) {
			out.Result, out.Message = ResultIgnored, "Duplicate ignored"
			return orders.ErrNoChange
		}
		if ev.ID != "" {
			o.ProcessedEvents = o.ProcessedEvents.Append(ev.ID)
		}

		now := r.now().UTC()
		o.LastWebhookAt = &now
		o.LastStatus = ev.Type

		res := ev.Resource
		paymentID := res.PaymentID()
		if res.Type == ResourceCheckoutSession && res.ID != "" && o.CheckoutSessionID == "" {
			o.CheckoutSessionID = res.ID
		}
		if paymentID != "" && o.PaymentID == "" {
			o.PaymentID = paymentID
		}

		switch ev.Type {
		case TypePaymentPaid, TypeCheckoutSessionPaid:
			return r.applyPaid(o, ev, paymentID, now, &out, &fx)
		case TypePaymentFailed:
			if o.Status.AwaitingPayment() {
				if err := o.SetStatus(orders.StatusFailed, "PayMongo payment failed (webhook)."); err != nil {
					return err
				}
				fx.failed = &orders.PaymentFailedPayload{OrderID: o.ID, PaymentID: paymentID, WebhookEvent: ev.ID}
			} else {
				o.AddNote("PayMongo payment.failed webhook received, order not in pending/on-hold.")
			}
			out.Result, out.Message = ResultProcessed, "OK"
		default:
			o.AddNote("PayMongo webhook received (ignored event type: %s).", ev.Type)
			out.Result, out.Message, out.Reason = ResultIgnored, "Ignored (unhandled)", "Unhandled event type"
		}
		return nil
	})
	if err != nil {
		return Outcome{}, effects{}, err
	}
	return out, fx, nil
}

func (r *Reconciler) applyPaid(o *orders.Order, ev *Event, paymentID string, now time.Time, out *Outcome, fx *effects) error {
	d := ev.Resource.Details()

	reject := func(reason, message, note string) error {
		o.AddNote(note)
		r.log().Warn("webhook rejected",
			zap.String("reason", reason),
			zap.String("event", ev.ID),
			zap.Int64("order", o.ID))
		out.Result, out.Message, out.Reason = ResultRejected, message, reason
		return nil
	}

	if o.CheckoutSessionID != "" && d.CheckoutSessionID != "" && o.CheckoutSessionID != d.CheckoutSessionID {
		return reject(ReasonSessionMismatch, "Rejected (checkout_session mismatch)",
			fmt.Sprintf("PayMongo webhook rejected: checkout_session_id mismatch (got %s, expected %s).", d.CheckoutSessionID, o.CheckoutSessionID))
	}
	if o.PaymentID != "" && d.PaymentID != "" && o.PaymentID != d.PaymentID {
		return reject(ReasonPaymentMismatch, "Rejected (payment_id mismatch)",
			fmt.Sprintf("PayMongo webhook rejected: payment_id mismatch (got %s, expected %s).", d.PaymentID, o.PaymentID))
	}
	if d.Amount == nil || d.Currency == nil {
		return reject(ReasonMissingAmountCurrency, "Rejected (missing amount/currency)",
			"PayMongo webhook rejected: missing amount/currency in payload.")
	}

	expectedCurrency := strings.ToLower(o.Currency)
	expectedMinor := money.ToMinorDecimals(o.Total, r.Decimals)
	if *d.Currency != expectedCurrency || *d.Amount != expectedMinor {
		return reject(ReasonAmountMismatch, "Rejected (amount/currency mismatch)",
			fmt.Sprintf("PayMongo webhook rejected: amount/currency mismatch (got %s %d, expected %s %d).",
				strings.ToUpper(*d.Currency), *d.Amount, strings.ToUpper(expectedCurrency), expectedMinor))
	}

	if !o.IsPaid() {
		txn := firstNonEmpty(d.PaymentID, paymentID, ev.ID)
		note := fmt.Sprintf("PayMongo payment confirmed via webhook (%s). Transaction: %s", ev.Type, txn)
		if err := o.MarkPaid(txn, now, note); err != nil {
			return err
		}
		mode := orders.ModeTest
		if ev.Livemode {
			mode = orders.ModeLive
		}
		fx.confirmed = &orders.PaymentConfirmedPayload{
			OrderID: o.ID, TransactionID: txn, AmountMinor: expectedMinor,
			Currency: expectedCurrency, Mode: mode, WebhookEvent: ev.ID,
		}
	} else {
		o.AddNote("PayMongo webhook received (%s) but order already paid.", ev.Type)
	}
	fx.clearAutocancel = true
	out.Result, out.Message = ResultProcessed, "OK"
	return nil
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reconciler) log() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
