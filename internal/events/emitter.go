// Package events publishes order payment events as versioned envelopes.
package events

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-paymongo-checkout/internal/kafka"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Emitter struct {
	Confirmed   Publisher // order.payment.confirmed
	Failed      Publisher // order.payment.failed
	Cancelled   Publisher // order.cancelled
	Commands    Publisher // order.cancel.requested
	ServiceName string

	Now func() time.Time
}

func (e *Emitter) PaymentConfirmed(ctx context.Context, p orders.PaymentConfirmedPayload) {
	e.publish(ctx, e.Confirmed, p.OrderID, orders.EventPaymentConfirmed, p)
}

func (e *Emitter) PaymentFailed(ctx context.Context, p orders.PaymentFailedPayload) {
	e.publish(ctx, e.Failed, p.OrderID, orders.EventPaymentFailed, p)
}

func (e *Emitter) OrderCancelled(ctx context.Context, p orders.OrderCancelledPayload) {
	e.publish(ctx, e.Cancelled, p.OrderID, orders.EventOrderCancelled, p)
}

// RequestCancel enqueues an operator cancel command for the worker.
func (e *Emitter) RequestCancel(ctx context.Context, p orders.CancelRequestedPayload) {
	e.publish(ctx, e.Commands, p.OrderID, orders.EventCancelRequested, p)
}

func (e *Emitter) publish(ctx context.Context, pub Publisher, orderID int64, eventType string, payload any) {
	if pub == nil {
		return
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	key := orders.PartitionKey(orderID)
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    now().UTC(),
		Producer:      e.ServiceName,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: string(key),
		Payload:       kafkax.MustMarshal(payload),
	}
	pub.Publish(key, kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType)...)
}
