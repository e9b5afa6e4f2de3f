package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GatewayID marks orders whose payment is handled by this integration.
const GatewayID = "paymongo_checkout"

const (
	ModeTest = "test"
	ModeLive = "live"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type Order struct {
	ID            int64
	Key           string
	Status        Status
	Currency      string
	Total         decimal.Decimal
	PaymentMethod string
	Items         []Item

	CheckoutSessionID string
	CheckoutURL       string
	PaymentID         string
	PaymentMode       string
	LastWebhookAt     *time.Time
	LastStatus        string
	TransactionID     string
	PaidAt            *time.Time

	ProcessedEvents Ledger

	CreatedAt time.Time
	UpdatedAt time.Time

	notes []string
}

type Item struct {
	Name      string
	Quantity  int
	LineTotal decimal.Decimal
	LineTax   decimal.Decimal
}

type Note struct {
	OrderID   int64
	Body      string
	CreatedAt time.Time
}

func (o *Order) IsPaid() bool { return o.PaidAt != nil }

// OwnedByGateway reports whether the order was placed with this gateway.
func (o *Order) OwnedByGateway() bool { return o.PaymentMethod == GatewayID }

// AddNote queues an audit note that is persisted with the next Update.
func (o *Order) AddNote(format string, args ...any) {
	if len(args) == 0 {
		o.notes = append(o.notes, format)
		return
	}
	o.notes = append(o.notes, fmt.Sprintf(format, args...))
}

// PendingNotes returns notes added since the order was loaded.
func (o *Order) PendingNotes() []string { return o.notes }

// SetStatus moves the order to next and records note alongside.
func (o *Order) SetStatus(next Status, note string) error {
	if o.Status == next {
		if note != "" {
			o.AddNote(note)
		}
		return nil
	}
	if !CanTransition(o.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	prev := o.Status
	o.Status = next
	if note != "" {
		o.AddNote("%s Order status changed from %s to %s.", note, prev, next)
	} else {
		o.AddNote("Order status changed from %s to %s.", prev, next)
	}
	return nil
}

// MarkPaid records a confirmed payment and moves the order to processing,
// attaching note to the transition. It is a no-op on an already paid order.
func (o *Order) MarkPaid(transactionID string, at time.Time, note string) error {
	if o.IsPaid() {
		return nil
	}
	if o.Status == StatusProcessing || o.Status == StatusCompleted {
		if note != "" {
			o.AddNote(note)
		}
	} else if err := o.SetStatus(StatusProcessing, note); err != nil {
		return err
	}
	paid := at.UTC()
	o.PaidAt = &paid
	o.TransactionID = transactionID
	return nil
}

func (o *Order) clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.ProcessedEvents = append(Ledger(nil), o.ProcessedEvents...)
	c.notes = nil
	if o.LastWebhookAt != nil {
		t := *o.LastWebhookAt
		c.LastWebhookAt = &t
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}
