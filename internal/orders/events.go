package orders

import (
	"encoding/json"
	"time"
)

const (
	EventPaymentConfirmed = "PaymentConfirmed"
	EventPaymentFailed    = "PaymentFailed"
	EventOrderCancelled   = "OrderCancelled"
	EventCancelRequested  = "CancelRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type PaymentConfirmedPayload struct {
	OrderID       int64  `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	Mode          string `json:"mode"`
	WebhookEvent  string `json:"webhook_event_id"`
}

type PaymentFailedPayload struct {
	OrderID      int64  `json:"order_id"`
	PaymentID    string `json:"payment_id,omitempty"`
	WebhookEvent string `json:"webhook_event_id"`
}

type OrderCancelledPayload struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"` // autocancel | command
	Remote  string `json:"remote"` // none | expired | expire_failed
}

type CancelRequestedPayload struct {
	OrderID     int64  `json:"order_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}
