package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	TypePaymentPaid         = "payment.paid"
	TypeCheckoutSessionPaid = "checkout_session.payment.paid"
	TypePaymentFailed       = "payment.failed"

	ResourcePayment         = "payment"
	ResourceCheckoutSession = "checkout_session"
)

var ErrInvalidPayload = errors.New("invalid payload")

// Event is one decoded webhook delivery.
type Event struct {
	ID       string
	Type     string
	Livemode bool
	Resource Resource

	resourceRaw json.RawMessage
}

// Resource is the object the event is about: a payment or a checkout session.
type Resource struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Attributes ResourceAttributes `json:"attributes"`
}

type ResourceAttributes struct {
	Amount      *json.Number      `json:"amount"`
	TotalAmount *json.Number      `json:"total_amount"`
	Currency    *string           `json:"currency"`
	Metadata    map[string]any    `json:"metadata"`
	Payments    []EmbeddedPayment `json:"payments"`
}

type EmbeddedPayment struct {
	ID         string `json:"id"`
	Attributes struct {
		Amount   *json.Number   `json:"amount"`
		Currency *string        `json:"currency"`
		Metadata map[string]any `json:"metadata"`
	} `json:"attributes"`
}

type envelope struct {
	Data *struct {
		ID         json.RawMessage `json:"id"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

type eventAttributes struct {
	Type     json.RawMessage `json:"type"`
	Livemode json.RawMessage `json:"livemode"`
	Data     json.RawMessage `json:"data"`
}

// ParseEvent decodes the envelope. It fails with ErrInvalidPayload when the
// body is not JSON or has no data.attributes object. The nested resource is
// decoded later by DecodeResource so signature checks run first.
func ParseEvent(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Data == nil || isEmptyJSON(env.Data.Attributes) {
		return nil, fmt.Errorf("%w: missing data.attributes", ErrInvalidPayload)
	}
	var attrs eventAttributes
	if err := json.Unmarshal(env.Data.Attributes, &attrs); err != nil {
		return nil, fmt.Errorf("%w: data.attributes: %v", ErrInvalidPayload, err)
	}
	return &Event{
		ID:          scalarString(env.Data.ID),
		Type:        scalarString(attrs.Type),
		Livemode:    truthy(attrs.Livemode),
		resourceRaw: attrs.Data,
	}, nil
}

// DecodeResource fills e.Resource. An absent resource is left empty.
func (e *Event) DecodeResource() error {
	if isEmptyJSON(e.resourceRaw) {
		return nil
	}
	var r Resource
	if err := json.Unmarshal(e.resourceRaw, &r); err != nil {
		return fmt.Errorf("decode resource: %w", err)
	}
	e.Resource = r
	return nil
}

// Metadata returns the resource metadata, falling back to the first embedded
// payment for checkout sessions.
func (r Resource) Metadata() map[string]any {
	switch r.Type {
	case ResourcePayment:
		return r.Attributes.Metadata
	case ResourceCheckoutSession:
		if r.Attributes.Metadata != nil {
			return r.Attributes.Metadata
		}
		if len(r.Attributes.Payments) > 0 && len(r.Attributes.Payments[0].Attributes.Metadata) > 0 {
			return r.Attributes.Payments[0].Attributes.Metadata
		}
	}
	return nil
}

// PaymentID is the resource id for payments, or the first embedded payment
// id for checkout sessions.
func (r Resource) PaymentID() string {
	switch r.Type {
	case ResourcePayment:
		return r.ID
	case ResourceCheckoutSession:
		if len(r.Attributes.Payments) > 0 {
			return r.Attributes.Payments[0].ID
		}
	}
	return ""
}

// PaymentDetails is what a paid event claims about the money that moved.
type PaymentDetails struct {
	Amount            *int64
	Currency          *string
	PaymentID         string
	CheckoutSessionID string
}

// Details extracts amount, currency and identities using the fallback chain
// for each resource type. Currency is lower-cased.
func (r Resource) Details() PaymentDetails {
	var d PaymentDetails
	switch r.Type {
	case ResourcePayment:
		d.PaymentID = r.ID
		d.Amount = toMinor(r.Attributes.Amount)
		d.Currency = lower(r.Attributes.Currency)
	case ResourceCheckoutSession:
		d.CheckoutSessionID = r.ID
		d.Amount = toMinor(r.Attributes.Amount)
		if d.Amount == nil {
			d.Amount = toMinor(r.Attributes.TotalAmount)
		}
		d.Currency = lower(r.Attributes.Currency)
		if len(r.Attributes.Payments) > 0 {
			p := r.Attributes.Payments[0]
			d.PaymentID = p.ID
			if d.Amount == nil {
				d.Amount = toMinor(p.Attributes.Amount)
			}
			if d.Currency == nil {
				d.Currency = lower(p.Attributes.Currency)
			}
		}
	}
	return d
}

func toMinor(n *json.Number) *int64 {
	if n == nil || *n == "" {
		return nil
	}
	if v, err := n.Int64(); err == nil {
		return &v
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	v := int64(math.Trunc(f))
	return &v
}

func lower(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*s))
	return &v
}

func isEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	switch string(t) {
	case "", "null", "{}", "[]", `""`, "false", "0":
		return true
	}
	return false
}

// scalarString renders a JSON string or number as text. Anything else is "".
func scalarString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func truthy(raw json.RawMessage) bool {
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	switch strings.ToLower(scalarString(raw)) {
	case "", "0", "false":
		return false
	}
	return true
}

// metaString reads a metadata value that may arrive as a string or a number.
func metaString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == math.Trunc(v) {
			return fmt.Sprintf("%.0f", v)
		}
	case json.Number:
		return v.String()
	}
	return ""
}
