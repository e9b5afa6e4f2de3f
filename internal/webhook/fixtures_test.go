package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ariefcatur/go-paymongo-checkout/internal/config"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/signature"
	"github.com/shopspring/decimal"
)

const (
	testSecret = "whsk_test_secret"
	liveSecret = "whsk_live_secret"
)

type fakeClearer struct {
	cleared []int64
	err     error
}

func (f *fakeClearer) ClearAutocancel(_ context.Context, id int64) error {
	f.cleared = append(f.cleared, id)
	return f.err
}

type fakeEvents struct {
	confirmed []orders.PaymentConfirmedPayload
	failed    []orders.PaymentFailedPayload
}

func (f *fakeEvents) PaymentConfirmed(_ context.Context, p orders.PaymentConfirmedPayload) {
	f.confirmed = append(f.confirmed, p)
}

func (f *fakeEvents) PaymentFailed(_ context.Context, p orders.PaymentFailedPayload) {
	f.failed = append(f.failed, p)
}

type fixture struct {
	svc     *Service
	store   *orders.MemoryStore
	status  *MemoryStatus
	clearer *fakeClearer
	events  *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := config.Resolve(config.Overrides{WebhookSecretTest: testSecret, WebhookSecretLive: liveSecret}, config.Settings{})
	f := &fixture{
		store:   orders.NewMemoryStore(),
		status:  &MemoryStatus{},
		clearer: &fakeClearer{},
		events:  &fakeEvents{},
	}
	f.svc = NewService(f.store, Options{
		Secrets:    gw,
		Decimals:   gw.PriceDecimals,
		Status:     f.status,
		Autocancel: f.clearer,
		Events:     f.events,
	})
	return f
}

// pendingOrder is order #10: 150.00 PHP awaiting a PayMongo checkout session cs_1.
func (f *fixture) pendingOrder() *orders.Order {
	o := &orders.Order{
		ID: 10, Key: "wc_order_abc", Status: orders.StatusPending, Currency: "PHP",
		Total: decimal.RequireFromString("150.00"), PaymentMethod: orders.GatewayID,
		CheckoutSessionID: "cs_1", CheckoutURL: "https://checkout.paymongo.com/cs_1", PaymentMode: "test",
	}
	f.store.Put(o)
	return o
}

func (f *fixture) process(t *testing.T, body []byte) (Outcome, error) {
	t.Helper()
	return f.svc.Process(context.Background(), body, signature.Sign(body, testSecret, time.Now().Unix(), false))
}

func (f *fixture) order(t *testing.T, id int64) *orders.Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %d: %v", id, err)
	}
	return o
}

func (f *fixture) notes(t *testing.T, id int64) []string {
	t.Helper()
	ns, _ := f.store.Notes(context.Background(), id)
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Body)
	}
	return out
}

func event(id, typ string, livemode bool, resource map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"id":   id,
			"type": "event",
			"attributes": map[string]any{
				"type":     typ,
				"livemode": livemode,
				"data":     resource,
			},
		},
	})
	return b
}

func paymentResource(id string, amount any, currency string, meta map[string]any) map[string]any {
	attrs := map[string]any{"amount": amount, "currency": currency}
	if meta != nil {
		attrs["metadata"] = meta
	}
	return map[string]any{"id": id, "type": "payment", "attributes": attrs}
}

func sessionResource(id, paymentID string, amount any, currency string, meta map[string]any) map[string]any {
	attrs := map[string]any{}
	if meta != nil {
		attrs["metadata"] = meta
	}
	if paymentID != "" {
		attrs["payments"] = []any{map[string]any{
			"id":         paymentID,
			"attributes": map[string]any{"amount": amount, "currency": currency},
		}}
	}
	return map[string]any{"id": id, "type": "checkout_session", "attributes": attrs}
}

func orderMeta(id, key string) map[string]any {
	m := map[string]any{"woo_order_id": id}
	if key != "" {
		m["woo_order_key"] = key
	}
	return m
}
