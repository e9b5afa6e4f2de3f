package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-paymongo-checkout/internal/config"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/paymongo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu        sync.Mutex
	created   []paymongo.SessionAttributes
	idemKeys  []string
	expired   []string
	modes     []string
	createErr error
	expireErr error
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, a paymongo.SessionAttributes, idem string) (*paymongo.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, a)
	g.idemKeys = append(g.idemKeys, idem)
	id := fmt.Sprintf("cs_new_%d", len(g.created))
	return &paymongo.Session{ID: id, CheckoutURL: "https://checkout.paymongo.com/" + id}, nil
}

func (g *fakeGateway) ExpireCheckoutSession(_ context.Context, id string) (*paymongo.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.expireErr != nil {
		return nil, g.expireErr
	}
	g.expired = append(g.expired, id)
	return &paymongo.Session{ID: id, Status: "expired"}, nil
}

type scheduled struct {
	id  int64
	key string
	at  time.Time
}

type fakeScheduler struct{ calls []scheduled }

func (f *fakeScheduler) ScheduleAutocancel(_ context.Context, id int64, key string, at time.Time) error {
	f.calls = append(f.calls, scheduled{id, key, at})
	return nil
}

type fakeEvents struct {
	cancelled []orders.OrderCancelledPayload
}

func (f *fakeEvents) OrderCancelled(_ context.Context, p orders.OrderCancelledPayload) {
	f.cancelled = append(f.cancelled, p)
}

type fixture struct {
	svc   *Service
	store *orders.MemoryStore
	gw    *fakeGateway
	sched *fakeScheduler
	ev    *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: orders.NewMemoryStore(),
		gw:    &fakeGateway{},
		sched: &fakeScheduler{},
		ev:    &fakeEvents{},
	}
	links := NewCancelLinks("auth-secret")
	links.Now = func() time.Time { return fixedNow }
	f.svc = &Service{
		Store: f.store,
		Gateways: func(mode string) Gateway {
			f.gw.modes = append(f.gw.modes, mode)
			return f.gw
		},
		Settings: config.Gateway{
			Enabled:            true,
			Mode:               config.ModeTest,
			PriceDecimals:      2,
			AutoCancelDelay:    45 * time.Minute,
			PaymentMethodTypes: []string{"gcash", "card"},
		},
		Links:         links,
		Scheduler:     f.sched,
		Events:        f.ev,
		StoreName:     "Kape Shop",
		StorefrontURL: "https://shop.example.ph",
		PublicBaseURL: "https://pay.example.ph",
		Now:           func() time.Time { return fixedNow },
	}
	return f
}

func (f *fixture) put(mut func(o *orders.Order)) {
	o := &orders.Order{
		ID: 10, Key: "wc_order_abc", Status: orders.StatusPending, Currency: "PHP",
		Total: decimal.RequireFromString("150.00"), PaymentMethod: orders.GatewayID,
		Items: []orders.Item{
			{Name: "Barako beans", Quantity: 2, LineTotal: decimal.RequireFromString("120.00"), LineTax: decimal.RequireFromString("14.40")},
			{Name: "Filter", Quantity: 1, LineTotal: decimal.RequireFromString("15.60")},
		},
	}
	if mut != nil {
		mut(o)
	}
	f.store.Put(o)
}

func (f *fixture) order(t *testing.T, id int64) *orders.Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) notes(t *testing.T, id int64) []string {
	t.Helper()
	ns, err := f.store.Notes(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Body
	}
	return out
}

func TestStartPayment_CreatesSession(t *testing.T) {
	f := newFixture(t)
	f.put(nil)

	redirect, err := f.svc.StartPayment(context.Background(), 10, "wc_order_abc")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paymongo.com/cs_new_1", redirect)

	require.Len(t, f.gw.created, 1)
	a := f.gw.created[0]
	assert.Equal(t, int64(15000), a.Amount)
	assert.Equal(t, "PHP", a.Currency)
	assert.Equal(t, "Kape Shop - Order #10", a.Description)
	assert.Equal(t, []string{"gcash", "card"}, a.PaymentMethodTypes)
	assert.Equal(t, "https://shop.example.ph/checkout/order-received/10?key=wc_order_abc", a.SuccessURL)
	assert.Equal(t, map[string]string{
		"woo_order_id":  "10",
		"woo_order_key": "wc_order_abc",
		"store":         "Kape Shop",
		"domain":        "shop.example.ph",
		"mode":          "test",
	}, a.Metadata)
	require.Len(t, a.LineItems, 2)
	assert.Equal(t, paymongo.LineItem{Name: "Barako beans", Quantity: 2, Amount: 6720, Currency: "PHP", Description: "Barako beans"}, a.LineItems[0])
	assert.Equal(t, int64(1560), a.LineItems[1].Amount)
	assert.Equal(t, []string{"wc_10_wc_order_abc"}, f.gw.idemKeys)

	cancel, err := url.Parse(a.CancelURL)
	require.NoError(t, err)
	assert.Equal(t, "/checkout/cancel", cancel.Path)
	p, err := ParseCancelParams(cancel.Query())
	require.NoError(t, err)
	assert.True(t, f.svc.Links.Valid(p, false))

	o := f.order(t, 10)
	assert.Equal(t, "cs_new_1", o.CheckoutSessionID)
	assert.Equal(t, redirect, o.CheckoutURL)
	assert.Equal(t, "test", o.PaymentMode)
	assert.Equal(t, "checkout_session.created", o.LastStatus)

	require.Len(t, f.sched.calls, 1)
	assert.Equal(t, scheduled{10, "wc_order_abc", fixedNow.Add(45 * time.Minute)}, f.sched.calls[0])
}

func TestStartPayment_ReusesExistingSession(t *testing.T) {
	f := newFixture(t)
	f.put(func(o *orders.Order) {
		o.CheckoutSessionID = "cs_1"
		o.CheckoutURL = "https://checkout.paymongo.com/cs_1"
	})

	redirect, err := f.svc.StartPayment(context.Background(), 10, "wc_order_abc")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paymongo.com/cs_1", redirect)
	assert.Empty(t, f.gw.created)
	assert.Empty(t, f.sched.calls)
}

func TestStartPayment_NoItemsUsesSyntheticLine(t *testing.T) {
	f := newFixture(t)
	f.put(func(o *orders.Order) { o.Items = nil; o.Total = decimal.RequireFromString("99.995") })

	_, err := f.svc.StartPayment(context.Background(), 10, "wc_order_abc")
	require.NoError(t, err)
	a := f.gw.created[0]
	assert.Equal(t, int64(10000), a.Amount)
	require.Len(t, a.LineItems, 1)
	assert.Equal(t, "Order #10", a.LineItems[0].Name)
	assert.Equal(t, int64(10000), a.LineItems[0].Amount)
}

func TestStartPayment_MovesToPending(t *testing.T) {
	f := newFixture(t)
	f.put(func(o *orders.Order) { o.Status = orders.StatusFailed })

	_, err := f.svc.StartPayment(context.Background(), 10, "wc_order_abc")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, f.order(t, 10).Status)
	assert.Contains(t, f.notes(t, 10)[0], "Awaiting PayMongo payment.")
}

func TestStartPayment_RejectsPaidOrForeignOrders(t *testing.T) {
	f := newFixture(t)
	paid := fixedNow
	f.put(func(o *orders.Order) { o.PaidAt = &paid; o.Status = orders.StatusProcessing })
	f.store.Put(&orders.Order{ID: 11, Key: "k", Status: orders.StatusPending, PaymentMethod: "cod"})

	_, err := f.svc.StartPayment(context.Background(), 10, "wc_order_abc")
	assert.ErrorIs(t, err, ErrNotPayable)
	_, err = f.svc.StartPayment(context.Background(), 11, "k")
	assert.ErrorIs(t, err, ErrNotPayable)
	_, err = f.svc.StartPayment(context.Background(), 99, "wc_order_abc")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.Empty(t, f.gw.created)
}

func TestStartPayment_RequiresOrderKey(t *testing.T) {
	f := newFixture(t)
	f.put(func(o *orders.Order) { o.Status = orders.StatusFailed })

	for _, key := range []string{"", "wc_order_other", "wc_order_ab"} {
		_, err := f.svc.StartPayment(context.Background(), 10, key)
		assert.ErrorIs(t, err, orders.ErrNotFound, "key %q", key)
	}

	o := f.order(t, 10)
	assert.Equal(t, orders.StatusFailed, o.Status)
	assert.Empty(t, o.CheckoutSessionID)
	assert.Empty(t, f.gw.created)
	assert.Empty(t, f.sched.calls)
	assert.Empty(t, f.notes(t, 10))
}

func TestStartPayment_Disabled(t *testing.T) {
	f := newFixture(t)
	f.put(nil)
	f.svc.Settings.Enabled = false

	_, err := f.svc.StartPayment(context.Background(), 10, "wc_order_abc")
	assert.ErrorIs(t, err, ErrGatewayDisabled)
}

func TestStartPayment_GatewayFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"transient", fmt.Errorf("%w: timeout", paymongo.ErrTransient), ErrCheckoutUnavailable},
		{"server error", &paymongo.APIError{StatusCode: 502}, ErrCheckoutUnavailable},
		{"rejected", &paymongo.APIError{StatusCode: 400, Code: "parameter_invalid"}, ErrCheckoutFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.put(nil)
			f.gw.createErr = tc.err

			_, err := f.svc.StartPayment(context.Background(), 10, "wc_order_abc")
			assert.ErrorIs(t, err, tc.want)

			o := f.order(t, 10)
			assert.Empty(t, o.CheckoutSessionID)
			notes := f.notes(t, 10)
			require.Len(t, notes, 1)
			assert.True(t, strings.HasPrefix(notes[0], "PayMongo checkout session creation failed: "))
			assert.Empty(t, f.sched.calls)
		})
	}
}

func TestStartPayment_NoAutocancelWhenDelayZero(t *testing.T) {
	f := newFixture(t)
	f.put(nil)
	f.svc.Settings.AutoCancelDelay = 0

	_, err := f.svc.StartPayment(context.Background(), 10, "wc_order_abc")
	require.NoError(t, err)
	assert.Empty(t, f.sched.calls)
}

func TestAutocancel_NoSession(t *testing.T) {
	f := newFixture(t)
	f.put(nil)

	require.NoError(t, f.svc.Autocancel(context.Background(), 10, "wc_order_abc"))
	assert.Equal(t, orders.StatusCancelled, f.order(t, 10).Status)
	assert.Empty(t, f.gw.expired)
	notes := f.notes(t, 10)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "Auto-cancelled after timeout (no PayMongo session id found).")
	require.Len(t, f.ev.cancelled, 1)
	assert.Equal(t, orders.OrderCancelledPayload{OrderID: 10, Reason: "autocancel", Remote: "none"}, f.ev.cancelled[0])
}

func TestAutocancel_ExpiresRemoteSession(t *testing.T) {
	f := newFixture(t)
	f.put(func(o *orders.Order) { o.CheckoutSessionID = "cs_1"; o.PaymentMode = "live" })

	require.NoError(t, f.svc.Autocancel(context.Background(), 10, "wc_order_abc"))
	assert.Equal(t, []string{"cs_1"}, f.gw.expired)
	assert.Equal(t, []string{"live"}, f.gw.modes)
	assert.Equal(t, orders.StatusCancelled, f.order(t, 10).Status)
	notes := f.notes(t, 10)
	require.Len(t, notes, 2)
	assert.Equal(t, "PayMongo checkout session expired via API before auto-cancel: cs_1", notes[0])
	assert.Contains(t, notes[1], "Auto-cancelled after timeout (PayMongo checkout session expired).")
	assert.Equal(t, "expired", f.ev.cancelled[0].Remote)
}

func TestAutocancel_ExpireFailureStillCancels(t *testing.T) {
	f := newFixture(t)
	f.put(func(o *orders.Order) { o.CheckoutSessionID = "cs_1" })
	f.gw.expireErr = &paymongo.APIError{StatusCode: 500}

	require.NoError(t, f.svc.Autocancel(context.Background(), 10, "wc_order_abc"))
	assert.Equal(t, orders.StatusCancelled, f.order(t, 10).Status)
	notes := f.notes(t, 10)
	require.Len(t, notes, 2)
	assert.Contains(t, notes[0], "failed to expire PayMongo checkout session cs_1")
	assert.Contains(t, notes[1], "expire failed")
	assert.Equal(t, "expire_failed", f.ev.cancelled[0].Remote)
}

func TestAutocancel_MissingCredentialsStillCancels(t *testing.T) {
	f := newFixture(t)
	f.put(func(o *orders.Order) { o.CheckoutSessionID = "cs_1" })
	f.gw.expireErr = paymongo.ErrMissingCredentials

	require.NoError(t, f.svc.Autocancel(context.Background(), 10, "wc_order_abc"))
	assert.Equal(t, orders.StatusCancelled, f.order(t, 10).Status)
	assert.Equal(t, "Auto-cancel: missing PayMongo secret key for mode test.", f.notes(t, 10)[0])
}

func TestAutocancel_Skips(t *testing.T) {
	paid := fixedNow
	cases := []struct {
		name string
		key  string
		mut  func(o *orders.Order)
	}{
		{"key mismatch", "wc_other", nil},
		{"missing key", "", nil},
		{"paid", "wc_order_abc", func(o *orders.Order) { o.PaidAt = &paid; o.Status = orders.StatusProcessing }},
		{"processing", "wc_order_abc", func(o *orders.Order) { o.Status = orders.StatusProcessing }},
		{"other gateway", "wc_order_abc", func(o *orders.Order) { o.PaymentMethod = "cod" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.put(tc.mut)
			before := f.order(t, 10).Status

			require.NoError(t, f.svc.Autocancel(context.Background(), 10, tc.key))
			assert.Equal(t, before, f.order(t, 10).Status)
			assert.Empty(t, f.notes(t, 10))
			assert.Empty(t, f.ev.cancelled)
		})
	}

	f := newFixture(t)
	assert.NoError(t, f.svc.Autocancel(context.Background(), 404, "x"))
}

// payingGateway marks the order paid while the expire call is in flight.
type payingGateway struct {
	*fakeGateway
	store *orders.MemoryStore
}

func (g payingGateway) ExpireCheckoutSession(ctx context.Context, id string) (*paymongo.Session, error) {
	err := g.store.Update(ctx, 10, func(o *orders.Order) error {
		return o.MarkPaid("pay_1", fixedNow, "paid")
	})
	if err != nil {
		return nil, err
	}
	return nil, errors.New("session already paid")
}

func TestAutocancel_PaymentWinsRace(t *testing.T) {
	f := newFixture(t)
	f.put(func(o *orders.Order) { o.CheckoutSessionID = "cs_1" })
	f.svc.Gateways = func(string) Gateway { return payingGateway{f.gw, f.store} }

	require.NoError(t, f.svc.Autocancel(context.Background(), 10, "wc_order_abc"))
	o := f.order(t, 10)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.True(t, o.IsPaid())
	assert.Empty(t, f.ev.cancelled)
}

func TestCommandCancel(t *testing.T) {
	f := newFixture(t)
	f.put(func(o *orders.Order) { o.CheckoutSessionID = "cs_1"; o.Status = orders.StatusFailed })

	require.NoError(t, f.svc.CommandCancel(context.Background(), 10))
	assert.Equal(t, orders.StatusCancelled, f.order(t, 10).Status)
	notes := f.notes(t, 10)
	require.Len(t, notes, 2)
	assert.Equal(t, "Command cancel: PayMongo checkout session expired via API: cs_1", notes[0])
	assert.Contains(t, notes[1], "Cancelled by command action.")
	assert.Equal(t, orders.OrderCancelledPayload{OrderID: 10, Reason: "command", Remote: "expired"}, f.ev.cancelled[0])
}

func TestCommandCancel_NoSessionAndPaid(t *testing.T) {
	f := newFixture(t)
	f.put(nil)
	require.NoError(t, f.svc.CommandCancel(context.Background(), 10))
	assert.Equal(t, "Command cancel: no PayMongo checkout session id found on order.", f.notes(t, 10)[0])

	paid := fixedNow
	f.store.Put(&orders.Order{ID: 12, Key: "k", Status: orders.StatusProcessing, PaymentMethod: orders.GatewayID, PaidAt: &paid})
	require.NoError(t, f.svc.CommandCancel(context.Background(), 12))
	assert.Equal(t, orders.StatusProcessing, f.order(t, 12).Status)
	assert.Len(t, f.ev.cancelled, 1)

	assert.ErrorIs(t, f.svc.CommandCancel(context.Background(), 0), orders.ErrNotFound)
}

func TestCancelReturn(t *testing.T) {
	f := newFixture(t)
	f.put(nil)
	ts := fixedNow.Unix()
	p := CancelParams{OrderID: 10, Key: "wc_order_abc", TS: ts, Sig: f.svc.Links.Sign(10, "wc_order_abc", ts)}

	require.NoError(t, f.svc.CancelReturn(context.Background(), p))
	assert.Equal(t, []string{"Customer returned from PayMongo cancel URL (payment not completed)."}, f.notes(t, 10))
	assert.Equal(t, orders.StatusPending, f.order(t, 10).Status)
	assert.Equal(t, "https://shop.example.ph/checkout", f.svc.CheckoutURL())
}

func TestCancelReturn_Rejects(t *testing.T) {
	f := newFixture(t)
	f.put(nil)
	ts := fixedNow.Unix()
	good := f.svc.Links.Sign(10, "wc_order_abc", ts)

	cases := []struct {
		name string
		p    CancelParams
	}{
		{"bad sig", CancelParams{OrderID: 10, Key: "wc_order_abc", TS: ts, Sig: strings.Repeat("0", 64)}},
		{"expired", CancelParams{OrderID: 10, Key: "wc_order_abc", TS: ts - 3600, Sig: f.svc.Links.Sign(10, "wc_order_abc", ts-3600)}},
		{"legacy", CancelParams{OrderID: 10, Key: "wc_order_abc"}},
		{"unknown order", CancelParams{OrderID: 99, Key: "wc_order_abc", TS: ts, Sig: f.svc.Links.Sign(99, "wc_order_abc", ts)}},
		{"tampered id", CancelParams{OrderID: 11, Key: "wc_order_abc", TS: ts, Sig: good}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, f.svc.CancelReturn(context.Background(), tc.p), ErrInvalidCancelLink)
		})
	}
	assert.Empty(t, f.notes(t, 10))
}

func TestCancelReturn_LegacyAllowed(t *testing.T) {
	f := newFixture(t)
	f.put(nil)
	f.svc.Settings.AllowLegacyUnsignedCancel = true

	require.NoError(t, f.svc.CancelReturn(context.Background(), CancelParams{OrderID: 10, Key: "wc_order_abc"}))
	assert.Len(t, f.notes(t, 10), 1)

	err := f.svc.CancelReturn(context.Background(), CancelParams{OrderID: 10, Key: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCancelLink)
	assert.Len(t, f.notes(t, 10), 1)
}
