package orders

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusOnHold, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusFailed, StatusProcessing, true},
		{StatusCancelled, StatusProcessing, true},
		{StatusCancelled, StatusPending, false},
		{StatusProcessing, StatusCancelled, false},
		{StatusProcessing, StatusFailed, false},
		{StatusCompleted, StatusPending, false},
		{StatusRefunded, StatusProcessing, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestMarkPaid(t *testing.T) {
	o := &Order{ID: 1, Status: StatusPending, Total: decimal.RequireFromString("150.00")}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, o.MarkPaid("pay_1", at, ""))
	assert.Equal(t, StatusProcessing, o.Status)
	assert.True(t, o.IsPaid())
	assert.Equal(t, "pay_1", o.TransactionID)
	assert.Len(t, o.PendingNotes(), 1)

	require.NoError(t, o.MarkPaid("pay_2", at.Add(time.Hour), ""))
	assert.Equal(t, "pay_1", o.TransactionID, "second call keeps the first reference")
}

func TestMarkPaid_CancelledOrderStillTakesPayment(t *testing.T) {
	o := &Order{ID: 1, Status: StatusCancelled}
	require.NoError(t, o.MarkPaid("pay_1", time.Now(), "paid"))
	assert.Equal(t, StatusProcessing, o.Status)
}

func TestSetStatus_Rejected(t *testing.T) {
	o := &Order{ID: 1, Status: StatusProcessing}
	err := o.SetStatus(StatusFailed, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Empty(t, o.PendingNotes())
}

func TestLedger_EvictsOldest(t *testing.T) {
	var l Ledger
	for i := 0; i < LedgerSize+5; i++ {
		l = l.Append(fmt.Sprintf("evt_%d", i))
	}
	assert.Len(t, l, LedgerSize)
	assert.False(t, l.Contains("evt_4"))
	assert.True(t, l.Contains("evt_5"))
	assert.True(t, l.Contains(l[len(l)-1]))
}
