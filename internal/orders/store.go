package orders

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrNoChange returned from an Update callback discards the mutation
	// without reporting an error.
	ErrNoChange = errors.New("no change")
)

// Store is the order system as seen by the payment gateway.
type Store interface {
	Get(ctx context.Context, id int64) (*Order, error)
	FindByCheckoutSession(ctx context.Context, sessionID string) (*Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*Order, error)

	// Update loads the order under lock, applies fn and persists fields,
	// ledger and pending notes in one write.
	Update(ctx context.Context, id int64, fn func(*Order) error) error
}
