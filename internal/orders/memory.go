package orders

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Updates are serialized by one mutex.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[int64]*Order
	notes  map[int64][]Note
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[int64]*Order),
		notes:  make(map[int64][]Note),
		now:    time.Now,
	}
}

// Put stores a copy of o, replacing any order with the same id.
func (s *MemoryStore) Put(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.clone()
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

func (s *MemoryStore) FindByCheckoutSession(ctx context.Context, sessionID string) (*Order, error) {
	return s.find(ctx, func(o *Order) bool { return sessionID != "" && o.CheckoutSessionID == sessionID })
}

func (s *MemoryStore) FindByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	return s.find(ctx, func(o *Order) bool { return paymentID != "" && o.PaymentID == paymentID })
}

func (s *MemoryStore) find(ctx context.Context, match func(*Order) bool) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *Order
	for _, o := range s.orders {
		if match(o) && (found == nil || o.ID < found.ID) {
			found = o
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id int64, fn func(*Order) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o := cur.clone()
	if err := fn(o); err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	now := s.now().UTC()
	for _, n := range o.PendingNotes() {
		s.notes[id] = append(s.notes[id], Note{OrderID: id, Body: n, CreatedAt: now})
	}
	o.UpdatedAt = now
	s.orders[id] = o.clone()
	return nil
}

func (s *MemoryStore) Notes(_ context.Context, orderID int64) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Note(nil), s.notes[orderID]...), nil
}
