package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repo struct{ DB DB }

var _ Store = (*Repo)(nil)

const selectOrder = `
	SELECT id, order_key, status, currency, total::text, payment_method,
	       checkout_session_id, checkout_url, payment_id, payment_mode,
	       last_webhook_at, last_status, transaction_id, paid_at,
	       processed_events, created_at, updated_at
	FROM orders`

func (r *Repo) Get(ctx context.Context, id int64) (*Order, error) {
	return loadOrder(ctx, r.DB, selectOrder+` WHERE id=$1`, id)
}

func (r *Repo) FindByCheckoutSession(ctx context.Context, sessionID string) (*Order, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}
	return loadOrder(ctx, r.DB, selectOrder+` WHERE checkout_session_id=$1 ORDER BY id LIMIT 1`, sessionID)
}

func (r *Repo) FindByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	if paymentID == "" {
		return nil, ErrNotFound
	}
	return loadOrder(ctx, r.DB, selectOrder+` WHERE payment_id=$1 ORDER BY id LIMIT 1`, paymentID)
}

// Update: lock baris order (FOR UPDATE) -> jalankan fn -> simpan semua perubahan
// + notes dalam satu transaksi. Error apapun = rollback via defer.
func (r *Repo) Update(ctx context.Context, id int64, fn func(*Order) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := loadOrder(ctx, tx, selectOrder+` WHERE id=$1 FOR UPDATE`, id)
	if err != nil {
		return err
	}
	if err := fn(o); err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET
			status=$2, checkout_session_id=$3, checkout_url=$4, payment_id=$5,
			payment_mode=$6, last_webhook_at=$7, last_status=$8, transaction_id=$9,
			paid_at=$10, processed_events=$11, updated_at=now()
		WHERE id=$1`,
		o.ID, string(o.Status), o.CheckoutSessionID, o.CheckoutURL, o.PaymentID,
		o.PaymentMode, o.LastWebhookAt, o.LastStatus, o.TransactionID,
		o.PaidAt, []string(o.ProcessedEvents),
	); err != nil {
		return fmt.Errorf("update order %d: %w", id, err)
	}
	for _, n := range o.PendingNotes() {
		if _, err := tx.Exec(ctx, `INSERT INTO order_notes(order_id, body) VALUES ($1,$2)`, o.ID, n); err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Notes returns the audit trail of an order, oldest first.
func (r *Repo) Notes(ctx context.Context, orderID int64) ([]Note, error) {
	rows, err := r.DB.Query(ctx, `SELECT order_id, body, created_at FROM order_notes
	                              WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.OrderID, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func loadOrder(ctx context.Context, q querier, sql string, arg any) (*Order, error) {
	var (
		o      Order
		status string
		total  string
		events []string
	)
	err := q.QueryRow(ctx, sql, arg).Scan(
		&o.ID, &o.Key, &status, &o.Currency, &total, &o.PaymentMethod,
		&o.CheckoutSessionID, &o.CheckoutURL, &o.PaymentID, &o.PaymentMode,
		&o.LastWebhookAt, &o.LastStatus, &o.TransactionID, &o.PaidAt,
		&events, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	o.Status = Status(status)
	o.ProcessedEvents = Ledger(events)
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order %d total %q: %w", o.ID, total, err)
	}

	rows, err := q.Query(ctx, `SELECT name, quantity, line_total::text, line_tax::text
	                           FROM order_items WHERE order_id=$1 ORDER BY position`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it       Item
			lt, ltax string
		)
		if err := rows.Scan(&it.Name, &it.Quantity, &lt, &ltax); err != nil {
			return nil, err
		}
		it.LineTotal, _ = decimal.NewFromString(lt)
		it.LineTax, _ = decimal.NewFromString(ltax)
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts a new order with its items. The order system normally owns
// this; it exists for seeding and tests.
func (r *Repo) Create(ctx context.Context, o *Order) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var id int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO orders(order_key, status, currency, total, payment_method, created_at, updated_at)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$6) RETURNING id`,
		o.Key, string(o.Status), o.Currency, o.Total.String(), o.PaymentMethod, now,
	).Scan(&id); err != nil {
		return 0, err
	}
	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, name, quantity, line_total, line_tax)
			VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric)`,
			id, i, it.Name, it.Quantity, it.LineTotal.String(), it.LineTax.String(),
		); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}
