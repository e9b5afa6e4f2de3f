package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// StatusRecord describes the most recent delivery. It is diagnostic only.
type StatusRecord struct {
	LastAt     time.Time `json:"last_at"`
	LastType   string    `json:"last_type"`
	LastResult Result    `json:"last_result"`
	LastError  string    `json:"last_error"`
	LastEvent  string    `json:"last_event"`
}

type StatusStore interface {
	Save(ctx context.Context, rec StatusRecord) error
	Load(ctx context.Context) (StatusRecord, error)
}

type statusDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StatusRepo keeps the record in the single-row webhook_status table.
type StatusRepo struct{ DB statusDB }

func (r *StatusRepo) Save(ctx context.Context, rec StatusRecord) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO webhook_status(id, last_at, last_type, last_result, last_error, last_event)
		VALUES (1,$1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			last_at=EXCLUDED.last_at, last_type=EXCLUDED.last_type,
			last_result=EXCLUDED.last_result, last_error=EXCLUDED.last_error,
			last_event=EXCLUDED.last_event`,
		rec.LastAt, rec.LastType, string(rec.LastResult), rec.LastError, rec.LastEvent)
	return err
}

// Load returns the zero record when nothing has been received yet.
func (r *StatusRepo) Load(ctx context.Context) (StatusRecord, error) {
	var (
		rec    StatusRecord
		result string
	)
	err := r.DB.QueryRow(ctx, `SELECT last_at, last_type, last_result, last_error, last_event
	                           FROM webhook_status WHERE id=1`).
		Scan(&rec.LastAt, &rec.LastType, &result, &rec.LastError, &rec.LastEvent)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatusRecord{}, nil
	}
	rec.LastResult = Result(result)
	return rec, err
}

type MemoryStatus struct {
	mu  sync.RWMutex
	rec StatusRecord
}

func (m *MemoryStatus) Save(_ context.Context, rec StatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = rec
	return nil
}

func (m *MemoryStatus) Load(context.Context) (StatusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec, nil
}
