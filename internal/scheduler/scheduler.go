// Package scheduler keeps autocancel deadlines in a Redis sorted set and runs
// them once they are due.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-paymongo-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const ActionAutocancel = "autocancel_order"

// DefaultRetry is how long a failed action waits before it is due again.
const DefaultRetry = time.Minute

// Runner executes a due autocancel.
type Runner func(ctx context.Context, orderID int64, orderKey string) error

type Scheduler struct {
	rdb   redis.Cmdable
	log   *zap.Logger
	now   func() time.Time
	batch int64
	retry time.Duration
}

func New(rdb redis.Cmdable, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{rdb: rdb, log: log, now: time.Now, batch: 50, retry: DefaultRetry}
}

// ScheduleAutocancel arms the deadline for an order. An existing deadline is
// kept as is.
func (s *Scheduler) ScheduleAutocancel(ctx context.Context, orderID int64, orderKey string, at time.Time) error {
	member := strconv.FormatInt(orderID, 10)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAddNX(ctx, redisx.KeyAutocancelQueue, redis.Z{Score: float64(at.Unix()), Member: member})
		p.HSetNX(ctx, redisx.KeyAutocancelArgs, member, orderKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule autocancel %d: %w", orderID, err)
	}
	return nil
}

// ClearAutocancel disarms any pending deadline for the order.
func (s *Scheduler) ClearAutocancel(ctx context.Context, orderID int64) error {
	member := strconv.FormatInt(orderID, 10)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, redisx.KeyAutocancelQueue, member)
		p.HDel(ctx, redisx.KeyAutocancelArgs, member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear autocancel %d: %w", orderID, err)
	}
	return nil
}

// Deadline reports the armed deadline for an order, if any.
func (s *Scheduler) Deadline(ctx context.Context, orderID int64) (time.Time, bool, error) {
	score, err := s.rdb.ZScore(ctx, redisx.KeyAutocancelQueue, strconv.FormatInt(orderID, 10)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(int64(score), 0), true, nil
}

// RunDue claims every due action and runs it. A member belongs to the worker
// whose ZREM removed it, so concurrent workers never run the same action twice.
func (s *Scheduler) RunDue(ctx context.Context, run Runner) (int, error) {
	max := strconv.FormatInt(s.now().Unix(), 10)
	members, err := s.rdb.ZRangeByScore(ctx, redisx.KeyAutocancelQueue, &redis.ZRangeBy{
		Min: "-inf", Max: max, Count: s.batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due: %w", err)
	}

	ran := 0
	for _, m := range members {
		removed, err := s.rdb.ZRem(ctx, redisx.KeyAutocancelQueue, m).Result()
		if err != nil {
			return ran, fmt.Errorf("claim %s: %w", m, err)
		}
		if removed == 0 {
			continue // diambil worker lain
		}
		key, err := s.rdb.HGet(ctx, redisx.KeyAutocancelArgs, m).Result()
		if err != nil && err != redis.Nil {
			s.rearm(ctx, m)
			return ran, fmt.Errorf("load args %s: %w", m, err)
		}

		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.log.Warn("dropping malformed autocancel member", zap.String("member", m))
			_ = s.rdb.HDel(ctx, redisx.KeyAutocancelArgs, m).Err()
			continue
		}
		ran++
		if err := run(ctx, id, key); err != nil {
			// args tetap disimpan; deadline dipasang lagi untuk dicoba ulang
			s.log.Error("autocancel failed, will retry", zap.Int64("order_id", id),
				zap.Duration("retry_in", s.retry), zap.Error(err))
			s.rearm(ctx, m)
			continue
		}
		_ = s.rdb.HDel(ctx, redisx.KeyAutocancelArgs, m).Err()
	}
	return ran, nil
}

// rearm puts a claimed member back at now+retry. A deadline armed in the
// meantime is kept.
func (s *Scheduler) rearm(ctx context.Context, member string) {
	at := s.now().Add(s.retry)
	err := s.rdb.ZAddNX(ctx, redisx.KeyAutocancelQueue, redis.Z{Score: float64(at.Unix()), Member: member}).Err()
	if err != nil {
		s.log.Error("rearm autocancel failed", zap.String("member", member), zap.Error(err))
	}
}

// Run polls every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, every time.Duration, run Runner) error {
	if every <= 0 {
		every = 15 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if n, err := s.RunDue(ctx, run); err != nil {
			s.log.Warn("scheduler pass failed", zap.Error(err))
		} else if n > 0 {
			s.log.Info("scheduler pass", zap.String("action", ActionAutocancel), zap.Int("ran", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
