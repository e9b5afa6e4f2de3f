// Package commands consumes operator commands published on Kafka.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkax "github.com/ariefcatur/go-paymongo-checkout/internal/kafka"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Canceller interface {
	CommandCancel(ctx context.Context, orderID int64) error
}

type Service struct {
	Orders      Canceller
	Redis       redis.Cmdable
	ServiceName string
	Log         *zap.Logger
}

// HandleCancelRequested: dipasang sebagai handler consumer order.cancel.requested.
// Returning an error leaves the offset uncommitted; the consumer calls it
// again with the same message until it succeeds.
func (s *Service) HandleCancelRequested(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.log().Warn("drop undecodable command", zap.ByteString("key", m.Key), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventCancelRequested {
		return nil
	} // ignore

	// 2) dedup via Redis (pakai event_id)
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	first, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.CancelRequestedPayload](env.Payload)
	if err != nil {
		s.log().Warn("drop command with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	// 4) cancel
	err = s.Orders.CommandCancel(ctx, p.OrderID)
	switch {
	case err == nil:
		s.log().Info("command cancel applied", zap.Int64("order", p.OrderID),
			zap.String("requested_by", p.RequestedBy), zap.String("trace_id", env.TraceID))
		return nil
	case errors.Is(err, orders.ErrNotFound):
		s.log().Warn("command cancel for unknown order", zap.Int64("order", p.OrderID))
		return nil
	default:
		// lepas dedup supaya retry berikutnya tetap diproses
		_ = s.Redis.Del(ctx, dkey).Err()
		return fmt.Errorf("cancel order %d: %w", p.OrderID, err)
	}
}

func (s *Service) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}
