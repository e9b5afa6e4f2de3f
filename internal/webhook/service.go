// Package webhook authenticates PayMongo deliveries, binds them to an order
// and reconciles the order's payment state.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-paymongo-checkout/internal/logger"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/signature"
	"go.uber.org/zap"
)

var (
	ErrSignature = errors.New("signature verification failed")
	ErrInternal  = errors.New("internal error")
)

type SecretSource interface {
	WebhookSecret(livemode bool) string
}

type AutocancelClearer interface {
	ClearAutocancel(ctx context.Context, orderID int64) error
}

type EventSink interface {
	PaymentConfirmed(ctx context.Context, p orders.PaymentConfirmedPayload)
	PaymentFailed(ctx context.Context, p orders.PaymentFailedPayload)
}

type Service struct {
	Secrets    SecretSource
	Verifier   *signature.Verifier
	Resolver   *Resolver
	Reconciler *Reconciler
	Status     StatusStore
	Autocancel AutocancelClearer // optional
	Events     EventSink         // optional
	Log        *zap.Logger
	Now        func() time.Time
}

type Options struct {
	Secrets    SecretSource
	Decimals   int
	Status     StatusStore
	Autocancel AutocancelClearer
	Events     EventSink
	Log        *zap.Logger
}

func NewService(store orders.Store, opt Options) *Service {
	log := opt.Log
	if log == nil {
		log = zap.NewNop()
	}
	status := opt.Status
	if status == nil {
		status = &MemoryStatus{}
	}
	return &Service{
		Secrets:    opt.Secrets,
		Verifier:   signature.NewVerifier(),
		Resolver:   &Resolver{Store: store},
		Reconciler: &Reconciler{Store: store, Decimals: opt.Decimals, Log: log},
		Status:     status,
		Autocancel: opt.Autocancel,
		Events:     opt.Events,
		Log:        log,
		Now:        time.Now,
	}
}

// Process handles one raw delivery. Errors wrap ErrInvalidPayload,
// ErrSignature or ErrInternal; business outcomes (ignored, rejected) are
// not errors.
func (s *Service) Process(ctx context.Context, raw []byte, header string) (Outcome, error) {
	ev, err := ParseEvent(raw)
	if err != nil {
		s.Log.Warn("webhook invalid payload", zap.Error(err))
		return Outcome{}, err
	}
	log := s.Log.With(zap.String("event", ev.ID), zap.String("event_type", ev.Type), zap.Bool("livemode", ev.Livemode))

	if err := s.Verifier.Verify(raw, ev.Livemode, s.Secrets.WebhookSecret(ev.Livemode), header); err != nil {
		log.Error("webhook signature verification failed", zap.Error(err))
		s.record(ctx, ev, ResultRejected, err.Error())
		return Outcome{Result: ResultRejected, Message: "Signature verification failed"}, fmt.Errorf("%w: %w", ErrSignature, err)
	}

	out, err := s.handle(ctx, ev, log)
	if err != nil {
		msg := logger.Redact(err.Error())
		log.Error("webhook processing failed", zap.String("error", msg))
		s.record(ctx, ev, ResultError, msg)
		return Outcome{Result: ResultError, Message: "Internal error (retry)"}, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	s.record(ctx, ev, out.Result, out.Reason)
	log.Info("webhook handled",
		zap.String("result", string(out.Result)),
		zap.String("reason", out.Reason),
		zap.Int64("order", out.OrderID),
		zap.String("strategy", string(out.Strategy)))
	return out, nil
}

func (s *Service) handle(ctx context.Context, ev *Event, log *zap.Logger) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := ev.DecodeResource(); err != nil {
		return Outcome{}, err
	}

	o, strategy, err := s.Resolver.Resolve(ctx, ev.Resource)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve order: %w", err)
	}
	if o == nil {
		log.Warn("webhook order not found",
			zap.String("resource_type", ev.Resource.Type),
			zap.String("resource_id", ev.Resource.ID))
		return Outcome{Result: ResultIgnored, Message: "Ignored (order not found)", Reason: "Order not found"}, nil
	}

	out, fx, err := s.Reconciler.Apply(ctx, ev, o.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile order %d: %w", o.ID, err)
	}
	out.Strategy = strategy
	s.afterCommit(ctx, out.OrderID, fx, log)
	return out, nil
}

func (s *Service) afterCommit(ctx context.Context, orderID int64, fx effects, log *zap.Logger) {
	if fx.clearAutocancel && s.Autocancel != nil {
		if err := s.Autocancel.ClearAutocancel(ctx, orderID); err != nil {
			log.Warn("clear autocancel failed", zap.Int64("order", orderID), zap.Error(err))
		}
	}
	if s.Events == nil {
		return
	}
	if fx.confirmed != nil {
		s.Events.PaymentConfirmed(ctx, *fx.confirmed)
	}
	if fx.failed != nil {
		s.Events.PaymentFailed(ctx, *fx.failed)
	}
}

func (s *Service) record(ctx context.Context, ev *Event, result Result, errMsg string) {
	rec := StatusRecord{
		LastAt:     s.Now().UTC(),
		LastType:   ev.Type,
		LastResult: result,
		LastError:  errMsg,
		LastEvent:  ev.ID,
	}
	if err := s.Status.Save(ctx, rec); err != nil {
		s.Log.Warn("save webhook status failed", zap.Error(err))
	}
}
