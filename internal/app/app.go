// Package app holds the wiring shared by the binaries under cmd.
package app

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-paymongo-checkout/internal/checkout"
	"github.com/ariefcatur/go-paymongo-checkout/internal/config"
	"github.com/ariefcatur/go-paymongo-checkout/internal/events"
	kafkax "github.com/ariefcatur/go-paymongo-checkout/internal/kafka"
	"github.com/ariefcatur/go-paymongo-checkout/internal/logger"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/paymongo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gateway loads the settings file and applies environment overrides.
func Gateway(cfg config.Config) (config.Gateway, error) {
	s, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return config.Gateway{}, err
	}
	return config.Resolve(cfg.Overrides, s), nil
}

// Logger builds the process logger and logs the effective gateway mode with
// secrets masked.
func Logger(cfg config.Config, gw config.Gateway) (*zap.Logger, error) {
	log, err := logger.New(cfg.Env, gw.Debug)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log = log.With(zap.String("service", cfg.ServiceName))
	log.Info("gateway config",
		zap.Bool("enabled", gw.Enabled),
		zap.String("mode", gw.Mode),
		zap.String("secret_key", logger.MaskSecret(gw.SecretKey(gw.Mode))),
		zap.Bool("webhook_secret", gw.HasWebhookSecret()),
		zap.Duration("autocancel_after", gw.AutoCancelDelay),
		zap.Bool("legacy_cancel_links", gw.AllowLegacyUnsignedCancel))
	return log, nil
}

// Producers owns one Kafka producer per outbound topic.
type Producers struct {
	Confirmed *kafkax.Producer
	Failed    *kafkax.Producer
	Cancelled *kafkax.Producer
	Commands  *kafkax.Producer
}

func StartProducers(ctx context.Context, cfg config.Config, log *zap.Logger) *Producers {
	start := func(topic string) *kafkax.Producer {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024, log)
		p.Start(ctx)
		return p
	}
	return &Producers{
		Confirmed: start(orders.TopicPaymentConfirmed),
		Failed:    start(orders.TopicPaymentFailed),
		Cancelled: start(orders.TopicOrderCancelled),
		Commands:  start(orders.TopicCancelRequested),
	}
}

func (p *Producers) Emitter(service string) *events.Emitter {
	return &events.Emitter{
		Confirmed:   p.Confirmed,
		Failed:      p.Failed,
		Cancelled:   p.Cancelled,
		Commands:    p.Commands,
		ServiceName: service,
	}
}

// Close tutup semua inbox lalu tunggu flush.
func (p *Producers) Close() {
	all := []*kafkax.Producer{p.Confirmed, p.Failed, p.Cancelled, p.Commands}
	for _, x := range all {
		x.Close()
	}
	for _, x := range all {
		x.WaitClosed()
	}
}

// Checkout builds the checkout orchestrator against the PayMongo API.
func Checkout(cfg config.Config, gw config.Gateway, store orders.Store, sched checkout.Scheduler, ev checkout.EventSink, log *zap.Logger) *checkout.Service {
	secret := cfg.CancelLinkSecret
	if secret == "" {
		log.Warn("CANCEL_LINK_SECRET not set, cancel links will not survive a restart")
		secret = uuid.NewString()
	}
	clients := paymongo.NewClients(gw, log)
	return &checkout.Service{
		Store:         store,
		Gateways:      func(mode string) checkout.Gateway { return clients.For(mode) },
		Settings:      gw,
		Links:         checkout.NewCancelLinks(secret),
		Scheduler:     sched,
		Events:        ev,
		StoreName:     cfg.StoreName,
		StorefrontURL: cfg.StorefrontURL,
		PublicBaseURL: cfg.PublicBaseURL,
		Log:           log.Named("checkout"),
	}
}
