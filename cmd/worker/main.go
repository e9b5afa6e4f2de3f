package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-paymongo-checkout/internal/app"
	"github.com/ariefcatur/go-paymongo-checkout/internal/commands"
	"github.com/ariefcatur/go-paymongo-checkout/internal/config"
	kafkax "github.com/ariefcatur/go-paymongo-checkout/internal/kafka"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/postgres"
	"github.com/ariefcatur/go-paymongo-checkout/internal/redisx"
	"github.com/ariefcatur/go-paymongo-checkout/internal/scheduler"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// worker runs due autocancel deadlines and consumes operator cancel commands.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	cfg.ServiceName += "-worker"
	gw, err := app.Gateway(cfg)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	logger, err := app.Logger(cfg, gw)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := app.StartProducers(context.Background(), cfg, logger)
	defer prod.Close()

	store := &orders.Repo{DB: db}
	sched := scheduler.New(rdb, logger.Named("scheduler"))
	co := app.Checkout(cfg, gw, store, sched, prod.Emitter(cfg.ServiceName), logger)

	cmds := &commands.Service{
		Orders:      co,
		Redis:       rdb,
		ServiceName: cfg.ServiceName,
		Log:         logger.Named("commands"),
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.CommandsGroup, orders.TopicCancelRequested, cfg.CommandWorkers, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("scheduler started", zap.Duration("poll", cfg.SchedulerPoll))
		return sched.Run(gctx, cfg.SchedulerPoll, co.Autocancel)
	})
	g.Go(func() error {
		logger.Info("command consumer started",
			zap.String("group", cfg.CommandsGroup),
			zap.String("topic", orders.TopicCancelRequested),
			zap.Int("workers", cfg.CommandWorkers))
		return cons.Start(gctx, cmds.HandleCancelRequested)
	})
	if err := g.Wait(); err != nil {
		logger.Error("worker exit", zap.Error(err))
	}
	logger.Info("worker stopped")
}
