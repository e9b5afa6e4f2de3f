package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-paymongo-checkout/internal/app"
	"github.com/ariefcatur/go-paymongo-checkout/internal/config"
	"github.com/ariefcatur/go-paymongo-checkout/internal/httpx"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/postgres"
	"github.com/ariefcatur/go-paymongo-checkout/internal/redisx"
	"github.com/ariefcatur/go-paymongo-checkout/internal/scheduler"
	"github.com/ariefcatur/go-paymongo-checkout/internal/webhook"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	gw, err := app.Gateway(cfg)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	logger, err := app.Logger(cfg, gw)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	prod := app.StartProducers(ctx, cfg, logger)
	emitter := prod.Emitter(cfg.ServiceName)

	store := &orders.Repo{DB: db}
	status := &webhook.StatusRepo{DB: db}
	sched := scheduler.New(rdb, logger.Named("scheduler"))

	hooks := webhook.NewService(store, webhook.Options{
		Secrets:    gw,
		Decimals:   gw.PriceDecimals,
		Status:     status,
		Autocancel: sched,
		Events:     emitter,
		Log:        logger.Named("webhook"),
	})
	co := app.Checkout(cfg, gw, store, sched, emitter, logger)

	router := httpx.NewRouter(logger)
	(&httpx.WebhookHandler{Service: hooks, Config: gw, Log: logger}).Register(router)
	(&httpx.OrdersHandler{
		Checkout:      co,
		Orders:        store,
		Redis:         rdb,
		CancelLimiter: httpx.NewRateLimiter(rate.Every(time.Minute/30), 10, 10*time.Minute),
		Log:           logger,
	}).Register(router)
	(&httpx.AdminHandler{Token: cfg.AdminToken, Status: status}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // tutup inbox -> flush & close writer
	cancel()
}
