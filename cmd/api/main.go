package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/checkout"
	"github.com/ariefcatur/storefront-settlement/internal/config"
	"github.com/ariefcatur/storefront-settlement/internal/httpx"
	"github.com/ariefcatur/storefront-settlement/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-settlement/internal/kafka"
	"github.com/ariefcatur/storefront-settlement/internal/lifecycle"
	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/payment"
	"github.com/ariefcatur/storefront-settlement/internal/postgres"
	"github.com/ariefcatur/storefront-settlement/internal/redisx"
	"github.com/ariefcatur/storefront-settlement/internal/telemetry"
	"github.com/ariefcatur/storefront-settlement/internal/webhook"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracer init", zap.Error(err))
	}

	// DB
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, satu untuk semua topic
	prod := kafkax.NewProducer(cfg.Brokers(), 1024, logger)
	prod.Start(ctx)
	dispatcher := kafkax.NewDispatcher(prod, cfg.ServiceName)

	m := metrics.New()
	st := postgres.NewStore(db)
	ledger := inventory.NewLedger(st, logger, m).
		WithNotifier(dispatcher).
		WithLowStockThreshold(cfg.Inventory.LowStockThreshold)
	machine := lifecycle.NewMachine(st, ledger, dispatcher, logger, m)
	gateways := payment.RegistryFromConfig(cfg.Payment, m)
	pgCatalog := &postgres.Catalog{DB: db}
	catalog := redisx.NewCachedCatalog(pgCatalog, rdb, redisx.TTLCatalog, logger)
	orch := checkout.NewOrchestrator(catalog, ledger, machine, gateways, dispatcher, logger, m,
		checkout.Config{CallbackURL: cfg.Payment.CallbackURL})

	wh := &httpx.WebhookHandler{
		Gateways:  gateways,
		Dedup:     webhook.NewRedisDeduplicator(rdb, cfg.Webhook.DedupTTL),
		Processor: orch,
		Logger:    logger,
		Metrics:   m,
	}
	if cfg.Webhook.Async {
		wh.Queue = dispatcher
	}

	router := httpx.NewRouter(logger, m)
	httpx.Mount(router, httpx.Handlers{
		Auth:      httpx.NewAuthenticator(cfg.JWTSecret),
		Checkout:  &httpx.CheckoutHandler{Orchestrator: orch, Idempotency: redisx.NewIdempotency(rdb, redisx.TTLIdempotency), Logger: logger},
		Orders:    &httpx.OrdersHandler{Orchestrator: orch, Machine: machine, Logger: logger},
		Inventory: &httpx.InventoryHandler{Ledger: ledger, Logger: logger},
		Products:  &httpx.ProductsHandler{Catalog: pgCatalog, Logger: logger},
		Webhooks:  wh,
		RateLimit: httpx.RateLimit{Requests: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window},
	})

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.Strings("providers", gateways.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
	_ = shutdownTracer(ctx2)
}
