package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/checkout"
	"github.com/ariefcatur/storefront-settlement/internal/config"
	"github.com/ariefcatur/storefront-settlement/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-settlement/internal/kafka"
	"github.com/ariefcatur/storefront-settlement/internal/lifecycle"
	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/payment"
	"github.com/ariefcatur/storefront-settlement/internal/postgres"
	"github.com/ariefcatur/storefront-settlement/internal/redisx"
	"github.com/ariefcatur/storefront-settlement/internal/telemetry"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	service := cfg.ServiceName + "-worker"
	logger, err := logging.New(service, cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, service, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracer init", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.Brokers(), 1024, logger)
	prod.Start(ctx)
	dispatcher := kafkax.NewDispatcher(prod, service)

	m := metrics.New()
	st := postgres.NewStore(db)
	ledger := inventory.NewLedger(st, logger, m).
		WithNotifier(dispatcher).
		WithLowStockThreshold(cfg.Inventory.LowStockThreshold)
	machine := lifecycle.NewMachine(st, ledger, dispatcher, logger, m)
	orch := checkout.NewOrchestrator(&postgres.Catalog{DB: db}, ledger, machine,
		payment.RegistryFromConfig(cfg.Payment, m), dispatcher, logger, m,
		checkout.Config{CallbackURL: cfg.Payment.CallbackURL})

	// Sweeper: satu instance aktif via redis lock
	sweeper := inventory.NewSweeper(st, machine, redisx.NewLocker(rdb), logger, m, inventory.SweeperConfig{
		Timeout:    cfg.Reservation.Timeout,
		Interval:   cfg.Reservation.SweepEvery,
		AlertAfter: cfg.Reservation.AlertAfter,
		Batch:      cfg.Reservation.SweepBatch,
		LockTTL:    cfg.Reservation.SweepLockTTL,
	})
	go sweeper.Run(ctx)

	// Consumers
	consume := func(topic string, h kafkax.Handler) {
		cons := kafkax.NewConsumer(cfg.Brokers(), cfg.Worker.Group, topic, cfg.Worker.Workers, logger)
		go func() {
			logger.Info("consumer started",
				zap.String("group", cfg.Worker.Group), zap.String("topic", topic), zap.Int("workers", cfg.Worker.Workers))
			if err := cons.Start(ctx, h); err != nil {
				logger.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}()
	}
	consume(orders.TopicWebhookAdmitted, func(ctx context.Context, msg kafkago.Message) error {
		p, err := decode[orders.WebhookAdmittedPayload](msg)
		if err != nil {
			logger.Warn("skip malformed webhook event", zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		return orch.ApplyAdmitted(ctx, p)
	})
	consume(orders.TopicRefundRequested, func(ctx context.Context, msg kafkago.Message) error {
		p, err := decode[orders.RefundRequestedPayload](msg)
		if err != nil {
			logger.Warn("skip malformed refund request", zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		err = orch.RetryRefund(ctx, p)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, orders.ErrRefundFailed), errors.Is(err, orders.ErrNotFound), errors.Is(err, payment.ErrUnknownProvider):
			// tidak akan sukses kalau diulang, perlu refund manual
			logging.Error(ctx, logger, "refund needs manual action",
				zap.String("order_id", p.OrderID), zap.String("provider", p.Provider), zap.String("amount", p.Amount), zap.Error(err))
			return nil
		default:
			return err
		}
	})

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down worker...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	prod.Close()
	prod.WaitClosed()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = shutdownTracer(ctx2)
}

func decode[T any](msg kafkago.Message) (T, error) {
	env, err := kafkax.UnmarshalEnvelope(msg.Value)
	if err != nil {
		var zero T
		return zero, err
	}
	return kafkax.UnwrapPayload[T](env.Payload)
}
