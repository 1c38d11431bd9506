package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/internal/address"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/cron"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/reconciliation"
	"github.com/angelmondragon/storefront-backend/internal/users"
	"github.com/angelmondragon/storefront-backend/pkg/breaker"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	"github.com/angelmondragon/storefront-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing redis", err)
		}
	}()

	if _, err := stripe.NewClient(bootCtx, cfg.Stripe, logg); err != nil {
		return fmt.Errorf("init stripe: %w", err)
	}
	stripeBreaker := breaker.New("stripe", cfg.Breaker, metrics.NewBreakerMetrics(prometheus.DefaultRegisterer), logg, payments.IsClientError)
	sessions, err := payments.NewStripeProvider(cfg.Checkout, stripeBreaker)
	if err != nil {
		return fmt.Errorf("build payment provider: %w", err)
	}

	conn := dbClient.DB()
	ledger, err := inventory.NewLedger(inventory.NewRepository(conn), logg, metrics.NewLedgerMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	dispatcher, err := notifications.NewDispatcher(cfg.Sendgrid, logg)
	if err != nil {
		return fmt.Errorf("build receipt dispatcher: %w", err)
	}
	notifier, err := notifications.NewNotifier(address.NewRepository(conn), users.NewRepository(conn), dispatcher, logg)
	if err != nil {
		return err
	}
	orderRepo := orders.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)

	handler, err := reconciliation.NewHandler(reconciliation.HandlerParams{
		Tx:              dbClient,
		Ledger:          ledger,
		Orders:          orderRepo,
		Carts:           cart.NewRepository(conn),
		Outbox:          outbox.NewService(outboxRepo, logg),
		Receipts:        notifier,
		Metrics:         metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer),
		Logger:          logg,
		ClearCartOnPaid: !cfg.Checkout.ClearCartOnSession(),
	})
	if err != nil {
		return fmt.Errorf("build reconciliation handler: %w", err)
	}

	expiryJob, err := cron.NewReservationExpiryJob(cron.ReservationExpiryJobParams{
		Logger:     logg,
		Orders:     orderRepo,
		Sessions:   sessions,
		Handler:    handler,
		SessionTTL: cfg.Checkout.SessionTTL,
		Grace:      cfg.Reservation.ExpiryGrace,
		Batch:      cfg.Reservation.SweepBatch,
		Recheck:    cfg.Reservation.RecheckInterval,
	})
	if err != nil {
		return err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockEnv(cfg.App.Env)), 2*cfg.Reservation.SweepInterval)
	if err != nil {
		return fmt.Errorf("create cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(expiryJob, retentionJob),
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Reservation.SweepInterval,
		JobTimeout: cfg.Reservation.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"service_kind": cfg.Service.Kind,
		"interval":     cfg.Reservation.SweepInterval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
