package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/address"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/reconciliation"
	"github.com/angelmondragon/storefront-backend/internal/users"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
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
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stripeClient, err := stripe.NewClient(bootCtx, cfg.Stripe, logg)
	if err != nil {
		return fmt.Errorf("init stripe: %w", err)
	}
	stripeBreaker := breaker.New("stripe", cfg.Breaker, metrics.NewBreakerMetrics(registry), logg, payments.IsClientError)
	sessions, err := payments.NewStripeProvider(cfg.Checkout, stripeBreaker)
	if err != nil {
		return fmt.Errorf("build payment provider: %w", err)
	}

	conn := dbClient.DB()
	ledger, err := inventory.NewLedger(inventory.NewRepository(conn), logg, metrics.NewLedgerMetrics(registry))
	if err != nil {
		return err
	}
	dispatcher, err := notifications.NewDispatcher(cfg.Sendgrid, logg)
	if err != nil {
		return fmt.Errorf("build receipt dispatcher: %w", err)
	}
	addresses := address.NewRepository(conn)
	notifier, err := notifications.NewNotifier(addresses, users.NewRepository(conn), dispatcher, logg)
	if err != nil {
		return err
	}

	orderRepo := orders.NewRepository(conn)
	carts := cart.NewRepository(conn)
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Tx:        dbClient,
		Ledger:    ledger,
		Orders:    orderRepo,
		Carts:     carts,
		Addresses: addresses,
		Sessions:  sessions,
		Outbox:    outboxService,
		Receipts:  notifier,
		Metrics:   metrics.NewCheckoutMetrics(registry),
		Logger:    logg,
		Config:    cfg.Checkout,
	})
	if err != nil {
		return fmt.Errorf("build checkout service: %w", err)
	}

	handler, err := reconciliation.NewHandler(reconciliation.HandlerParams{
		Tx:              dbClient,
		Ledger:          ledger,
		Orders:          orderRepo,
		Carts:           carts,
		Outbox:          outboxService,
		Receipts:        notifier,
		Metrics:         metrics.NewReconciliationMetrics(registry),
		Logger:          logg,
		ClearCartOnPaid: !cfg.Checkout.ClearCartOnSession(),
	})
	if err != nil {
		return fmt.Errorf("build reconciliation handler: %w", err)
	}
	guard, err := stripewebhook.NewEventGuard(redisClient, cfg.App.WebhookEventTTL)
	if err != nil {
		return fmt.Errorf("build webhook guard: %w", err)
	}
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Handler: handler,
		Guard:   guard,
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("build stripe webhook service: %w", err)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:      orderRepo,
		Addresses: addresses,
		Tx:        dbClient,
		Outbox:    outboxService,
		Logger:    logg,
	})
	if err != nil {
		return fmt.Errorf("build orders service: %w", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			metrics.NewHTTPMetrics(registry),
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			checkoutService,
			ordersService,
			ledger,
			stripeClient,
			webhookService,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"service_kind": cfg.Service.Kind,
		"addr":         addr,
		"stripe_env":   stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	return nil
}
