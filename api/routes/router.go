package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	"github.com/angelmondragon/storefront-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	httpMetrics *metrics.HTTPMetrics,
	metricsHandler http.Handler,
	checkoutService *checkoutsvc.Service,
	ordersSvc orders.Service,
	ledger *inventory.Ledger,
	stripeClient *stripe.Client,
	stripeWebhookService *stripewebhook.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{"postgres": dbP}
	if redisClient != nil {
		readiness["redis"] = redisClient
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// provider callbacks authenticate by signature, not bearer token
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, logg))
	})

	var idemStore middleware.IdempotencyStore
	if redisClient != nil {
		idemStore = redisClient
	}
	idempotent := middleware.Idempotency(idemStore, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleBuyer, enums.UserRoleAdmin))
			r.With(idempotent).Post("/checkout", controllers.Checkout(checkoutService, logg))
			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordercontrollers.List(ordersSvc, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
			})
		})

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleSeller, enums.UserRoleAdmin))
			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordercontrollers.SellerList(ordersSvc, logg))
				r.Get("/{orderId}", ordercontrollers.SellerDetail(ordersSvc, logg))
				r.Patch("/{orderId}/mark-paid", ordercontrollers.MarkPaid(ordersSvc, logg))
			})
			r.Route("/products/{productId}", func(r chi.Router) {
				r.With(idempotent).Post("/restock", controllers.RestockProduct(ledger, logg))
				r.Put("/stock", controllers.SetProductStock(ledger, logg))
				r.Put("/visibility", controllers.SetProductVisibility(ledger, logg))
				r.Delete("/", controllers.DeleteProduct(ledger, logg))
			})
		})
	})

	return r
}
