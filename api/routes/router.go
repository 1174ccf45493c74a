package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/storefront-checkout/api/controllers"
	webhookcontrollers "github.com/angelmondragon/storefront-checkout/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-checkout/api/middleware"
	checkoutsvc "github.com/angelmondragon/storefront-checkout/internal/checkout"
	"github.com/angelmondragon/storefront-checkout/internal/completion"
	"github.com/angelmondragon/storefront-checkout/internal/reconciliation"
	stripewebhook "github.com/angelmondragon/storefront-checkout/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

type signingSecretProvider interface {
	SigningSecret() string
}

type commerceBreaker interface {
	BreakerState() gobreaker.State
}

// Dependencies are the services the HTTP surface dispatches to.
type Dependencies struct {
	DB                   db.Pinger
	Redis                redis.Pinger
	IdempotencyStore     redis.IdempotencyStore
	Checkout             checkoutsvc.Service
	Completion           completion.Router
	CommerceBreaker      commerceBreaker
	Reconciliations      *reconciliation.Repository
	StripeClient         signingSecretProvider
	StripeWebhookService webhookcontrollers.StripeWebhookService
	StripeWebhookGuard   *stripewebhook.IdempotencyGuard
	Metrics              prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Storefront.BaseURL()),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.DB, deps.Redis, deps.CommerceBreaker, logg))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", metrics.Handler(deps.Metrics))
	}

	confirmation := controllers.OrderConfirmation(deps.Completion, cfg.Storefront.BaseURL(), logg)
	r.Get("/order-confirmation", confirmation)
	r.Get("/{channel}/order-confirmation", confirmation)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhookService, deps.StripeClient, deps.StripeWebhookGuard, logg))
	})

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(middleware.Idempotency(deps.IdempotencyStore, middleware.DefaultIdempotencyTTL, logg))
		r.Post("/sessions", controllers.CheckoutSession(deps.Checkout, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.OperatorAuth(cfg.Admin, logg))
		r.Use(middleware.RequireRole(enums.OperatorRoleAdmin, logg))
		r.Get("/reconciliations", controllers.AdminReconciliationList(deps.Reconciliations, logg))
		r.Get("/reconciliations/{captureID}", controllers.AdminReconciliationDetail(deps.Reconciliations, logg))
	})

	return r
}
