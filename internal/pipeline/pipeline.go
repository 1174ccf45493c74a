// Package pipeline assembles the completion pipeline shared by the API and
// the cron worker.
package pipeline

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-checkout/internal/checkout"
	"github.com/angelmondragon/storefront-checkout/internal/completion"
	"github.com/angelmondragon/storefront-checkout/internal/orders"
	"github.com/angelmondragon/storefront-checkout/internal/payments"
	"github.com/angelmondragon/storefront-checkout/internal/reconciliation"
	"github.com/angelmondragon/storefront-checkout/pkg/commerce"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/stripe"
)

// Pipeline holds the wired services. Every field is safe for concurrent use.
type Pipeline struct {
	Stripe          *stripe.Client
	Commerce        *commerce.Client
	Records         *reconciliation.Repository
	Outbox          *outbox.Service
	Checkout        checkout.Service
	Verifier        *payments.Verifier
	Materializer    orders.Service
	Router          completion.Router
	ReconcileMetric *metrics.ReconciliationMetrics
}

// Build wires Stripe, the commerce backend and the reconciliation store into
// a completion router. reg may be nil to skip metric registration.
func Build(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if logg == nil {
		logg = logger.Nop()
	}

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	commerceClient, err := commerce.NewClient(cfg.Commerce, nil, logg)
	if err != nil {
		return nil, fmt.Errorf("commerce client: %w", err)
	}

	records := reconciliation.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	reconcileMetrics := metrics.NewReconciliationMetrics(reg)

	checkoutSvc, err := checkout.NewService(stripeClient, cfg.Storefront, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	verifier, err := payments.NewVerifier(payments.VerifierParams{
		Sessions:    stripeClient,
		Logger:      logg,
		Timeout:     cfg.Reconcile.VerifyTimeout,
		MaxAttempts: cfg.Reconcile.VerifyMaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("payment verifier: %w", err)
	}

	materializer, err := orders.NewService(orders.ServiceParams{
		Orders:          commerceClient,
		Records:         records,
		Tx:              dbClient,
		Outbox:          outboxSvc,
		Logger:          logg,
		Metrics:         reconcileMetrics,
		Timeout:         cfg.Reconcile.MaterializeTimeout,
		PreSendAttempts: cfg.Reconcile.PreSendMaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("order materializer: %w", err)
	}

	router, err := completion.NewRouter(completion.RouterParams{
		Verifier:          verifier,
		Materializer:      materializer,
		Records:           records,
		Logger:            logg,
		Metrics:           reconcileMetrics,
		ResponseTimeout:   cfg.Reconcile.ResponseTimeout,
		ClaimWait:         cfg.Reconcile.ClaimWait,
		ClaimPollInterval: cfg.Reconcile.ClaimPollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("completion router: %w", err)
	}

	return &Pipeline{
		Stripe:          stripeClient,
		Commerce:        commerceClient,
		Records:         records,
		Outbox:          outboxSvc,
		Checkout:        checkoutSvc,
		Verifier:        verifier,
		Materializer:    materializer,
		Router:          router,
		ReconcileMetric: reconcileMetrics,
	}, nil
}
