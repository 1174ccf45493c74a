package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type breakerReporter interface {
	BreakerState() gobreaker.State
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storefront-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database and Redis; either failing marks the pod unready.
// The commerce breaker state is reported but never fails readiness: webhooks
// must keep landing so the sweeper can re-drive captures once it closes.
func HealthReady(cfg *config.Config, db pinger, cache pinger, commerce breakerReporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storefront-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}
		var failed error
		if db == nil {
			checks["database"] = "unavailable"
			failed = pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")
		} else if err := db.Ping(ctx); err != nil {
			checks["database"] = "unavailable"
			failed = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable")
		}
		if cache == nil {
			checks["redis"] = "unavailable"
			failed = pkgerrors.New(pkgerrors.CodeDependency, "redis unavailable")
		} else if err := cache.Ping(ctx); err != nil {
			checks["redis"] = "unavailable"
			failed = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable")
		}

		status := "ready"
		if commerce != nil {
			state := commerce.BreakerState()
			checks["commerce"] = state.String()
			if state != gobreaker.StateClosed {
				status = "degraded"
			}
		}

		if failed != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.As(failed).WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": status, "checks": checks})
	}
}
