package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	"github.com/angelmondragon/storefront-checkout/api/validators"
	checkoutsvc "github.com/angelmondragon/storefront-checkout/internal/checkout"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

type sessionOpener interface {
	OpenSession(ctx context.Context, cart checkoutsvc.CartSnapshot, channel string) (*checkoutsvc.PaymentSession, error)
}

// CheckoutSession opens a hosted payment session for the submitted cart.
func CheckoutSession(svc sessionOpener, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var cart checkoutsvc.CartSnapshot
		if err := validators.DecodeJSONBody(r, &cart); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cart.ID = validators.SanitizeString(cart.ID, maxIdentifierLen)
		cart.Channel = validators.SanitizeString(cart.Channel, maxIdentifierLen)

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"cart_id": cart.ID, "channel": cart.Channel})
		}

		session, err := svc.OpenSession(ctx, cart, cart.Channel)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}
