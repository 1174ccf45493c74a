package controllers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	"github.com/angelmondragon/storefront-checkout/api/validators"
	"github.com/angelmondragon/storefront-checkout/internal/completion"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const (
	maxIdentifierLen  = 255
	defaultRetryAfter = 2 * time.Second
)

type completer interface {
	Complete(ctx context.Context, trigger completion.Trigger) (completion.Outcome, error)
}

// OrderConfirmation is the landing route of the processor redirect. It drives
// completion for the session and sends the shopper to the order page, or
// answers 202 while the payment is still settling. When mounted under
// /{channel}/ the path channel must agree with the query.
func OrderConfirmation(router completer, storefrontBaseURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if router == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "completion router unavailable"))
			return
		}

		params, err := validators.RequireQuery(r, "cartId", "channel", "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if pathChannel := chi.URLParam(r, "channel"); pathChannel != "" && pathChannel != params["channel"] {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "channel does not match redirect path"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithSessionID(ctx, params["sessionId"])
		}

		outcome, err := router.Complete(ctx, completion.Trigger{
			Source:    enums.TriggerRedirect,
			SessionID: params["sessionId"],
			CartID:    params["cartId"],
			Channel:   params["channel"],
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		switch outcome.State {
		case completion.StateOrderCreated:
			channel := outcome.Channel
			if channel == "" {
				channel = params["channel"]
			}
			http.Redirect(w, r, orderDetailsURL(storefrontBaseURL, channel, outcome.OrderID), http.StatusSeeOther)
		case completion.StateFailed:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeOrderCreation, outcome.FailureReason).
				WithDetails(map[string]any{
					"capture_id":   outcome.CaptureID,
					"failure_code": outcome.FailureCode,
				}))
		default:
			w.Header().Set("Retry-After", strconv.Itoa(int(defaultRetryAfter.Seconds())))
			responses.WriteSuccessStatus(w, http.StatusAccepted, outcome)
		}
	}
}

func orderDetailsURL(base, channel, orderID string) string {
	return base + "/" + url.PathEscape(channel) + "/order-details/" + url.PathEscape(orderID)
}
