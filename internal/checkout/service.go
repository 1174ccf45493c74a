package checkout

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v76"

	"github.com/angelmondragon/storefront-checkout/internal/payments"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
)

// sessionIDPlaceholder is substituted by Stripe on redirect.
const sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

type sessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Service opens payment sessions against cart snapshots.
type Service interface {
	OpenSession(ctx context.Context, cart CartSnapshot, channel string) (*PaymentSession, error)
}

type service struct {
	sessions      sessionCreator
	baseURL       string
	paymentMethod string
	logg          *logger.Logger
}

// NewService builds the payment session manager.
func NewService(sessions sessionCreator, storefront config.StorefrontConfig, stripeCfg config.StripeConfig, logg *logger.Logger) (Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("stripe session creator required")
	}
	base := storefront.BaseURL()
	if base == "" {
		return nil, fmt.Errorf("storefront public url required")
	}
	method := strings.TrimSpace(stripeCfg.PaymentMethod)
	if method == "" {
		method = "card"
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		sessions:      sessions,
		baseURL:       base,
		paymentMethod: method,
		logg:          logg,
	}, nil
}

func (s *service) OpenSession(ctx context.Context, cart CartSnapshot, channel string) (*PaymentSession, error) {
	channel, err := resolveChannel(cart, channel)
	if err != nil {
		return nil, err
	}
	items, currency, err := priceItems(cart)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{s.paymentMethod}),
		LineItems:          items,
		ClientReferenceID:  stripe.String(cart.ID),
		SuccessURL:         stripe.String(s.successURL(cart.ID, channel)),
		CancelURL:          stripe.String(s.cancelURL(channel)),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				payments.MetadataCartID:  cart.ID,
				payments.MetadataChannel: channel,
			},
		},
	}
	params.AddMetadata(payments.MetadataCartID, cart.ID)
	params.AddMetadata(payments.MetadataChannel, channel)

	session, err := s.sessions.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	ctx = s.logg.WithSessionID(ctx, session.ID)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"cart_id":  cart.ID,
		"channel":  channel,
		"currency": currency,
		"items":    len(items),
	}), "checkout session opened")

	return &PaymentSession{
		ID:          session.ID,
		CartID:      cart.ID,
		Channel:     channel,
		Status:      payments.SessionCreated,
		RedirectURL: session.URL,
	}, nil
}

func resolveChannel(cart CartSnapshot, channel string) (string, error) {
	channel = strings.TrimSpace(channel)
	snapshot := strings.TrimSpace(cart.Channel)
	switch {
	case channel == "" && snapshot == "":
		return "", pkgerrors.New(pkgerrors.CodeValidation, "channel is required")
	case channel == "":
		return snapshot, nil
	case snapshot != "" && snapshot != channel:
		return "", pkgerrors.New(pkgerrors.CodeInvalidCart, "cart belongs to a different channel").
			WithDetails(map[string]any{"cart_channel": snapshot, "channel": channel})
	}
	return channel, nil
}

// priceItems validates the snapshot and converts it to processor line items.
// Nothing reaches the processor unless every item passes.
func priceItems(cart CartSnapshot) ([]*stripe.CheckoutSessionLineItemParams, enums.Currency, error) {
	if strings.TrimSpace(cart.ID) == "" {
		return nil, "", pkgerrors.New(pkgerrors.CodeInvalidCart, "cart id is required")
	}
	if len(cart.Items) == 0 {
		return nil, "", pkgerrors.New(pkgerrors.CodeInvalidCart, "cart has no line items")
	}

	var currency enums.Currency
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(cart.Items))
	for i, item := range cart.Items {
		details := map[string]any{"index": i, "variant_id": item.VariantID}
		if item.Quantity <= 0 {
			return nil, "", pkgerrors.New(pkgerrors.CodeInvalidCart, "line item quantity must be positive").WithDetails(details)
		}
		if !item.UnitPrice.IsPositive() {
			return nil, "", pkgerrors.New(pkgerrors.CodeInvalidCart, "line item unit price must be positive").WithDetails(details)
		}

		itemCurrency, err := enums.ParseCurrency(item.Currency)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeUnsupportedCurrency, err, "line item currency not supported").WithDetails(details)
		}
		if currency == "" {
			currency = itemCurrency
		} else if itemCurrency != currency {
			details["expected"] = currency
			details["currency"] = itemCurrency
			return nil, "", pkgerrors.New(pkgerrors.CodeUnsupportedCurrency, "line items mix currencies").WithDetails(details)
		}

		unitAmount, err := money.ToMinor(item.UnitPrice, itemCurrency)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeInvalidCart, err, "line item unit price invalid").WithDetails(details)
		}

		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(item.Name),
			Metadata: map[string]string{"variantId": item.VariantID},
		}
		if item.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{item.ImageURL})
		}
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(itemCurrency.Lower()),
				ProductData: product,
				UnitAmount:  stripe.Int64(unitAmount),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	return items, currency, nil
}

func (s *service) successURL(cartID, channel string) string {
	query := url.Values{}
	query.Set("cartId", cartID)
	query.Set("channel", channel)
	return fmt.Sprintf("%s/%s/order-confirmation?%s&sessionId=%s",
		s.baseURL, url.PathEscape(channel), query.Encode(), sessionIDPlaceholder)
}

func (s *service) cancelURL(channel string) string {
	return fmt.Sprintf("%s/%s/cart", s.baseURL, url.PathEscape(channel))
}
