package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/internal/payments"
)

// LineItem is one row of the cart as it was priced when checkout started.
type LineItem struct {
	VariantID string          `json:"variant_id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	ImageURL  string          `json:"image_url,omitempty" validate:"omitempty,url"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
}

// CartSnapshot is an immutable copy of the commerce cart. The pipeline never
// re-reads the cart after a session is opened.
type CartSnapshot struct {
	ID      string     `json:"cart_id" validate:"required"`
	Channel string     `json:"channel"`
	Items   []LineItem `json:"items" validate:"dive"`
}

// PaymentSession is the processor-issued session handed back to the shopper.
type PaymentSession struct {
	ID          string                 `json:"session_id"`
	CartID      string                 `json:"cart_id"`
	Channel     string                 `json:"channel"`
	Status      payments.SessionStatus `json:"status"`
	RedirectURL string                 `json:"redirect_url"`
}
