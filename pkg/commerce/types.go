// Package commerce talks to the GraphQL commerce backend that owns orders.
package commerce

// Metadata keys stamped on every order this service creates.
const (
	MetadataPaymentID = "StripePaymentId"
	MetadataSessionID = "StripeSessionId"
)

type MetadataItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type AddressInput struct {
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	StreetAddress1 string `json:"streetAddress1,omitempty"`
	StreetAddress2 string `json:"streetAddress2,omitempty"`
	City           string `json:"city,omitempty"`
	CountryArea    string `json:"countryArea,omitempty"`
	PostalCode     string `json:"postalCode,omitempty"`
	Country        string `json:"country,omitempty"`
}

// OrderInput mirrors the backend's OrderCreateInput.
type OrderInput struct {
	CheckoutID      string         `json:"checkoutId"`
	Channel         string         `json:"channel"`
	UserEmail       string         `json:"userEmail,omitempty"`
	Metadata        []MetadataItem `json:"metadata"`
	BillingAddress  *AddressInput  `json:"billingAddress,omitempty"`
	ShippingAddress *AddressInput  `json:"shippingAddress,omitempty"`
}

type Order struct {
	ID string `json:"id"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type orderError struct {
	Field   *string `json:"field"`
	Message string  `json:"message"`
	Code    string  `json:"code"`
}

type orderCreateResponse struct {
	Data *struct {
		OrderCreate *struct {
			Order  *Order       `json:"order"`
			Errors []orderError `json:"errors"`
		} `json:"orderCreate"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

const orderCreateMutation = `mutation OrderCreate($input: OrderCreateInput!) {
  orderCreate(input: $input) {
    order { id }
    errors { field message code }
  }
}`
