package payments

import "github.com/angelmondragon/storefront-checkout/pkg/enums"

// Session metadata keys written when the checkout session is opened.
const (
	MetadataCartID  = "checkoutId"
	MetadataChannel = "channel"
)

// SessionStatus mirrors the processor's view of a checkout session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// PaymentProof is a read-through projection of a captured payment. It is
// computed on every verification and never stored on its own.
type PaymentProof struct {
	CaptureID   string
	SessionID   string
	CartID      string
	Channel     string
	AmountMinor int64
	Currency    enums.Currency
	Email       string
	Name        string
	Billing     *Address
	Shipping    *Address
}

// Verification is the verifier's answer. Paid=false is the not-paid state
// and is not an error; CaptureID is still reported when one exists.
type Verification struct {
	Paid          bool
	SessionID     string
	SessionStatus SessionStatus
	CaptureID     string
	CartID        string
	Channel       string
	AmountMinor   int64
	Currency      string
	Proof         *PaymentProof
}
