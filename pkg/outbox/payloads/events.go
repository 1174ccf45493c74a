package payloads

import "time"

// OrderMaterializedEvent announces that a captured payment now has its order.
type OrderMaterializedEvent struct {
	CaptureID   string    `json:"capture_id"`
	SessionID   string    `json:"session_id"`
	CartID      string    `json:"cart_id"`
	Channel     string    `json:"channel"`
	OrderID     string    `json:"order_id"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	ClaimedBy   string    `json:"claimed_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderCreationFailedEvent alerts operators that a paid capture has no order.
type OrderCreationFailedEvent struct {
	CaptureID     string `json:"capture_id"`
	SessionID     string `json:"session_id"`
	CartID        string `json:"cart_id"`
	Channel       string `json:"channel"`
	FailureCode   string `json:"failure_code"`
	FailureReason string `json:"failure_reason"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
}

// ReconciliationDivergedEvent reports that the commerce backend created an
// order the local record could not persist.
type ReconciliationDivergedEvent struct {
	CaptureID string `json:"capture_id"`
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	Error     string `json:"error"`
}

// ClaimStaleEvent reports a record stuck with an unresolved claim.
type ClaimStaleEvent struct {
	CaptureID string    `json:"capture_id"`
	SessionID string    `json:"session_id"`
	ClaimedBy string    `json:"claimed_by,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
	StaleFor  string    `json:"stale_for"`
}
