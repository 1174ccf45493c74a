package completion

import (
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

type State string

const (
	StatePending      State = "pending"
	StateOrderCreated State = "order_created"
	StateFailed       State = "failed"
)

// Trigger is one completion attempt. Redirects carry the session and the
// cart/channel echoed by the browser; webhooks and the sweeper usually also
// know the capture id.
type Trigger struct {
	Source    enums.TriggerSource
	SessionID string
	CaptureID string
	CartID    string
	Channel   string
}

type Outcome struct {
	State         State  `json:"status"`
	OrderID       string `json:"order_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	CaptureID     string `json:"capture_id,omitempty"`
	Channel       string `json:"channel,omitempty"`
	FailureCode   string `json:"failure_code,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (t Trigger) validate() error {
	if !t.Source.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown trigger source")
	}
	if t.SessionID == "" && t.CaptureID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id or capture id required")
	}
	return nil
}

// matches rejects a trigger whose cart or channel disagrees with what the
// processor recorded at session creation. Empty trigger fields are not
// checked.
func (t Trigger) matches(cartID, channel string) error {
	if t.CartID != "" && cartID != "" && t.CartID != cartID {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart does not match payment session")
	}
	if t.Channel != "" && channel != "" && t.Channel != channel {
		return pkgerrors.New(pkgerrors.CodeValidation, "channel does not match payment session")
	}
	return nil
}

func outcomeFromRecord(record models.ReconciliationRecord) Outcome {
	out := Outcome{
		SessionID: record.SessionID,
		CaptureID: record.CaptureID,
		Channel:   record.Channel,
	}
	switch record.Status {
	case enums.ReconciliationOrderCreated:
		out.State = StateOrderCreated
		if record.OrderID != nil {
			out.OrderID = *record.OrderID
		}
	case enums.ReconciliationFailed:
		out.State = StateFailed
		if record.FailureCode != nil {
			out.FailureCode = string(*record.FailureCode)
		}
		if record.FailureReason != nil {
			out.FailureReason = *record.FailureReason
		}
	default:
		out.State = StatePending
	}
	return out
}
