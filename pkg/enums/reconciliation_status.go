package enums

import "fmt"

// ReconciliationStatus tracks a capture id through the completion pipeline.
type ReconciliationStatus string

const (
	ReconciliationVerifying      ReconciliationStatus = "verifying"
	ReconciliationProofConfirmed ReconciliationStatus = "proof_confirmed"
	ReconciliationOrderCreated   ReconciliationStatus = "order_created"
	ReconciliationFailed         ReconciliationStatus = "failed"
)

var validReconciliationStatuses = []ReconciliationStatus{
	ReconciliationVerifying,
	ReconciliationProofConfirmed,
	ReconciliationOrderCreated,
	ReconciliationFailed,
}

func (s ReconciliationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known status.
func (s ReconciliationStatus) IsValid() bool {
	for _, candidate := range validReconciliationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s ReconciliationStatus) IsTerminal() bool {
	return s == ReconciliationOrderCreated || s == ReconciliationFailed
}

// ParseReconciliationStatus converts raw input into ReconciliationStatus.
func ParseReconciliationStatus(value string) (ReconciliationStatus, error) {
	for _, candidate := range validReconciliationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation status %q", value)
}

// TriggerSource names the entry point that asked for completion.
type TriggerSource string

const (
	TriggerRedirect TriggerSource = "redirect"
	TriggerWebhook  TriggerSource = "webhook"
	TriggerSweeper  TriggerSource = "sweeper"
)

func (t TriggerSource) IsValid() bool {
	switch t {
	case TriggerRedirect, TriggerWebhook, TriggerSweeper:
		return true
	}
	return false
}

// FailureCode classifies why a record ended in the failed status.
type FailureCode string

const (
	FailureBackendRejected FailureCode = "backend_rejected"
	FailureOutcomeUnknown  FailureCode = "outcome_unknown"
)
