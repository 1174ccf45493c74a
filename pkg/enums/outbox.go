package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateReconciliation OutboxAggregateType = "reconciliation"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateReconciliation,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderMaterialized     OutboxEventType = "order_materialized"
	EventOrderCreationFailed   OutboxEventType = "order_creation_failed"
	EventReconciliationDiverge OutboxEventType = "reconciliation_diverged"
	EventClaimStale            OutboxEventType = "claim_stale"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderMaterialized,
	EventOrderCreationFailed,
	EventReconciliationDiverge,
	EventClaimStale,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsOperatorAlert reports whether the event is routed to the operator channel.
func (e OutboxEventType) IsOperatorAlert() bool {
	return e != EventOrderMaterialized
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
