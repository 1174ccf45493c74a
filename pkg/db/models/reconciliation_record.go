package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// ReconciliationRecord is the durable link between one captured payment and
// at most one commerce order. CaptureID is the primary key so a payment can
// never map to two rows.
type ReconciliationRecord struct {
	CaptureID     string                     `gorm:"column:capture_id;primaryKey"`
	SessionID     string                     `gorm:"column:session_id;not null;index"`
	CartID        string                     `gorm:"column:cart_id;not null"`
	Channel       string                     `gorm:"column:channel;not null"`
	Status        enums.ReconciliationStatus `gorm:"column:status;type:text;not null"`
	OrderID       *string                    `gorm:"column:order_id"`
	ClaimToken    *uuid.UUID                 `gorm:"column:claim_token;type:uuid"`
	ClaimedBy     *enums.TriggerSource       `gorm:"column:claimed_by;type:text"`
	ClaimedAt     *time.Time                 `gorm:"column:claimed_at"`
	FailureCode   *enums.FailureCode         `gorm:"column:failure_code;type:text"`
	FailureReason *string                    `gorm:"column:failure_reason"`
	AmountMinor   int64                      `gorm:"column:amount_minor;not null"`
	Currency      string                     `gorm:"column:currency;not null"`
	Attempts      int                        `gorm:"column:attempts;not null;default:0"`
	AlertedAt     *time.Time                 `gorm:"column:alerted_at"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
	SettledAt     *time.Time                 `gorm:"column:settled_at"`
}

func (ReconciliationRecord) TableName() string {
	return "reconciliation_records"
}

// HoldsClaim reports whether token owns the in-flight claim on the record.
func (r ReconciliationRecord) HoldsClaim(token uuid.UUID) bool {
	return r.Status == enums.ReconciliationProofConfirmed && r.ClaimToken != nil && *r.ClaimToken == token
}
