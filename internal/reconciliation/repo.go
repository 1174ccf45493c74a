package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-checkout/internal/repo"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

const defaultListLimit = 50

// Repository owns every read and transition of reconciliation_records.
// Transitions are single conditional UPDATEs; none of them read first.
type Repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{base: repo.NewBase(db)}
}

// FindByCapture returns nil, nil when no record exists.
func (r *Repository) FindByCapture(ctx context.Context, captureID string) (*models.ReconciliationRecord, error) {
	return r.findByCapture(r.base.DB(ctx), captureID)
}

// FindByCaptureTx reads inside the caller's transaction.
func (r *Repository) FindByCaptureTx(ctx context.Context, tx *gorm.DB, captureID string) (*models.ReconciliationRecord, error) {
	return r.findByCapture(r.base.Conn(ctx, tx), captureID)
}

func (r *Repository) findByCapture(conn *gorm.DB, captureID string) (*models.ReconciliationRecord, error) {
	var record models.ReconciliationRecord
	if err := conn.Where("capture_id = ?", captureID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// FindBySession returns the most recent record opened for the session.
func (r *Repository) FindBySession(ctx context.Context, sessionID string) (*models.ReconciliationRecord, error) {
	var record models.ReconciliationRecord
	err := r.base.DB(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Ensure inserts a verifying row for the capture id unless one exists and
// returns the stored row either way.
func (r *Repository) Ensure(ctx context.Context, record models.ReconciliationRecord) (*models.ReconciliationRecord, bool, error) {
	if record.CaptureID == "" {
		return nil, false, errors.New("capture id is required")
	}
	record.Status = enums.ReconciliationVerifying
	record.ClaimToken = nil
	record.ClaimedBy = nil
	record.ClaimedAt = nil
	record.OrderID = nil

	res := r.base.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "capture_id"}}, DoNothing: true}).
		Create(&record)
	if res.Error != nil {
		return nil, false, res.Error
	}
	stored, err := r.FindByCapture(ctx, record.CaptureID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, gorm.ErrRecordNotFound
	}
	return stored, res.RowsAffected == 1, nil
}

// Claim moves the record from verifying to proof_confirmed. Only one caller
// per capture id ever sees true.
func (r *Repository) Claim(ctx context.Context, captureID string, token uuid.UUID, source enums.TriggerSource, now time.Time) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.ReconciliationRecord{}).
		Where("capture_id = ? AND status = ?", captureID, enums.ReconciliationVerifying).
		Updates(map[string]any{
			"status":      enums.ReconciliationProofConfirmed,
			"claim_token": token,
			"claimed_by":  source,
			"claimed_at":  now,
			"attempts":    gorm.Expr("attempts + 1"),
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release hands a claim back to verifying. Used only when no order-creation
// request ever reached the commerce backend.
func (r *Repository) Release(ctx context.Context, captureID string, token uuid.UUID, now time.Time) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.ReconciliationRecord{}).
		Where("capture_id = ? AND status = ? AND claim_token = ?", captureID, enums.ReconciliationProofConfirmed, token).
		Updates(map[string]any{
			"status":      enums.ReconciliationVerifying,
			"claim_token": nil,
			"claimed_by":  nil,
			"claimed_at":  nil,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkOrderCreatedTx settles the claim with the backend's order id.
func (r *Repository) MarkOrderCreatedTx(ctx context.Context, tx *gorm.DB, captureID string, token uuid.UUID, orderID string, now time.Time) (bool, error) {
	res := r.base.Conn(ctx, tx).
		Model(&models.ReconciliationRecord{}).
		Where("capture_id = ? AND status = ? AND claim_token = ?", captureID, enums.ReconciliationProofConfirmed, token).
		Updates(map[string]any{
			"status":     enums.ReconciliationOrderCreated,
			"order_id":   orderID,
			"settled_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFailedTx settles the claim as failed. The claim is kept so the row
// never re-enters the claimable state.
func (r *Repository) MarkFailedTx(ctx context.Context, tx *gorm.DB, captureID string, token uuid.UUID, code enums.FailureCode, reason string, now time.Time) (bool, error) {
	res := r.base.Conn(ctx, tx).
		Model(&models.ReconciliationRecord{}).
		Where("capture_id = ? AND status = ? AND claim_token = ?", captureID, enums.ReconciliationProofConfirmed, token).
		Updates(map[string]any{
			"status":         enums.ReconciliationFailed,
			"failure_code":   code,
			"failure_reason": reason,
			"settled_at":     now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkAlertedTx stamps alerted_at once; false means another sweep got there first.
func (r *Repository) MarkAlertedTx(ctx context.Context, tx *gorm.DB, captureID string, now time.Time) (bool, error) {
	res := r.base.Conn(ctx, tx).
		Model(&models.ReconciliationRecord{}).
		Where("capture_id = ? AND alerted_at IS NULL", captureID).
		Updates(map[string]any{
			"alerted_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStaleClaims returns proof_confirmed rows claimed before cutoff that have
// not been alerted on yet.
func (r *Repository) ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]models.ReconciliationRecord, error) {
	var rows []models.ReconciliationRecord
	err := r.base.DB(ctx).
		Where("status = ? AND claimed_at < ? AND alerted_at IS NULL", enums.ReconciliationProofConfirmed, cutoff).
		Order("claimed_at ASC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	return rows, err
}

// ListPendingVerification returns verifying rows untouched since cutoff.
func (r *Repository) ListPendingVerification(ctx context.Context, cutoff time.Time, limit int) ([]models.ReconciliationRecord, error) {
	var rows []models.ReconciliationRecord
	err := r.base.DB(ctx).
		Where("status = ? AND updated_at < ?", enums.ReconciliationVerifying, cutoff).
		Order("updated_at ASC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	return rows, err
}

// Touch bumps updated_at on a verifying row so the sweeper backs off it.
func (r *Repository) Touch(ctx context.Context, captureID string, now time.Time) error {
	return r.base.DB(ctx).
		Model(&models.ReconciliationRecord{}).
		Where("capture_id = ? AND status = ?", captureID, enums.ReconciliationVerifying).
		Update("updated_at", now).Error
}

// ListParams filters the admin listing. A zero Status lists every row.
type ListParams struct {
	Status enums.ReconciliationStatus
	Limit  int
	Offset int
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]models.ReconciliationRecord, int64, error) {
	filtered := func() *gorm.DB {
		query := r.base.DB(ctx).Model(&models.ReconciliationRecord{})
		if params.Status != "" {
			query = query.Where("status = ?", params.Status)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	var rows []models.ReconciliationRecord
	err := filtered().
		Order("created_at DESC").
		Order("capture_id ASC").
		Limit(normalizeLimit(params.Limit)).
		Offset(offset).
		Find(&rows).Error
	return rows, total, err
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
