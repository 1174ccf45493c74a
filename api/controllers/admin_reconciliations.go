package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	"github.com/angelmondragon/storefront-checkout/api/validators"
	"github.com/angelmondragon/storefront-checkout/internal/reconciliation"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

type reconciliationReader interface {
	List(ctx context.Context, params reconciliation.ListParams) ([]models.ReconciliationRecord, int64, error)
	FindByCapture(ctx context.Context, captureID string) (*models.ReconciliationRecord, error)
}

// AdminReconciliationList pages through reconciliation records, optionally by status.
func AdminReconciliationList(repo reconciliationReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation repository unavailable"))
			return
		}

		params := reconciliation.ListParams{}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseReconciliationStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
					WithDetails(map[string]any{"field": "status"}))
				return
			}
			params.Status = status
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.Limit = limit
		params.Offset = offset

		rows, total, err := repo.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reconciliations"))
			return
		}

		items := make([]reconciliationResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, newReconciliationResponse(row))
		}
		responses.WriteSuccess(w, reconciliationListResponse{
			Items:  items,
			Total:  total,
			Limit:  limit,
			Offset: offset,
		})
	}
}

// AdminReconciliationDetail returns the record for one capture id.
func AdminReconciliationDetail(repo reconciliationReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation repository unavailable"))
			return
		}

		captureID := validators.SanitizeString(chi.URLParam(r, "captureID"), maxIdentifierLen)
		if captureID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "capture id required"))
			return
		}

		record, err := repo.FindByCapture(r.Context(), captureID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation"))
			return
		}
		if record == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "reconciliation not found"))
			return
		}

		responses.WriteSuccess(w, newReconciliationResponse(*record))
	}
}

type reconciliationListResponse struct {
	Items  []reconciliationResponse `json:"items"`
	Total  int64                    `json:"total"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

type reconciliationResponse struct {
	CaptureID     string     `json:"capture_id"`
	SessionID     string     `json:"session_id"`
	CartID        string     `json:"cart_id"`
	Channel       string     `json:"channel"`
	Status        string     `json:"status"`
	OrderID       *string    `json:"order_id,omitempty"`
	ClaimedBy     *string    `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	FailureCode   *string    `json:"failure_code,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	AmountMinor   int64      `json:"amount_minor"`
	Currency      string     `json:"currency"`
	Attempts      int        `json:"attempts"`
	AlertedAt     *time.Time `json:"alerted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

func newReconciliationResponse(record models.ReconciliationRecord) reconciliationResponse {
	resp := reconciliationResponse{
		CaptureID:     record.CaptureID,
		SessionID:     record.SessionID,
		CartID:        record.CartID,
		Channel:       record.Channel,
		Status:        string(record.Status),
		OrderID:       record.OrderID,
		ClaimedAt:     record.ClaimedAt,
		FailureReason: record.FailureReason,
		AmountMinor:   record.AmountMinor,
		Currency:      record.Currency,
		Attempts:      record.Attempts,
		AlertedAt:     record.AlertedAt,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
		SettledAt:     record.SettledAt,
	}
	if record.ClaimedBy != nil {
		v := string(*record.ClaimedBy)
		resp.ClaimedBy = &v
	}
	if record.FailureCode != nil {
		v := string(*record.FailureCode)
		resp.FailureCode = &v
	}
	return resp
}
