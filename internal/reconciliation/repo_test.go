package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.ReconciliationRecord{}))
	return conn
}

func seedRecord(captureID string) models.ReconciliationRecord {
	return models.ReconciliationRecord{
		CaptureID:   captureID,
		SessionID:   "cs_" + captureID,
		CartID:      "C1",
		Channel:     "default-channel",
		AmountMinor: 2000,
		Currency:    "USD",
	}
}

func TestEnsureInsertsOnce(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	first, created, err := repo.Ensure(ctx, seedRecord("CAP1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, enums.ReconciliationVerifying, first.Status)

	again := seedRecord("CAP1")
	again.CartID = "C2"
	second, created, err := repo.Ensure(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "C1", second.CartID, "existing row must not be overwritten")
}

func TestEnsureRequiresCaptureID(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	_, _, err := repo.Ensure(context.Background(), models.ReconciliationRecord{})
	require.Error(t, err)
}

func TestClaimOnlyOneWinner(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	_, _, err := repo.Ensure(ctx, seedRecord("CAP1"))
	require.NoError(t, err)

	const contenders = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []uuid.UUID
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := uuid.New()
			source := enums.TriggerRedirect
			if i%2 == 0 {
				source = enums.TriggerWebhook
			}
			won, err := repo.Claim(ctx, "CAP1", token, source, time.Now().UTC())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins = append(wins, token)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	stored, err := repo.FindByCapture(ctx, "CAP1")
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationProofConfirmed, stored.Status)
	assert.True(t, stored.HoldsClaim(wins[0]))
	assert.Equal(t, 1, stored.Attempts)
}

func TestSettleRequiresClaimToken(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := repo.Ensure(ctx, seedRecord("CAP1"))
	require.NoError(t, err)
	token := uuid.New()
	won, err := repo.Claim(ctx, "CAP1", token, enums.TriggerWebhook, now)
	require.NoError(t, err)
	require.True(t, won)

	ok, err := repo.MarkOrderCreatedTx(ctx, conn, "CAP1", uuid.New(), "O1", now)
	require.NoError(t, err)
	assert.False(t, ok, "foreign token must not settle")

	ok, err = repo.MarkOrderCreatedTx(ctx, conn, "CAP1", token, "O1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkOrderCreatedTx(ctx, conn, "CAP1", token, "O2", now)
	require.NoError(t, err)
	assert.False(t, ok, "order_created is reached once")

	stored, err := repo.FindByCapture(ctx, "CAP1")
	require.NoError(t, err)
	require.NotNil(t, stored.OrderID)
	assert.Equal(t, "O1", *stored.OrderID)
	assert.Equal(t, enums.ReconciliationOrderCreated, stored.Status)
	assert.NotNil(t, stored.SettledAt)

	won, err = repo.Claim(ctx, "CAP1", uuid.New(), enums.TriggerRedirect, now)
	require.NoError(t, err)
	assert.False(t, won, "settled record is never claimable again")
}

func TestMarkFailedKeepsRecordTerminal(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := repo.Ensure(ctx, seedRecord("CAP3"))
	require.NoError(t, err)
	token := uuid.New()
	_, err = repo.Claim(ctx, "CAP3", token, enums.TriggerRedirect, now)
	require.NoError(t, err)

	ok, err := repo.MarkFailedTx(ctx, conn, "CAP3", token, enums.FailureBackendRejected, "cart already converted", now)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.FindByCapture(ctx, "CAP3")
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationFailed, stored.Status)
	require.NotNil(t, stored.FailureCode)
	assert.Equal(t, enums.FailureBackendRejected, *stored.FailureCode)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, "cart already converted", *stored.FailureReason)

	released, err := repo.Release(ctx, "CAP3", token, now)
	require.NoError(t, err)
	assert.False(t, released, "failed records are not released")
}

func TestReleaseReturnsClaimToVerifying(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := repo.Ensure(ctx, seedRecord("CAP4"))
	require.NoError(t, err)
	token := uuid.New()
	_, err = repo.Claim(ctx, "CAP4", token, enums.TriggerWebhook, now)
	require.NoError(t, err)

	released, err := repo.Release(ctx, "CAP4", uuid.New(), now)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = repo.Release(ctx, "CAP4", token, now)
	require.NoError(t, err)
	assert.True(t, released)

	stored, err := repo.FindByCapture(ctx, "CAP4")
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationVerifying, stored.Status)
	assert.Nil(t, stored.ClaimToken)

	won, err := repo.Claim(ctx, "CAP4", uuid.New(), enums.TriggerSweeper, now)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestFindBySessionAndMissing(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	missing, err := repo.FindBySession(ctx, "cs_none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, _, err = repo.Ensure(ctx, seedRecord("CAP5"))
	require.NoError(t, err)
	found, err := repo.FindBySession(ctx, "cs_CAP5")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "CAP5", found.CaptureID)

	none, err := repo.FindByCapture(ctx, "CAP_none")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSweeperQueries(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	now := time.Now().UTC()

	_, _, err := repo.Ensure(ctx, seedRecord("STALE"))
	require.NoError(t, err)
	_, err = repo.Claim(ctx, "STALE", uuid.New(), enums.TriggerWebhook, past)
	require.NoError(t, err)

	_, _, err = repo.Ensure(ctx, seedRecord("FRESH"))
	require.NoError(t, err)
	_, err = repo.Claim(ctx, "FRESH", uuid.New(), enums.TriggerWebhook, now)
	require.NoError(t, err)

	_, _, err = repo.Ensure(ctx, seedRecord("IDLE"))
	require.NoError(t, err)
	require.NoError(t, conn.Model(&models.ReconciliationRecord{}).
		Where("capture_id = ?", "IDLE").
		UpdateColumn("updated_at", past).Error)

	cutoff := now.Add(-10 * time.Minute)
	stale, err := repo.ListStaleClaims(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "STALE", stale[0].CaptureID)

	alerted, err := repo.MarkAlertedTx(ctx, conn, "STALE", now)
	require.NoError(t, err)
	assert.True(t, alerted)
	alerted, err = repo.MarkAlertedTx(ctx, conn, "STALE", now)
	require.NoError(t, err)
	assert.False(t, alerted)

	stale, err = repo.ListStaleClaims(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	pending, err := repo.ListPendingVerification(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "IDLE", pending[0].CaptureID)

	require.NoError(t, repo.Touch(ctx, "IDLE", now))
	pending, err = repo.ListPendingVerification(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestListFiltersByStatus(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		_, _, err := repo.Ensure(ctx, seedRecord(id))
		require.NoError(t, err)
	}
	_, err := repo.Claim(ctx, "B", uuid.New(), enums.TriggerRedirect, time.Now().UTC())
	require.NoError(t, err)

	rows, total, err := repo.List(ctx, ListParams{Status: enums.ReconciliationVerifying})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, rows, 2)

	rows, total, err = repo.List(ctx, ListParams{Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, rows, 1)
}
