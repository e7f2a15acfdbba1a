package payouts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
)

func TestFindPayableTransactionsForUpdate(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	ctx := context.Background()
	f := newPayoutFixture(t, db)
	repo := NewRepository(db)
	sellerID := uuid.New()

	payable := f.seedTransaction(t, sellerID, enums.TransactionStatusReleased, "86.80", false)
	f.seedTransaction(t, sellerID, enums.TransactionStatusReleased, "20.00", true)
	f.seedTransaction(t, sellerID, enums.TransactionStatusHeld, "30.00", false)
	f.seedTransaction(t, uuid.New(), enums.TransactionStatusReleased, "40.00", false)

	rows, err := repo.FindPayableTransactionsForUpdate(ctx, sellerID, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, payable.ID, rows[0].ID)

	// A window after the row's creation excludes it.
	rows, err = repo.FindPayableTransactionsForUpdate(ctx, sellerID, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFindMaturedHeldTransactions(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	ctx := context.Background()
	f := newPayoutFixture(t, db)
	repo := NewRepository(db)
	sellerID := uuid.New()

	matured := f.seedTransaction(t, sellerID, enums.TransactionStatusHeld, "10.00", false)
	require.NoError(t, db.Model(&models.PaymentTransaction{}).
		Where("id = ?", matured.ID).
		Update("planned_release_date", time.Now().UTC().Add(-time.Hour)).Error)
	f.seedTransaction(t, sellerID, enums.TransactionStatusHeld, "20.00", false)
	released := f.seedTransaction(t, sellerID, enums.TransactionStatusReleased, "30.00", false)
	require.NoError(t, db.Model(&models.PaymentTransaction{}).
		Where("id = ?", released.ID).
		Update("planned_release_date", time.Now().UTC().Add(-time.Hour)).Error)

	ids, err := repo.FindMaturedHeldTransactions(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, matured.ID, ids[0])
}

func TestFindSellersWithPendingPayouts(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	ctx := context.Background()
	f := newPayoutFixture(t, db)
	repo := NewRepository(db)

	stuck := f.seedPayout(t, uuid.New(), "po_stuck", enums.PayoutStatusPending)
	require.NoError(t, db.Model(&models.Payout{}).
		Where("id = ?", stuck.ID).
		Update("created_at", time.Now().UTC().Add(-2*time.Hour)).Error)
	f.seedPayout(t, uuid.New(), "po_fresh", enums.PayoutStatusPending)
	f.seedPayout(t, uuid.New(), "po_done", enums.PayoutStatusPaid)

	sellers, err := repo.FindSellersWithPendingPayouts(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, sellers, 1)
	assert.Equal(t, stuck.SellerID, sellers[0])
}

func TestInsertDeadLetterReplayIsNoOp(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	ctx := context.Background()
	repo := NewRepository(db)

	row := &models.WebhookDeadLetter{
		Source:    "stripe_connect",
		EventID:   "evt_dup",
		EventType: "payout.paid",
		Reason:    "seller unresolvable",
	}
	require.NoError(t, repo.InsertDeadLetter(ctx, row))

	replay := &models.WebhookDeadLetter{
		Source:    "stripe_connect",
		EventID:   "evt_dup",
		EventType: "payout.paid",
		Reason:    "seller unresolvable",
	}
	require.NoError(t, repo.InsertDeadLetter(ctx, replay))

	var count int64
	require.NoError(t, db.Model(&models.WebhookDeadLetter{}).Where("event_id = ?", "evt_dup").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
