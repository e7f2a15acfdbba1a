package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
)

// How long a payout may sit pending before we stop trusting the webhook
// to deliver its terminal state.
const pendingPayoutGrace = time.Hour

type pendingPayoutReader interface {
	FindSellersWithPendingPayouts(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

type payoutReconciler interface {
	ReconcileSeller(ctx context.Context, sellerID uuid.UUID) error
}

// NewPayoutReconcileJob builds the sweep that re-lists provider payouts for
// sellers whose batches are stuck pending.
func NewPayoutReconcileJob(logg *logger.Logger, reader pendingPayoutReader, reconciler payoutReconciler, limit int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if reader == nil {
		return nil, fmt.Errorf("pending payout reader required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("payout reconciler required")
	}
	if limit <= 0 {
		limit = 50
	}
	return &payoutReconcileJob{
		logg:       logg,
		reader:     reader,
		reconciler: reconciler,
		limit:      limit,
		now:        time.Now,
	}, nil
}

type payoutReconcileJob struct {
	logg       *logger.Logger
	reader     pendingPayoutReader
	reconciler payoutReconciler
	limit      int
	now        func() time.Time
}

func (j *payoutReconcileJob) Name() string { return "payout-reconcile" }

func (j *payoutReconcileJob) Run(ctx context.Context) error {
	olderThan := j.now().UTC().Add(-pendingPayoutGrace)
	sellers, err := j.reader.FindSellersWithPendingPayouts(ctx, olderThan, j.limit)
	if err != nil {
		return fmt.Errorf("query sellers with pending payouts: %w", err)
	}

	var errs error
	for _, sellerID := range sellers {
		if err := j.reconciler.ReconcileSeller(ctx, sellerID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	logCtx := j.logg.WithField(ctx, "sellers", len(sellers))
	j.logg.Info(logCtx, "payout reconcile sweep complete")
	return errs
}
