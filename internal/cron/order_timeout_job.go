package cron

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/checkout/reservation"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/orders"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
)

const defaultTimeoutBatch = 100

type txRunner interface {
	WithRetryableTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OrderExpiredEvent is emitted when a pending-payment order times out.
type OrderExpiredEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// OrderTimeoutJobParams configure the pending-payment timeout sweep.
type OrderTimeoutJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repo       orders.Repository
	Outbox     outboxEmitter
	PendingTTL time.Duration
	BatchSize  int
}

// NewOrderTimeoutJob builds the sweep that cancels orders whose payment
// never arrived, returning their reserved stock.
func NewOrderTimeoutJob(params OrderTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.PendingTTL <= 0 {
		params.PendingTTL = 72 * time.Hour
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultTimeoutBatch
	}
	return &orderTimeoutJob{
		logg:       params.Logger,
		db:         params.DB,
		repo:       params.Repo,
		outbox:     params.Outbox,
		pendingTTL: params.PendingTTL,
		batchSize:  params.BatchSize,
		now:        time.Now,
	}, nil
}

type orderTimeoutJob struct {
	logg       *logger.Logger
	db         txRunner
	repo       orders.Repository
	outbox     outboxEmitter
	pendingTTL time.Duration
	batchSize  int
	now        func() time.Time
}

func (j *orderTimeoutJob) Name() string { return "order-timeout" }

func (j *orderTimeoutJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.pendingTTL)
	stale, err := j.repo.FindPendingPaymentBefore(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("query stale pending orders: %w", err)
	}

	expired := 0
	var errs error
	for _, order := range stale {
		if err := j.expireOrder(ctx, order.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		expired++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"candidates": len(stale), "expired": expired})
	j.logg.Info(logCtx, "pending order timeout sweep complete")
	return errs
}

func (j *orderTimeoutJob) expireOrder(ctx context.Context, orderID uuid.UUID) error {
	return j.db.WithRetryableTx(ctx, sql.LevelRepeatableRead, func(tx *gorm.DB) error {
		repo := j.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		// The webhook may have settled the order between the scan and this
		// lock; only a still-pending order is expired.
		if order.Status != enums.OrderStatusPendingPayment {
			return nil
		}

		// A failed payment already returned the reservation while leaving the
		// order pending; releasing again here would inflate stock. Only an
		// order whose payment never resolved still holds one.
		if order.PaymentStatus == enums.PaymentStatusPending {
			requests := make([]reservation.StockRequest, 0, len(order.Items))
			for _, item := range order.Items {
				if item.ProductID == nil {
					continue
				}
				requests = append(requests, reservation.StockRequest{ProductID: *item.ProductID, Qty: item.Qty})
			}
			if err := reservation.ReleaseStock(ctx, tx, requests); err != nil {
				return err
			}
		}

		now := j.now().UTC()
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
		}); err != nil {
			return err
		}

		return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			OccurredAt:    now,
			Data: OrderExpiredEvent{
				OrderID:   order.ID,
				BuyerID:   order.BuyerID,
				ExpiredAt: now,
			},
		})
	})
}
