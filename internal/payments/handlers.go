package payments

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/checkout/reservation"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/types"
)

// PaymentSettledEvent is emitted once per successful payment.
type PaymentSettledEvent struct {
	OrderID         uuid.UUID       `json:"order_id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        enums.Currency  `json:"currency"`
}

// PaymentFailedEvent is emitted when a payment intent fails.
type PaymentFailedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
}

// RefundCompletedEvent is emitted when a refund settles.
type RefundCompletedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	RefundID        string    `json:"refund_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
}

// TransferReleasedEvent is emitted when a ledger row is released.
type TransferReleasedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	TransferID    string          `json:"transfer_id"`
	NetAmount     decimal.Decimal `json:"net_amount"`
}

func (s *Service) handleSessionCompleted(ctx context.Context, event *stripe.Event, sess *stripe.CheckoutSession) error {
	orderID, userID, ok := metadataIDs(sess.Metadata)
	if !ok {
		// Session metadata can lag the event under provider eventual
		// consistency; re-fetch before giving up.
		fetched, err := s.sessions.RetrieveSession(ctx, sess.ID, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeProvider, err, "refetch checkout session")
		}
		sess = fetched
		orderID, userID, ok = metadataIDs(sess.Metadata)
	}

	paymentIntentID := ""
	if sess.PaymentIntent != nil {
		paymentIntentID = sess.PaymentIntent.ID
	}

	return s.tx.WithRetryableTx(ctx, sql.LevelSerializable, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if !ok {
			if s.logg != nil {
				s.logg.Error(ctx, "checkout session carries no order/user metadata", nil)
			}
			return s.deadLetter(ctx, tx, event, "order_id/user_id metadata missing")
		}
		if userID == uuid.Nil {
			return s.deadLetter(ctx, tx, event, "user_id metadata missing")
		}
		if paymentIntentID == "" {
			return s.deadLetter(ctx, tx, event, "payment intent missing on session")
		}

		order, err := s.ordersRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return s.deadLetter(ctx, tx, event, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if _, err := repo.FindUserByID(ctx, userID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return s.deadLetter(ctx, tx, event, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}
		if order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusRefunded {
			// Holding funds for a closed order would strand them; park the
			// event so support can refund the charge.
			return s.deadLetter(ctx, tx, event, "checkout session completed for closed order")
		}

		updates := map[string]any{}
		if addr := addressFromStripe(sess.CustomerDetails); addr != nil {
			updates["shipping_address"] = addr
		}
		if len(updates) > 0 {
			if err := s.ordersRepo.WithTx(tx).UpdateOrder(ctx, order.ID, updates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store shipping address")
			}
		}

		if err := s.ensureTracker(ctx, repo, order, userID, enums.TrackerKindPaymentIntent, paymentIntentID, enums.TrackerStatusSucceeded, order.TotalAmount); err != nil {
			return err
		}

		existing, err := repo.FindTransactionsByPaymentIntentForUpdate(ctx, paymentIntentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger rows")
		}
		if len(existing) > 0 {
			// Replayed delivery; the ledger is already written.
			return nil
		}

		shares := sellerShares(order.Items)
		if len(shares) == 0 {
			return s.deadLetter(ctx, tx, event, "order has no seller items")
		}
		splits, err := ComputeFeeSplits(shares, s.platformRate)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		release := now.AddDate(0, 0, s.daysToHold)
		rows := make([]models.PaymentTransaction, 0, len(splits))
		for _, split := range splits {
			rows = append(rows, models.PaymentTransaction{
				OrderID:            order.ID,
				SellerID:           split.SellerID,
				PaymentIntentID:    paymentIntentID,
				Currency:           order.Currency,
				GrossAmount:        split.Gross,
				PlatformFee:        split.PlatformFee,
				ProviderFee:        split.ProviderFee,
				NetAmount:          split.Net,
				Status:             enums.TransactionStatusHeld,
				HoldStartDate:      now,
				DaysToHold:         s.daysToHold,
				PlannedReleaseDate: release,
			})
		}
		if err := repo.CreateTransactions(ctx, rows); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger rows")
		}
		return nil
	})
}

func (s *Service) handleIntentSucceeded(ctx context.Context, event *stripe.Event, intent *stripe.PaymentIntent) error {
	orderID, _, ok := metadataIDs(intent.Metadata)

	return s.tx.WithRetryableTx(ctx, sql.LevelSerializable, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if !ok {
			return s.deadLetter(ctx, tx, event, "order_id metadata missing on payment intent")
		}
		order, err := s.ordersRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return s.deadLetter(ctx, tx, event, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.PaymentStatus == enums.PaymentStatusPaid {
			return nil
		}
		if order.Status != enums.OrderStatusPendingPayment {
			// The timeout sweep or a cancellation closed this order and its
			// stock is already back in the pool; confirming now would oversell.
			// Park the event so support can refund the charge.
			return s.deadLetter(ctx, tx, event, "payment succeeded for closed order")
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"status":         enums.OrderStatusPaymentConfirmed,
			"processed_at":   now,
		}
		if err := s.ordersRepo.WithTx(tx).UpdateOrder(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm payment")
		}

		if err := s.ensureTracker(ctx, repo, order, order.BuyerID, enums.TrackerKindPaymentIntent, intent.ID, enums.TrackerStatusSucceeded, order.TotalAmount); err != nil {
			return err
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: PaymentSettledEvent{
				OrderID:         order.ID,
				PaymentIntentID: intent.ID,
				Amount:          order.TotalAmount,
				Currency:        order.Currency,
			},
		})
	})
}

func (s *Service) handleIntentFailed(ctx context.Context, event *stripe.Event, intent *stripe.PaymentIntent) error {
	orderID, _, ok := metadataIDs(intent.Metadata)

	return s.tx.WithRetryableTx(ctx, sql.LevelSerializable, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if !ok {
			return s.deadLetter(ctx, tx, event, "order_id metadata missing on payment intent")
		}
		order, err := s.ordersRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return s.deadLetter(ctx, tx, event, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.PaymentStatus == enums.PaymentStatusFailed {
			return nil
		}
		// Stock only returns on the first transition away from pending;
		// a paid order that later fails holds no reservation to undo.
		releaseStock := order.PaymentStatus == enums.PaymentStatusPending

		if err := s.ordersRepo.WithTx(tx).UpdateOrder(ctx, order.ID, map[string]any{
			"payment_status": enums.PaymentStatusFailed,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
		}

		if releaseStock {
			if err := releaseOrderStock(ctx, tx, order.Items); err != nil {
				return err
			}
		}

		if err := s.ensureTracker(ctx, repo, order, order.BuyerID, enums.TrackerKindPaymentIntent, intent.ID, enums.TrackerStatusFailed, order.TotalAmount); err != nil {
			return err
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: PaymentFailedEvent{
				OrderID:         order.ID,
				PaymentIntentID: intent.ID,
			},
		})
	})
}

func (s *Service) handleRefundUpdated(ctx context.Context, event *stripe.Event, refund *stripe.Refund) error {
	if refund.Status != stripe.RefundStatusSucceeded {
		return nil
	}
	paymentIntentID := ""
	if refund.PaymentIntent != nil {
		paymentIntentID = refund.PaymentIntent.ID
	}

	var notifyOrder *models.Order
	err := s.tx.WithRetryableTx(ctx, sql.LevelSerializable, func(tx *gorm.DB) error {
		notifyOrder = nil
		repo := s.repo.WithTx(tx)

		if paymentIntentID == "" {
			return s.deadLetter(ctx, tx, event, "payment intent missing on refund")
		}
		rows, err := repo.FindTransactionsByPaymentIntentForUpdate(ctx, paymentIntentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger rows")
		}
		if len(rows) == 0 {
			return s.deadLetter(ctx, tx, event, "no ledger rows for refunded payment")
		}

		order, err := s.ordersRepo.WithTx(tx).FindByIDForUpdate(ctx, rows[0].OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		changed := false
		for _, row := range rows {
			if row.Status != enums.TransactionStatusWaitingRefund {
				continue
			}
			if err := repo.UpdateTransaction(ctx, row.ID, map[string]any{
				"status": enums.TransactionStatusRefunded,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund ledger row")
			}
			changed = true
		}

		if order.Status != enums.OrderStatusRefunded {
			if err := s.ordersRepo.WithTx(tx).UpdateOrder(ctx, order.ID, map[string]any{
				"status":         enums.OrderStatusRefunded,
				"payment_status": enums.PaymentStatusRefunded,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
			}
			changed = true
		}

		if err := s.ensureTracker(ctx, repo, order, order.BuyerID, enums.TrackerKindRefund, refund.ID, enums.TrackerStatusSuccessRefund, types.FromMinorUnits(refund.Amount)); err != nil {
			return err
		}

		if !changed {
			return nil
		}
		notifyOrder = order
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: RefundCompletedEvent{
				OrderID:         order.ID,
				RefundID:        refund.ID,
				PaymentIntentID: paymentIntentID,
			},
		})
	})
	if err != nil {
		return err
	}
	if notifyOrder != nil {
		s.notifier.SendOrderCancellationReceipt(ctx, notifyOrder)
	}
	return nil
}

func (s *Service) handleRefundFailed(ctx context.Context, event *stripe.Event, refund *stripe.Refund) error {
	paymentIntentID := ""
	if refund.PaymentIntent != nil {
		paymentIntentID = refund.PaymentIntent.ID
	}

	var notifyOrder *models.Order
	err := s.tx.WithRetryableTx(ctx, sql.LevelSerializable, func(tx *gorm.DB) error {
		notifyOrder = nil
		repo := s.repo.WithTx(tx)

		if paymentIntentID == "" {
			return s.deadLetter(ctx, tx, event, "payment intent missing on refund")
		}
		rows, err := repo.FindTransactionsByPaymentIntentForUpdate(ctx, paymentIntentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger rows")
		}
		if len(rows) == 0 {
			return s.deadLetter(ctx, tx, event, "no ledger rows for failed refund")
		}

		order, err := s.ordersRepo.WithTx(tx).FindByIDForUpdate(ctx, rows[0].OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.PaymentStatus == enums.PaymentStatusFailedRefund {
			return nil
		}

		for _, row := range rows {
			if row.Status != enums.TransactionStatusWaitingRefund {
				continue
			}
			if err := repo.UpdateTransaction(ctx, row.ID, map[string]any{
				"status": enums.TransactionStatusFailedRefund,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark ledger refund failure")
			}
		}

		// Order.status stays wherever the refund-initiation path left it;
		// only payment_status records the failed refund.
		if err := s.ordersRepo.WithTx(tx).UpdateOrder(ctx, order.ID, map[string]any{
			"payment_status": enums.PaymentStatusFailedRefund,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund failed")
		}

		if err := s.ensureTracker(ctx, repo, order, order.BuyerID, enums.TrackerKindRefund, refund.ID, enums.TrackerStatusFailedRefund, types.FromMinorUnits(refund.Amount)); err != nil {
			return err
		}

		notifyOrder = order
		return nil
	})
	if err != nil {
		return err
	}
	if notifyOrder != nil {
		s.notifier.SendFailedRefundNotification(ctx, notifyOrder)
	}
	return nil
}

func (s *Service) handleTransferCreated(ctx context.Context, event *stripe.Event, transfer *stripe.Transfer) error {
	if transfer.Reversed {
		// A reversed transfer never regresses the ledger row.
		return nil
	}
	transactionIDRaw := transfer.Metadata["transaction_id"]

	return s.tx.WithRetryableTx(ctx, sql.LevelSerializable, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		transactionID, err := uuid.Parse(transactionIDRaw)
		if err != nil {
			return s.deadLetter(ctx, tx, event, "transaction_id metadata missing on transfer")
		}
		row, err := repo.FindTransactionByIDForUpdate(ctx, transactionID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return s.deadLetter(ctx, tx, event, "ledger row not found for transfer")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger row")
		}
		if row.Status != enums.TransactionStatusProcessing {
			// Already released (replay) or not yet matured; either way the
			// provider id wins only on the processing edge.
			return nil
		}

		if err := repo.UpdateTransaction(ctx, row.ID, map[string]any{
			"status":      enums.TransactionStatusReleased,
			"transfer_id": transfer.ID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release ledger row")
		}

		tracker := &models.PaymentTracker{
			OrderID:  row.OrderID,
			UserID:   row.SellerID,
			Kind:     enums.TrackerKindTransfer,
			StripeID: transfer.ID,
			Status:   enums.TrackerStatusSucceeded,
			Amount:   row.NetAmount,
			Currency: row.Currency,
		}
		if _, err := repo.FindTrackerByKindStripeID(ctx, enums.TrackerKindTransfer, transfer.ID); err != nil {
			if err != gorm.ErrRecordNotFound {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transfer tracker")
			}
			if err := repo.CreateTracker(ctx, tracker); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transfer tracker")
			}
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransferReleased,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   row.ID,
			Version:       1,
			Data: TransferReleasedEvent{
				TransactionID: row.ID,
				TransferID:    transfer.ID,
				NetAmount:     row.NetAmount,
			},
		})
	})
}

// ensureTracker upserts the audit row for one provider object id.
func (s *Service) ensureTracker(ctx context.Context, repo Repository, order *models.Order, userID uuid.UUID, kind enums.TrackerKind, stripeID string, status enums.TrackerStatus, amount decimal.Decimal) error {
	existing, err := repo.FindTrackerByKindStripeID(ctx, kind, stripeID)
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment tracker")
		}
		tracker := &models.PaymentTracker{
			OrderID:  order.ID,
			UserID:   userID,
			Kind:     kind,
			StripeID: stripeID,
			Status:   status,
			Amount:   amount,
			Currency: order.Currency,
		}
		if err := repo.CreateTracker(ctx, tracker); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment tracker")
		}
		return nil
	}
	if existing.Status == status {
		return nil
	}
	if err := repo.UpdateTrackerStatus(ctx, existing.ID, status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment tracker")
	}
	return nil
}

func metadataIDs(metadata map[string]string) (orderID, userID uuid.UUID, ok bool) {
	orderRaw := metadata["order_id"]
	userRaw := metadata["user_id"]
	if orderRaw == "" {
		return uuid.Nil, uuid.Nil, false
	}
	parsedOrder, err := uuid.Parse(orderRaw)
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	parsedUser, err := uuid.Parse(userRaw)
	if err != nil {
		// Some events only carry order_id; the order is enough to act on.
		return parsedOrder, uuid.Nil, true
	}
	return parsedOrder, parsedUser, true
}

func addressFromStripe(details *stripe.CheckoutSessionCustomerDetails) *types.Address {
	if details == nil || details.Address == nil {
		return nil
	}
	addr := details.Address
	if addr.Line1 == "" && addr.City == "" && addr.PostalCode == "" {
		return nil
	}
	out := &types.Address{
		Line1:      addr.Line1,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
	if addr.Line2 != "" {
		line2 := addr.Line2
		out.Line2 = &line2
	}
	return out
}

func sellerShares(items []models.OrderItem) []SellerShare {
	grouped := map[uuid.UUID]decimal.Decimal{}
	order := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := grouped[item.SellerID]; !ok {
			order = append(order, item.SellerID)
			grouped[item.SellerID] = decimal.Zero
		}
		grouped[item.SellerID] = grouped[item.SellerID].Add(item.TotalPrice)
	}
	shares := make([]SellerShare, 0, len(order))
	for _, sellerID := range order {
		shares = append(shares, SellerShare{SellerID: sellerID, Gross: grouped[sellerID]})
	}
	return shares
}

func releaseOrderStock(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error {
	requests := make([]reservation.StockRequest, 0, len(items))
	for _, item := range items {
		if item.ProductID == nil || item.Qty <= 0 {
			continue
		}
		requests = append(requests, reservation.StockRequest{ProductID: *item.ProductID, Qty: item.Qty})
	}
	return reservation.ReleaseStock(ctx, tx, requests)
}
