package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/checkout/reservation"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
)

type txRunner interface {
	WithRetryableTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Actor identifies who is requesting a transition.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// TransitionInput carries one requested order-status change.
type TransitionInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Actor   Actor
}

// OrderCancelledEvent is emitted when an order reaches cancelled.
type OrderCancelledEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	BuyerID   uuid.UUID         `json:"buyer_id"`
	Status    enums.OrderStatus `json:"status"`
	Cancelled time.Time         `json:"cancelled_at"`
}

// Service defines the manual order lifecycle operations. Payment-driven
// transitions (pending_payment onward) belong to the webhook processor.
type Service interface {
	Transition(ctx context.Context, input TransitionInput) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// NewService builds the order lifecycle service.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: publisher}, nil
}

var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPendingPayment:   {},
	enums.OrderStatusPaymentConfirmed: {enums.OrderStatusAwaitingShipment, enums.OrderStatusCancelled},
	enums.OrderStatusAwaitingShipment: {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:          {enums.OrderStatusDelivered},
	enums.OrderStatusDelivered:        {},
	enums.OrderStatusCancelled:        {},
	enums.OrderStatusRefunded:         {},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another, before payment and actor guards.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func paymentGuardRequired(target enums.OrderStatus) bool {
	switch target {
	case enums.OrderStatusAwaitingShipment, enums.OrderStatusShipped, enums.OrderStatusDelivered:
		return true
	default:
		return false
	}
}

func (s *service) Transition(ctx context.Context, input TransitionInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}
	if input.Actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	return s.tx.WithRetryableTx(ctx, sql.LevelRepeatableRead, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if order.Status == input.Target {
			return nil
		}
		if !CanTransition(order.Status, input.Target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition disallowed").
				WithDetails(map[string]any{"from": order.Status, "to": input.Target})
		}
		if paymentGuardRequired(input.Target) && order.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid").
				WithDetails(map[string]any{"payment_status": order.PaymentStatus})
		}
		if err := checkActor(order, input.Target, input.Actor); err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]any{"status": input.Target}
		switch input.Target {
		case enums.OrderStatusAwaitingShipment:
			updates["processed_at"] = now
		case enums.OrderStatusShipped:
			updates["shipped_at"] = now
		case enums.OrderStatusDelivered:
			updates["delivered_at"] = now
		case enums.OrderStatusCancelled:
			updates["cancelled_at"] = now
		}

		if input.Target == enums.OrderStatusCancelled {
			if err := releaseOrderStock(ctx, tx, order.Items); err != nil {
				return err
			}
		}

		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}

		if input.Target == enums.OrderStatusCancelled {
			event := outbox.DomainEvent{
				EventType:     enums.EventOrderCancelled,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         &outbox.ActorRef{UserID: input.Actor.UserID, Role: input.Actor.Role},
				Data: OrderCancelledEvent{
					OrderID:   order.ID,
					BuyerID:   order.BuyerID,
					Status:    enums.OrderStatusCancelled,
					Cancelled: now,
				},
			}
			return s.outbox.Emit(ctx, tx, event)
		}
		return nil
	})
}

func checkActor(order *models.Order, target enums.OrderStatus, actor Actor) error {
	if actor.Role == enums.ActorRoleAdmin {
		return nil
	}

	isBuyer := order.BuyerID == actor.UserID
	isSeller := false
	for _, item := range order.Items {
		if item.SellerID == actor.UserID {
			isSeller = true
			break
		}
	}
	if !isBuyer && !isSeller {
		return pkgerrors.New(pkgerrors.CodeForbidden, "actor is not a party to this order")
	}

	switch target {
	case enums.OrderStatusAwaitingShipment, enums.OrderStatusShipped:
		if !isSeller {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only a seller may advance shipment")
		}
	case enums.OrderStatusDelivered:
		if !isBuyer {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer may confirm delivery")
		}
	}
	return nil
}

// releaseOrderStock returns the stock reserved at checkout for every item
// still pinned to a live product.
func releaseOrderStock(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error {
	requests := make([]reservation.StockRequest, 0, len(items))
	for _, item := range items {
		if item.ProductID == nil {
			continue
		}
		requests = append(requests, reservation.StockRequest{ProductID: *item.ProductID, Qty: item.Qty})
	}
	return reservation.ReleaseStock(ctx, tx, requests)
}
