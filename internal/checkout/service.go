package checkout

import (
	"context"
	"database/sql"
	"fmt"
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

type txRunner interface {
	WithRetryableTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Config carries the provider redirect URLs and default currency.
type Config struct {
	SuccessURL string
	CancelURL  string
	Currency   enums.Currency
}

// Result is returned to the controller after a successful checkout.
type Result struct {
	Order        *models.Order
	SessionID    string
	SessionURL   string
	ClientSecret string
}

// OrderCreatedEvent is emitted when checkout persists a new order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    enums.Currency  `json:"currency"`
	ItemCount   int             `json:"item_count"`
}

// Service executes checkout orchestration: validate the cart, reserve
// stock, snapshot an order and open a provider checkout session, all in one
// transaction.
type Service interface {
	Execute(ctx context.Context, buyerID uuid.UUID) (*Result, error)
}

type service struct {
	tx     txRunner
	repo   Repository
	stripe StripeCheckoutClient
	outbox outboxPublisher
	cfg    Config
}

// NewService builds the checkout service.
func NewService(tx txRunner, repo Repository, stripeClient StripeCheckoutClient, publisher outboxPublisher, cfg Config) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if stripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if !cfg.Currency.IsValid() {
		cfg.Currency = enums.CurrencyUSD
	}
	return &service{
		tx:     tx,
		repo:   repo,
		stripe: stripeClient,
		outbox: publisher,
		cfg:    cfg,
	}, nil
}

func (s *service) Execute(ctx context.Context, buyerID uuid.UUID) (*Result, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}

	var result *Result
	err := s.tx.WithRetryableTx(ctx, sql.LevelRepeatableRead, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		record, err := repo.FindActiveCartByUser(ctx, buyerID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items").
					WithDetails(map[string]any{"code": "EMPTY_CART"})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if len(record.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items").
				WithDetails(map[string]any{"code": "EMPTY_CART"})
		}

		products, err := s.lockProducts(ctx, repo, record.Items)
		if err != nil {
			return err
		}

		requests := make([]reservation.StockRequest, 0, len(record.Items))
		for _, item := range record.Items {
			requests = append(requests, reservation.StockRequest{ProductID: item.ProductID, Qty: item.Qty})
		}
		if err := reservation.ReserveStock(ctx, tx, requests); err != nil {
			return err
		}

		order, items, err := buildOrder(buyerID, record.Items, products, s.cfg.Currency)
		if err != nil {
			return err
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := repo.CreateOrderItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}
		order.Items = items

		// Provider call runs inside the transaction scope so a session
		// failure rolls back the stock decrement and the order rows.
		session, err := s.createSession(ctx, order, items)
		if err != nil {
			return err
		}

		if err := repo.ConvertCart(ctx, record.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "convert cart")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: enums.ActorRoleBuyer},
			Data: OrderCreatedEvent{
				OrderID:     order.ID,
				BuyerID:     buyerID,
				TotalAmount: order.TotalAmount,
				Currency:    order.Currency,
				ItemCount:   len(items),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result = &Result{
			Order:        order,
			SessionID:    session.ID,
			SessionURL:   session.URL,
			ClientSecret: session.ClientSecret,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) lockProducts(ctx context.Context, repo Repository, items []models.CartItem) (map[uuid.UUID]models.Product, error) {
	ids := make([]uuid.UUID, 0, len(items))
	seen := map[uuid.UUID]struct{}{}
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	products, err := repo.FindProductsForUpdate(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock products")
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product no longer available").
				WithDetails(map[string]any{"product_id": id})
		}
	}
	return byID, nil
}

func buildOrder(buyerID uuid.UUID, cartItems []models.CartItem, products map[uuid.UUID]models.Product, currency enums.Currency) (*models.Order, []models.OrderItem, error) {
	now := time.Now().UTC()
	orderID := uuid.New()
	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(cartItems))

	for _, line := range cartItems {
		product := products[line.ProductID]
		if line.Qty <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"code": "INVALID_QUANTITY", "product_id": line.ProductID})
		}
		if !product.Price.IsPositive() {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product price must be positive").
				WithDetails(map[string]any{"code": "INVALID_PRICE", "product_id": line.ProductID})
		}

		total := product.Price.Mul(decimal.NewFromInt(int64(line.Qty)))
		subtotal = subtotal.Add(total)
		productID := line.ProductID
		items = append(items, models.OrderItem{
			ID:          uuid.New(),
			OrderID:     orderID,
			ProductID:   &productID,
			SellerID:    product.SellerID,
			Name:        product.Name,
			Description: product.Description,
			UnitPrice:   product.Price,
			Qty:         line.Qty,
			TotalPrice:  total,
		})
	}

	order := &models.Order{
		ID:                 orderID,
		BuyerID:            buyerID,
		Status:             enums.OrderStatusPendingPayment,
		PaymentStatus:      enums.PaymentStatusPending,
		Currency:           currency,
		Subtotal:           subtotal,
		ShippingCost:       decimal.Zero,
		TaxAmount:          decimal.Zero,
		DiscountAmount:     decimal.Zero,
		TotalAmount:        subtotal,
		IsLocked:           true,
		PaymentInitiatedAt: &now,
	}
	return order, items, nil
}

func (s *service) createSession(ctx context.Context, order *models.Order, items []models.OrderItem) (*stripe.CheckoutSession, error) {
	metadata := map[string]string{
		"order_id": order.ID.String(),
		"user_id":  order.BuyerID.String(),
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, item := range items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Qty)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(order.Currency)),
				UnitAmount: stripe.Int64(types.ToMinorUnits(item.UnitPrice)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
		LineItems:  lineItems,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Metadata = metadata

	session, err := s.stripe.CreateSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "create checkout session")
	}
	return session, nil
}
