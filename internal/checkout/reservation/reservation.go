package reservation

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
)

// StockRequest asks for qty units of one product.
type StockRequest struct {
	ProductID uuid.UUID
	Qty       int
}

// ReserveStock decrements stock for every requested product inside the
// caller's transaction. Requests are coalesced per product and applied in
// ascending product-id order so concurrent checkouts acquire row locks in a
// stable order. Any product with insufficient stock fails the whole batch.
func ReserveStock(ctx context.Context, tx *gorm.DB, requests []StockRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock reservation")
	}

	needed := map[uuid.UUID]int{}
	for _, req := range requests {
		if req.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if req.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"code": "INVALID_QUANTITY", "product_id": req.ProductID})
		}
		needed[req.ProductID] += req.Qty
	}
	if len(needed) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(needed))
	for id := range needed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		qty := needed[id]
		res := tx.WithContext(ctx).Exec(`
			UPDATE products
			SET stock_quantity = stock_quantity - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND is_active AND stock_quantity >= ?
		`, qty, id, qty)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails(map[string]any{"code": "INSUFFICIENT_STOCK", "product_id": id, "requested": qty})
		}
	}
	return nil
}

// ReleaseStock returns previously reserved units, for cancellation and
// payment-failure paths. Missing products are skipped rather than failed so
// a deleted catalog row cannot block an order cancellation.
func ReleaseStock(ctx context.Context, tx *gorm.DB, requests []StockRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock release")
	}

	returned := map[uuid.UUID]int{}
	for _, req := range requests {
		if req.ProductID == uuid.Nil || req.Qty <= 0 {
			continue
		}
		returned[req.ProductID] += req.Qty
	}

	ids := make([]uuid.UUID, 0, len(returned))
	for id := range returned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		qty := returned[id]
		res := tx.WithContext(ctx).Exec(`
			UPDATE products
			SET stock_quantity = stock_quantity + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, qty, id)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release stock")
		}
	}
	return nil
}
