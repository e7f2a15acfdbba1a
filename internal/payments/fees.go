package payments

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
)

var (
	providerFeeRate = decimal.NewFromFloat(0.029)
	providerFeeFlat = decimal.NewFromFloat(0.30)
)

// SellerShare is one seller's gross slice of an order subtotal.
type SellerShare struct {
	SellerID uuid.UUID
	Gross    decimal.Decimal
}

// FeeSplit is the settled fee breakdown for one seller.
type FeeSplit struct {
	SellerID    uuid.UUID
	Gross       decimal.Decimal
	PlatformFee decimal.Decimal
	ProviderFee decimal.Decimal
	Net         decimal.Decimal
}

// ComputeFeeSplits distributes fees across the sellers of one order.
//
// The platform fee is the configured rate applied to each seller's gross.
// The provider fee (0.029 * subtotal + 0.30) is charged once per payment,
// so it is allocated proportionally to each seller's share of the subtotal,
// with the rounding remainder assigned to the last seller in ascending
// seller-id order. This keeps sum(provider_fee_i) equal to the charged fee.
func ComputeFeeSplits(shares []SellerShare, platformRate decimal.Decimal) ([]FeeSplit, error) {
	if len(shares) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one seller share required")
	}

	sorted := append([]SellerShare{}, shares...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SellerID.String() < sorted[j].SellerID.String()
	})

	subtotal := decimal.Zero
	for _, share := range sorted {
		if !share.Gross.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller gross must be positive").
				WithDetails(map[string]any{"seller_id": share.SellerID})
		}
		subtotal = subtotal.Add(share.Gross)
	}

	providerTotal := providerFeeRate.Mul(subtotal).Add(providerFeeFlat).Round(2)

	splits := make([]FeeSplit, 0, len(sorted))
	allocated := decimal.Zero
	for i, share := range sorted {
		platformFee := share.Gross.Mul(platformRate).Round(2)

		var providerFee decimal.Decimal
		if i == len(sorted)-1 {
			providerFee = providerTotal.Sub(allocated)
		} else {
			providerFee = providerTotal.Mul(share.Gross).Div(subtotal).Round(2)
			allocated = allocated.Add(providerFee)
		}

		splits = append(splits, FeeSplit{
			SellerID:    share.SellerID,
			Gross:       share.Gross,
			PlatformFee: platformFee,
			ProviderFee: providerFee,
			Net:         share.Gross.Sub(platformFee).Sub(providerFee),
		})
	}
	return splits, nil
}
