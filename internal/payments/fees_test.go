package payments

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
)

func TestComputeFeeSplitsSingleSeller(t *testing.T) {
	t.Parallel()

	seller := uuid.New()
	splits, err := ComputeFeeSplits(
		[]SellerShare{{SellerID: seller, Gross: decimal.NewFromInt(100)}},
		decimal.NewFromFloat(0.10),
	)
	if err != nil {
		t.Fatalf("compute splits: %v", err)
	}
	if len(splits) != 1 {
		t.Fatalf("expected one split, got %d", len(splits))
	}

	split := splits[0]
	if !split.PlatformFee.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("platform fee = %s, want 10.00", split.PlatformFee)
	}
	if !split.ProviderFee.Equal(decimal.RequireFromString("3.20")) {
		t.Fatalf("provider fee = %s, want 3.20", split.ProviderFee)
	}
	if !split.Net.Equal(decimal.RequireFromString("86.80")) {
		t.Fatalf("net = %s, want 86.80", split.Net)
	}
}

func TestComputeFeeSplitsProviderFeeConserved(t *testing.T) {
	t.Parallel()

	shares := []SellerShare{
		{SellerID: uuid.New(), Gross: decimal.RequireFromString("33.33")},
		{SellerID: uuid.New(), Gross: decimal.RequireFromString("33.33")},
		{SellerID: uuid.New(), Gross: decimal.RequireFromString("33.34")},
	}
	splits, err := ComputeFeeSplits(shares, decimal.NewFromFloat(0.10))
	if err != nil {
		t.Fatalf("compute splits: %v", err)
	}

	subtotal := decimal.Zero
	providerSum := decimal.Zero
	for _, split := range splits {
		subtotal = subtotal.Add(split.Gross)
		providerSum = providerSum.Add(split.ProviderFee)
		expectedNet := split.Gross.Sub(split.PlatformFee).Sub(split.ProviderFee)
		if !split.Net.Equal(expectedNet) {
			t.Fatalf("net does not reconcile for seller %s", split.SellerID)
		}
	}

	expectedProvider := decimal.NewFromFloat(0.029).Mul(subtotal).Add(decimal.NewFromFloat(0.30)).Round(2)
	if !providerSum.Equal(expectedProvider) {
		t.Fatalf("provider fees sum to %s, want %s", providerSum, expectedProvider)
	}
}

func TestComputeFeeSplitsTwoSellersProportional(t *testing.T) {
	t.Parallel()

	sellerA := uuid.New()
	sellerB := uuid.New()
	splits, err := ComputeFeeSplits(
		[]SellerShare{
			{SellerID: sellerA, Gross: decimal.NewFromInt(75)},
			{SellerID: sellerB, Gross: decimal.NewFromInt(25)},
		},
		decimal.NewFromFloat(0.10),
	)
	if err != nil {
		t.Fatalf("compute splits: %v", err)
	}

	bySeller := map[uuid.UUID]FeeSplit{}
	for _, split := range splits {
		bySeller[split.SellerID] = split
	}

	// Provider total on a 100.00 subtotal is 3.20, split 75/25.
	a := bySeller[sellerA]
	b := bySeller[sellerB]
	providerSum := a.ProviderFee.Add(b.ProviderFee)
	if !providerSum.Equal(decimal.RequireFromString("3.20")) {
		t.Fatalf("provider fees sum to %s, want 3.20", providerSum)
	}
	if !a.PlatformFee.Equal(decimal.RequireFromString("7.50")) {
		t.Fatalf("platform fee a = %s, want 7.50", a.PlatformFee)
	}
	if !b.PlatformFee.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("platform fee b = %s, want 2.50", b.PlatformFee)
	}
	if a.ProviderFee.LessThan(b.ProviderFee) {
		t.Fatalf("larger share must carry the larger provider fee: %s vs %s", a.ProviderFee, b.ProviderFee)
	}
}

func TestComputeFeeSplitsRejectsEmptyAndNonPositive(t *testing.T) {
	t.Parallel()

	if _, err := ComputeFeeSplits(nil, decimal.NewFromFloat(0.10)); err == nil {
		t.Fatal("expected error for empty shares")
	}

	_, err := ComputeFeeSplits(
		[]SellerShare{{SellerID: uuid.New(), Gross: decimal.Zero}},
		decimal.NewFromFloat(0.10),
	)
	if err == nil {
		t.Fatal("expected error for zero gross")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}
