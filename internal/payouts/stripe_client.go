package payouts

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/payout"
	"github.com/stripe/stripe-go/v84/transfer"

	pkgstripe "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/stripe"
)

// StripePayoutClient exposes the subset of Stripe operations the payout
// aggregator needs, so the service can be tested against a fake.
type StripePayoutClient interface {
	CreatePayout(ctx context.Context, params *stripe.PayoutParams) (*stripe.Payout, error)
	CreateTransfer(ctx context.Context, params *stripe.TransferParams) (*stripe.Transfer, error)
	ListPayouts(ctx context.Context, params *stripe.PayoutListParams) ([]*stripe.Payout, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the payout service can be tested.
func NewStripeClient(api *pkgstripe.Client) StripePayoutClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) CreatePayout(ctx context.Context, params *stripe.PayoutParams) (*stripe.Payout, error) {
	if params != nil {
		params.Context = ctx
	}
	return payout.New(params)
}

func (w *stripeClientWrapper) CreateTransfer(ctx context.Context, params *stripe.TransferParams) (*stripe.Transfer, error) {
	if params != nil {
		params.Context = ctx
	}
	return transfer.New(params)
}

func (w *stripeClientWrapper) ListPayouts(ctx context.Context, params *stripe.PayoutListParams) ([]*stripe.Payout, error) {
	if params != nil {
		params.Context = ctx
	}
	iter := payout.List(params)
	var out []*stripe.Payout
	for iter.Next() {
		out = append(out, iter.Payout())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
