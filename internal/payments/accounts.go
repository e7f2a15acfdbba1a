package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
)

// accountReconciler records connected-account capability changes observed
// through account.updated. The account id is the join key back to a seller;
// an event for an unlinked account is logged and acknowledged.
type accountReconciler struct {
	repo Repository
	logg *logger.Logger
}

// NewAccountReconciler builds the default account.updated handler.
func NewAccountReconciler(repo Repository, logg *logger.Logger) (AccountReconciler, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	return &accountReconciler{repo: repo, logg: logg}, nil
}

func (r *accountReconciler) Reconcile(ctx context.Context, account *stripe.Account) error {
	if account == nil || account.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe account required")
	}

	seller, err := r.repo.FindUserByStripeAccountID(ctx, account.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			if r.logg != nil {
				logCtx := r.logg.WithField(ctx, "stripe_account_id", account.ID)
				r.logg.Warn(logCtx, "account update for unlinked connected account")
			}
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve connected account")
	}

	if r.logg != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"stripe_account_id": account.ID,
			"seller_id":         seller.ID,
			"charges_enabled":   account.ChargesEnabled,
			"payouts_enabled":   account.PayoutsEnabled,
		})
		r.logg.Info(logCtx, "connected account capabilities updated")
	}
	return nil
}
