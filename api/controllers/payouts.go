package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/IuriGuerreiro/Designia-backend-sub000/api/middleware"
	"github.com/IuriGuerreiro/Designia-backend-sub000/api/responses"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
)

type manualPayoutRequester interface {
	RequestManualPayout(ctx context.Context, sellerID uuid.UUID) error
}

// ManualPayout is the seller-triggered payout endpoint. It always refuses;
// payouts run on the platform schedule.
func ManualPayout(svc manualPayoutRequester, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sellerID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		if err := svc.RequestManualPayout(ctx, sellerID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
