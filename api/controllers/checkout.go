package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/IuriGuerreiro/Designia-backend-sub000/api/middleware"
	"github.com/IuriGuerreiro/Designia-backend-sub000/api/responses"
	checkoutsvc "github.com/IuriGuerreiro/Designia-backend-sub000/internal/checkout"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
)

type checkoutResponse struct {
	OrderID      string `json:"order_id"`
	SessionID    string `json:"session_id"`
	SessionURL   string `json:"session_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Checkout converts the caller's active cart into a locked order and a
// provider checkout session.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		buyerID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		result, err := svc.Execute(ctx, buyerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			OrderID:      result.Order.ID.String(),
			SessionID:    result.SessionID,
			SessionURL:   result.SessionURL,
			ClientSecret: result.ClientSecret,
		})
	}
}
