package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/IuriGuerreiro/Designia-backend-sub000/api/middleware"
	"github.com/IuriGuerreiro/Designia-backend-sub000/api/responses"
	"github.com/IuriGuerreiro/Designia-backend-sub000/api/validators"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/orders"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
)

type transitionRequest struct {
	Target string `json:"target" validate:"required"`
}

// OrderTransition applies one lifecycle transition on behalf of the caller.
func OrderTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		actorID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}
		role, err := enums.ParseActorRole(middleware.RoleFromContext(ctx))
		if err != nil {
			role = enums.ActorRoleBuyer
		}

		var body transitionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(body.Target)
		if err != nil {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "invalid target status").
					WithDetails(map[string]any{"target": body.Target}))
			return
		}

		if err := svc.Transition(ctx, orders.TransitionInput{
			OrderID: orderID,
			Target:  target,
			Actor:   orders.Actor{UserID: actorID, Role: role},
		}); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{
			"order_id": orderID.String(),
			"status":   string(target),
		})
	}
}
