package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/IuriGuerreiro/Designia-backend-sub000/api/responses"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/config"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is the readiness contract shared by the db, redis, and pubsub clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Designia-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Designia-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" not ready"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
