package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/meridianpay/ledger-core/api/responses"
	"github.com/meridianpay/ledger-core/pkg/config"
	"github.com/meridianpay/ledger-core/pkg/db"
	pkgerrors "github.com/meridianpay/ledger-core/pkg/errors"
	"github.com/meridianpay/ledger-core/pkg/logger"
	"github.com/meridianpay/ledger-core/pkg/redis"
)

const readinessTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "live", "env": cfg.App.Env})
	}
}

// HealthReady checks every hard dependency; any failure returns 503 so the
// instance is pulled from rotation before it can accept ledger traffic.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger, pubsubP PubSubPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		failed := false

		checks["postgres"] = checkDependency(ctx, func(ctx context.Context) error {
			if dbP == nil {
				return nil
			}
			return dbP.Ping(ctx)
		}, &failed)
		checks["redis"] = checkDependency(ctx, func(ctx context.Context) error {
			if redisP == nil {
				return nil
			}
			return redisP.Ping(ctx)
		}, &failed)
		checks["pubsub"] = checkDependency(ctx, func(ctx context.Context) error {
			if pubsubP == nil {
				return nil
			}
			return pubsubP.Ping(ctx)
		}, &failed)

		if failed {
			err := pkgerrors.New(pkgerrors.CodeDependency, "readiness check failed").
				WithDetails(checks)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}

// PubSubPinger is satisfied by pubsub.Client.
type PubSubPinger interface {
	Ping(ctx context.Context) error
}

func checkDependency(ctx context.Context, ping func(context.Context) error, failed *bool) string {
	if err := ping(ctx); err != nil {
		*failed = true
		return err.Error()
	}
	return "ok"
}
