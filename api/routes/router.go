package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianpay/ledger-core/api/controllers"
	"github.com/meridianpay/ledger-core/api/middleware"
	"github.com/meridianpay/ledger-core/internal/assets"
	"github.com/meridianpay/ledger-core/internal/ledger"
	"github.com/meridianpay/ledger-core/internal/settlement"
	"github.com/meridianpay/ledger-core/pkg/config"
	"github.com/meridianpay/ledger-core/pkg/db"
	"github.com/meridianpay/ledger-core/pkg/logger"
	"github.com/meridianpay/ledger-core/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	pubsubP controllers.PubSubPinger,
	assetService assets.Service,
	ledgerService ledger.Service,
	settlementService settlement.Service,
	metricsRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var idempotencyStore redis.IdempotencyStore
	var rateLimiter redis.RateLimiter
	var redisPinger redis.Pinger
	if redisClient != nil {
		idempotencyStore = redisClient
		rateLimiter = redisClient
		redisPinger = redisClient
	}
	r.Use(middleware.Idempotency(idempotencyStore, cfg.Idempotency.ResponseTTL, logg))

	writePolicy := middleware.NewWriteRateLimitPolicy(
		"write",
		cfg.RateLimit.WriteWindow,
		cfg.RateLimit.WriteIPLimit,
		cfg.RateLimit.WriteAccountLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger, pubsubP))
	})

	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/assets", controllers.AssetsList(assetService, logg))

		r.Route("/ledger", func(r chi.Router) {
			r.Use(middleware.WriteRateLimit(writePolicy, rateLimiter, logg))
			r.Post("/deposit", controllers.LedgerDeposit(ledgerService, logg))
			r.Post("/lock", controllers.LedgerLock(ledgerService, logg))
			r.Post("/unlock", controllers.LedgerUnlock(ledgerService, logg))
			r.Post("/withdraw", controllers.LedgerWithdraw(ledgerService, logg))
			r.Get("/balances/{accountID}", controllers.LedgerBalances(ledgerService, logg))
			r.Get("/events/{accountID}", controllers.LedgerEvents(ledgerService, logg))
		})

		r.Route("/settlements", func(r chi.Router) {
			r.Use(middleware.WriteRateLimit(writePolicy, rateLimiter, logg))
			r.Post("/", controllers.SettlementCreate(settlementService, logg))
			r.Get("/", controllers.SettlementList(settlementService, logg))
			r.Route("/{settlementID}", func(r chi.Router) {
				r.Get("/", controllers.SettlementGet(settlementService, logg))
				r.Post("/sent", controllers.SettlementMarkSent(settlementService, logg))
				r.Post("/confirm", controllers.SettlementConfirm(settlementService, logg))
			})
		})
	})

	return r
}
