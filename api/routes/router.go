package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fhe-autopay/api/controllers"
	"github.com/angelmondragon/fhe-autopay/api/middleware"
	"github.com/angelmondragon/fhe-autopay/pkg/config"
	"github.com/angelmondragon/fhe-autopay/pkg/db"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
	"github.com/angelmondragon/fhe-autopay/pkg/redis"
)

// Services bundles the handlers' collaborators.
type Services struct {
	Records      controllers.RecordService
	Store        controllers.RecordReader
	Transactions controllers.TransactionLister
	Status       controllers.StatusReader
	Metrics      prometheus.Gatherer
	// Checks are extra readiness dependencies, keyed by name.
	Checks map[string]controllers.Pinger
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	// a nil *redis.Client must stay a nil interface
	var (
		idempotencyStore redis.IdempotencyStore
		rateLimitStore   redis.RateLimitStore
		pingers          = map[string]controllers.Pinger{}
	)
	for name, check := range svc.Checks {
		if check != nil {
			pingers[name] = check
		}
	}
	if dbP != nil {
		pingers["db"] = dbP
	}
	if redisClient != nil {
		idempotencyStore = redisClient
		rateLimitStore = redisClient
		pingers["redis"] = redisClient
	}

	createPolicy := middleware.NewRateLimitPolicy(
		"create",
		cfg.RateLimit.CreateWindow,
		cfg.RateLimit.CreateIPLimit,
		cfg.RateLimit.CreateAccountLimit,
	)
	verifyPolicy := middleware.NewRateLimitPolicy(
		"verify",
		cfg.RateLimit.VerifyWindow,
		cfg.RateLimit.VerifyIPLimit,
		cfg.RateLimit.VerifyAccountLimit,
	)

	// idempotency runs on the endpoint so it sees the full route pattern
	idempotent := middleware.Idempotency(idempotencyStore, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, pingers, logg))
	})

	if cfg.Metrics.Enabled && svc.Metrics != nil {
		r.Method(http.MethodGet, metricsPath(cfg.Metrics), promhttp.HandlerFor(svc.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(cfg.JWT, logg))

		if !cfg.App.IsProd() {
			r.Post("/auth/token", controllers.AuthToken(cfg.JWT, logg))
		}

		r.Get("/status", controllers.StatusCurrent(svc.Status, logg))
		r.Get("/status/stream", controllers.StatusStream(svc.Status, logg))
		r.Get("/stats", controllers.RecordStats(svc.Store, logg))

		r.Route("/records", func(r chi.Router) {
			r.Get("/", controllers.RecordsList(svc.Store, logg))
			r.With(idempotent, middleware.RateLimit(createPolicy, rateLimitStore, logg)).Post("/", controllers.RecordCreate(svc.Records, logg))
			r.Post("/refresh", controllers.RecordsRefresh(svc.Store, logg))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", controllers.RecordGet(svc.Store, logg))
				r.Get("/transactions", controllers.RecordTransactions(svc.Transactions, logg))
				r.With(idempotent, middleware.RateLimit(verifyPolicy, rateLimitStore, logg)).Post("/verify", controllers.RecordVerify(svc.Records, logg))
				r.Post("/preview", controllers.RecordPreview(svc.Records, logg))
				r.Delete("/preview", controllers.RecordPreviewClear(svc.Records, logg))
			})
		})
	})

	return r
}

func metricsPath(cfg config.MetricsConfig) string {
	if cfg.Path == "" {
		return "/metrics"
	}
	return cfg.Path
}
