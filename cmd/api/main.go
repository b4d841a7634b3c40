package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/fhe-autopay/api/controllers"
	"github.com/angelmondragon/fhe-autopay/api/middleware"
	"github.com/angelmondragon/fhe-autopay/api/routes"
	"github.com/angelmondragon/fhe-autopay/internal/cron"
	"github.com/angelmondragon/fhe-autopay/internal/devnet"
	"github.com/angelmondragon/fhe-autopay/internal/ledger"
	"github.com/angelmondragon/fhe-autopay/internal/lifecycle"
	"github.com/angelmondragon/fhe-autopay/internal/records"
	"github.com/angelmondragon/fhe-autopay/internal/status"
	"github.com/angelmondragon/fhe-autopay/pkg/config"
	"github.com/angelmondragon/fhe-autopay/pkg/db"
	"github.com/angelmondragon/fhe-autopay/pkg/instance"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
	"github.com/angelmondragon/fhe-autopay/pkg/metrics"
	"github.com/angelmondragon/fhe-autopay/pkg/migrate"
	"github.com/angelmondragon/fhe-autopay/pkg/pubsub"
	"github.com/angelmondragon/fhe-autopay/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else {
		logg.Warn(ctx, "redis not configured; idempotency and rate limiting disabled")
	}

	encKey, proofKey, err := devnet.ResolveKeys(cfg.Encryption, cfg.Oracle)
	if err != nil {
		logg.Error(ctx, "failed to resolve devnet keys", err)
		os.Exit(1)
	}
	gateway, err := devnet.NewGateway(encKey)
	if err != nil {
		logg.Error(ctx, "failed to build encryption gateway", err)
		os.Exit(1)
	}
	if !gateway.Ready() {
		logg.Warn(ctx, "encryption key not configured; record creation will fail")
	}
	proofs, err := devnet.NewProofVerifier(proofKey)
	if err != nil {
		logg.Error(ctx, "failed to build proof verifier", err)
		os.Exit(1)
	}

	autopayLedger, err := ledger.NewLedger(ledger.Params{
		Repo:     ledger.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Contract: cfg.Ledger.ContractAddress,
		Inputs:   gateway,
		Proofs:   proofs,
		Signer:   ledger.AutoSigner{},
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build ledger", err)
		os.Exit(1)
	}

	oracle, err := devnet.NewOracle(gateway, autopayLedger, proofKey, logg)
	if err != nil {
		logg.Error(ctx, "failed to build verification oracle", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opMetrics := metrics.NewOperationMetrics(registry)

	store, err := records.NewStore(records.StoreParams{
		Source:  autopayLedger,
		Logger:  logg,
		Skipped: opMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to build record store", err)
		os.Exit(1)
	}

	channel := status.NewChannel()

	orchestrator, err := lifecycle.NewOrchestrator(lifecycle.Params{
		Reader:   autopayLedger,
		Writer:   autopayLedger,
		Gateway:  gateway,
		Oracle:   oracle,
		Identity: middleware.ContextIdentity{},
		Store:    store,
		Status:   channel,
		Metrics:  opMetrics,
		Logger:   logg,
		Limits: lifecycle.Limits{
			MaxAmount:    cfg.Limits.MaxAmount,
			MinCondition: cfg.Limits.MinCondition,
			MaxCondition: cfg.Limits.MaxCondition,
			MaxNameLen:   cfg.Limits.MaxNameLen,
		},
		Description: cfg.Ledger.Description,
	})
	if err != nil {
		logg.Error(ctx, "failed to build orchestrator", err)
		os.Exit(1)
	}

	checks := map[string]controllers.Pinger{}
	if cfg.PubSub.Enabled() {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
		checks["pubsub"] = pubsubClient
		relay, err := status.NewRelay(channel, pubsubClient.StatusPublisher(), logg)
		if err != nil {
			logg.Error(ctx, "failed to build status relay", err)
			os.Exit(1)
		}
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "status relay stopped", err)
			}
		}()
	}

	if list, err := store.Refresh(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "initial refresh failed")
	} else {
		logg.Info(logg.WithField(ctx, "records", len(list)), "record store primed")
	}

	if cfg.Ledger.RefreshInterval > 0 {
		refreshJob, err := cron.NewRefreshJob(store)
		if err != nil {
			logg.Error(ctx, "failed to build refresh job", err)
			os.Exit(1)
		}
		jobs, err := cron.NewRegistry(refreshJob)
		if err != nil {
			logg.Error(ctx, "failed to register cron jobs", err)
			os.Exit(1)
		}
		scheduler, err := cron.NewService(cron.ServiceParams{
			Logger:   logg,
			Registry: jobs,
			Metrics:  metrics.NewJobMetrics(registry),
			Interval: cfg.Ledger.RefreshInterval,
		})
		if err != nil {
			logg.Error(ctx, "failed to build scheduler", err)
			os.Exit(1)
		}
		go func() {
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "scheduler stopped", err)
			}
		}()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
		"addr":     addr,
		"contract": cfg.Ledger.ContractAddress,
		"chain_id": cfg.Ledger.ChainID,
	})
	logg.Info(runCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, routes.Services{
			Records:      orchestrator,
			Store:        store,
			Transactions: autopayLedger,
			Status:       channel,
			Metrics:      registry,
			Checks:       checks,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(runCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(runCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(runCtx, "graceful shutdown failed", err)
		}
	}
}
