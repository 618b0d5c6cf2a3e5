package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"clinicsync/internal/bridge"
	"clinicsync/internal/device"
	devicehandler "clinicsync/internal/device/handler"
	devicestore "clinicsync/internal/device/store"
	"clinicsync/internal/device/store/liveness"
	"clinicsync/internal/ledger"
	ledgerstore "clinicsync/internal/ledger/store"
	"clinicsync/internal/platform/config"
	"clinicsync/internal/platform/httpserver"
	"clinicsync/internal/platform/kafka/consumer"
	"clinicsync/internal/platform/logger"
	"clinicsync/internal/platform/metrics"
	"clinicsync/internal/platform/postgres"
	redisplatform "clinicsync/internal/platform/redis"
	syncsvc "clinicsync/internal/sync"
	synchandler "clinicsync/internal/sync/handler"
	httptransport "clinicsync/internal/transport/http"
)

// main wires dependencies and keeps the process lifecycle small. Business
// logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	health := map[string]httptransport.HealthCheck{}

	var (
		ledgerStore ledger.Store
		deviceStore device.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		ledgerStore = ledgerstore.NewPostgresStore(db)
		deviceStore = devicestore.NewPostgresStore(db)
		health["postgres"] = db.PingContext
	} else {
		log.Warn("POSTGRES_DSN not set, using in-memory stores")
		ledgerStore = ledgerstore.NewInMemoryStore()
		deviceStore = devicestore.NewInMemoryStore()
	}

	// The sequence counter must be seeded before any request is served so
	// numbers are never reused after a restart.
	counter, err := ledger.SeedCounter(ctx, ledgerStore)
	if err != nil {
		return err
	}
	ledgerSvc := ledger.NewService(ledgerStore, counter, log)

	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		return err
	}
	var livenessTracker device.LivenessTracker
	if redisClient != nil {
		defer redisClient.Close()
		livenessTracker = liveness.NewRedisTracker(redisClient.Client, 15*time.Minute)
		health["redis"] = redisClient.Health
	}

	tokens := device.NewTokenService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	deviceSvc := device.NewService(deviceStore, tokens, livenessTracker, m, log, cfg.DeviceTokenTTL)

	strategy, err := syncsvc.ParseStrategy(cfg.ConflictStrategy)
	if err != nil {
		return err
	}
	coordinator := syncsvc.NewCoordinator(ledgerSvc, deviceSvc, m, log, syncsvc.Options{
		Strategy:     strategy,
		Window:       cfg.ConflictWindow,
		LimitDefault: cfg.DownloadLimitDefault,
		LimitMax:     cfg.DownloadLimitMax,
	})

	validator := device.NewTokenAdapter(tokens)
	router := httptransport.NewRouter(log,
		httptransport.NewHealthHandler(health),
		devicehandler.New(deviceSvc, log, validator),
		synchandler.New(coordinator, log, validator),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting clinicsync", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		table := bridge.DefaultMappingTable(cfg.Kafka.Domains)
		b := bridge.New(ledgerSvc, table, m, log, cfg.Kafka.Origin)
		// An unreachable cluster at startup is fatal; transient poll
		// failures back off inside Run.
		cons, err := consumer.New(cfg.Kafka, bridge.TopicPatterns(cfg.Kafka.Domains), b, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer cons.Close()
			if err := cons.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		log.Warn("KAFKA_BROKERS not set, event bridge disabled")
	}

	return g.Wait()
}
