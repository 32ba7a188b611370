package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"agrimitra/internal/audit"
	"agrimitra/internal/identity/gotrue"
	"agrimitra/internal/lifecycle"
	lifecyclemetrics "agrimitra/internal/lifecycle/metrics"
	"agrimitra/internal/platform/config"
	"agrimitra/internal/platform/httpserver"
	"agrimitra/internal/platform/logger"
	"agrimitra/internal/platform/postgres"
	platformredis "agrimitra/internal/platform/redis"
	"agrimitra/internal/profile/cache"
	profilepostgres "agrimitra/internal/profile/postgres"
	httptransport "agrimitra/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("run migrations", "err", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "err", err)
		os.Exit(1)
	}
	var profileCache *cache.Cache
	if redisClient != nil {
		defer redisClient.Close()
		profileCache = cache.New(redisClient.Client, 10*time.Minute)
	}

	producer, err := audit.NewKafkaProducer(cfg.KafkaBrokers, cfg.AuditTopic)
	if err != nil {
		log.Error("connect kafka", "err", err)
		os.Exit(1)
	}
	auditPub := audit.New(producer, log)
	if auditPub != nil {
		defer producer.Close()
		go func() {
			if err := auditPub.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("audit worker stopped", "err", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	providerOpts := []gotrue.Option{}
	if cfg.Identity.RefreshToken != "" {
		providerOpts = append(providerOpts, gotrue.WithSeedRefreshToken(cfg.Identity.RefreshToken))
	}
	provider := gotrue.New(cfg.Identity.BaseURL, cfg.Identity.APIKey, log, providerOpts...)
	defer provider.Close()

	manager := lifecycle.New(
		cfg.Lifecycle,
		provider,
		profilepostgres.New(db),
		profileCache,
		auditPub,
		lifecyclemetrics.New(registry),
		log,
	)
	manager.Start(ctx)
	defer manager.Close()

	handler := httptransport.NewHandler(manager, log)
	srv := httpserver.New(cfg.HTTPAddr, httptransport.NewRouter(handler, registry))

	log.Info("starting agrimitra", "addr", cfg.HTTPAddr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
}
