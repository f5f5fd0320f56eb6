package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/job-dispatch/internal/config"
	"github.com/example/job-dispatch/internal/dispatch"
	"github.com/example/job-dispatch/internal/eta"
	httpapi "github.com/example/job-dispatch/internal/http"
	"github.com/example/job-dispatch/internal/ingest"
	"github.com/example/job-dispatch/internal/lifecycle"
	"github.com/example/job-dispatch/internal/logging"
	"github.com/example/job-dispatch/internal/mirror"
	"github.com/example/job-dispatch/internal/notify"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/payments"
	"github.com/example/job-dispatch/internal/presence"
	"github.com/example/job-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger)
	}

	var ps presence.Store
	if cfg.RedisAddr != "" {
		ps = presence.NewRedisPresence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.EligibilityRadiusM)
	} else {
		ps = presence.NewIndex(presence.RadiusPredicate(cfg.EligibilityRadiusM))
	}

	var mir mirror.Mirror
	if cfg.RedisAddr != "" {
		mir = mirror.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.MirrorKeyPrefix)
	} else {
		mir = mirror.NewMemoryMirror()
	}

	var store storage.JobStore
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = pg
	} else {
		store = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
	}

	var notifier notify.Notifier
	if cfg.NotifierEndpoint != "" {
		notifier = notify.NewPushNotifier(cfg.NotifierEndpoint, cfg.NotifierKey)
	} else {
		notifier = &notify.LogNotifier{Logger: logger}
	}

	registry := dispatch.NewRegistry(logger)
	dispatcher := dispatch.NewDispatcher(registry, ps, cfg.OfferResponseWindow, logger)
	dispatcher.DefaultSpeedMps = cfg.DefaultSpeedMps
	dispatcher.ETACache = eta.NewCache(time.Minute)
	if cfg.OSRMEndpoint != "" {
		dispatcher.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	ctrl := lifecycle.NewController(store, mir, notifier, logger)
	ctrl.Dispatcher = dispatcher
	ctrl.Channels = registry
	ctrl.Presence = ps
	ctrl.Directory = lifecycle.NewMemoryDirectory()
	ctrl.CancelReasonMinLen = cfg.CancelReasonMinLen
	ctrl.CandidateMax = cfg.OfferCandidateMax
	if os.Getenv("STRIPE_API_KEY") != "" {
		ctrl.Payments = payments.NewStripeClient()
		ctrl.HoldAmount = cfg.HoldAmount
		ctrl.HoldCurrency = cfg.HoldCurrency
	}

	ps.OnChange(dispatcher.HandlePresence)
	registry.OnResponse(dispatcher.HandleResponse)
	registry.OnDisconnect(func(providerID string) {
		ps.SetOnline(providerID, false)
		observability.ProvidersOnline.Dec()
		dispatcher.HandleDisconnect(providerID)
	})

	srv := httpapi.NewServer(logger, ps, registry, ctrl, kp)
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("job-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_job_cards.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_job_cards.sql")
}
