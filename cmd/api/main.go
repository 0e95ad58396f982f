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

	"marketplace-platform/internal/audit"
	"marketplace-platform/internal/auth"
	"marketplace-platform/internal/booking"
	"marketplace-platform/internal/catalog"
	"marketplace-platform/internal/config"
	"marketplace-platform/internal/gateway"
	"marketplace-platform/internal/httpapi"
	"marketplace-platform/internal/ledger"
	"marketplace-platform/internal/notify"
	"marketplace-platform/internal/reconcile"
	"marketplace-platform/internal/reporting"
	"marketplace-platform/internal/wallet"
	"marketplace-platform/pkg/logger"
	"marketplace-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	if err := httpapi.RegisterValidators(); err != nil {
		log.Error("validator registration failed", "err", err)
		os.Exit(1)
	}

	// Wiring, bottom up: stores, services, engine, handlers.
	wallets := wallet.NewPostgresStore(db)
	ledgerRepo := ledger.NewPostgresRepo(db)
	notifier := notify.NewRedisDispatcher(rdb)
	bookings := booking.NewService(booking.NewPostgresRepo(db), booking.NewRedisEvents(rdb), notifier)
	paystack := gateway.NewPaystack(cfg.Gateway)
	auditor := audit.NewService(audit.NewPostgresRepo(db))
	catalogSvc := catalog.NewService(catalog.NewPostgresRepo(db))
	reports := reporting.NewService(reporting.StoreRepo{Ledger: ledgerRepo, Bookings: booking.NewPostgresRepo(db)})
	metrics := reconcile.NewMetrics(prometheus.DefaultRegisterer)

	engine := reconcile.NewEngine(wallets, ledgerRepo, bookings, paystack, paystack, notifier, auditor, metrics, reconcile.Config{
		MinDepositMinor:    cfg.Gateway.MinDepositMinor,
		MinWithdrawalMinor: cfg.Gateway.MinWithdrawalMinor,
	})

	h := httpapi.Handlers{
		Auth:          authManager,
		Wallets:       wallets,
		Ledger:        ledgerRepo,
		Bookings:      bookings,
		Engine:        engine,
		Transfers:     paystack,
		Catalog:       catalogSvc,
		Reports:       reports,
		WebhookSecret: cfg.Gateway.WebhookSecret,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, db, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
