package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "staybook/internal/adapters/http_server"
	"staybook/internal/adapters/observability"
	"staybook/internal/adapters/paygate"
	redisad "staybook/internal/adapters/redis"
	"staybook/internal/app"
	"staybook/internal/shared"
	mysqlrepo "staybook/internal/storage/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, config reads fall through to mysql")
	}
	gw, err := paygate.New(cfg.PaygateBase, cfg.PaygateKey, cfg.PaygateRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize payment gateway client")
	}

	configs := app.NewConfigService(repo, cache, cfg.CacheTTL)
	seed, err := shared.LoadCommissionSettings(cfg.CommissionConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("commission settings file")
	}
	if err := configs.Bootstrap(ctx, seed); err != nil {
		// money-moving endpoints fail closed until a valid config is activated
		log.Error().Err(err).Msg("no usable commission config")
	}
	ledger := app.NewLedger(repo, gw, configs)
	payouts := app.NewPayouts(repo, gw, configs, cfg.MaxWithdrawalRetry)

	// keep the snapshot in step with activations made on other instances
	sched := app.NewScheduler(app.DefaultCronLogger())
	if cfg.ConfigRefreshSchedule != "" {
		if err := sched.Register(app.Task{Name: app.JobRefreshConfig, Schedule: cfg.ConfigRefreshSchedule, Run: configs.Refresh}); err != nil {
			log.Fatal().Err(err).Msg("register config refresh")
		}
	}
	sched.Start(ctx)

	// http
	srv := server.New(server.DefaultRequestTimeout)
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Ledger: ledger, Payouts: payouts, Config: configs})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	<-sched.Stop().Done()
}
