package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"staybook/internal/adapters/notify"
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

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)
	observability.Serve(cfg.MetricsAddr, observability.InitRegistry())

	log.Info().
		Int("workers", cfg.JobWorkers).
		Dur("payment_timeout", cfg.PaymentTimeout).
		Int("max_withdrawal_retries", cfg.MaxWithdrawalRetry).
		Msg("scheduler starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()

	gw, err := paygate.New(cfg.PaygateBase, cfg.PaygateKey, cfg.PaygateRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize payment gateway client")
	}

	var pub notify.Publisher = notify.LogPublisher{L: log.Logger}
	if cfg.RabbitURL != "" {
		amqp, err := notify.DialAMQP(cfg.RabbitURL, cfg.NotifyExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq connection failed")
		}
		defer amqp.Close()
		pub = amqp
	} else {
		log.Warn().Msg("RABBITMQ_URL is empty, notifications are only logged")
	}

	configs := app.NewConfigService(repo, cache, cfg.CacheTTL)
	seed, err := shared.LoadCommissionSettings(cfg.CommissionConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("commission settings file")
	}
	if err := configs.Bootstrap(ctx, seed); err != nil {
		// release and withdrawal jobs fail closed until the refresh task finds a valid config
		log.Error().Err(err).Msg("no usable commission config")
	}

	ledger := app.NewLedger(repo, gw, configs)
	payouts := app.NewPayouts(repo, gw, configs, cfg.MaxWithdrawalRetry)
	jobs := app.NewJobs(repo, ledger, payouts, notify.New(pub), configs, app.JobsConfig{
		PaymentTimeout:    cfg.PaymentTimeout,
		ReminderLookahead: cfg.ReminderLookahead,
		ReminderTolerance: cfg.ReminderTolerance,
		Workers:           cfg.JobWorkers,
	})

	sched := app.NewScheduler(app.DefaultCronLogger())
	if err := app.RegisterJobs(sched, jobs, app.SchedulesConfig{
		Expiry:          cfg.ExpirySchedule,
		WithdrawalRetry: cfg.WithdrawalRetrySchedule,
		Reminders:       cfg.ReminderSchedule,
		Release:         cfg.ReleaseSchedule,
		ConfigRefresh:   cfg.ConfigRefreshSchedule,
	}); err != nil {
		log.Fatal().Err(err).Msg("register jobs")
	}
	sched.Start(ctx)
	log.Info().Msg("scheduler running")

	<-ctx.Done()
	log.Info().Msg("stopping scheduler, waiting for running jobs")
	<-sched.Stop().Done()
	log.Info().Msg("scheduler stopped")
}
