package shared

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	CacheTTL    time.Duration

	PaygateBase string
	PaygateKey  string
	PaygateRPS  int

	RabbitURL      string
	NotifyExchange string

	// CommissionConfigFile seeds the first commission config when the store has none.
	CommissionConfigFile string

	PaymentTimeout     time.Duration
	ReminderLookahead  time.Duration
	ReminderTolerance  time.Duration
	MaxWithdrawalRetry int
	JobWorkers         int

	ExpirySchedule          string
	WithdrawalRetrySchedule string
	ReminderSchedule        string
	ReleaseSchedule         string
	ConfigRefreshSchedule   string
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("ignoring non-numeric setting")
		}
		return def
	}
	minutes := func(k string, def int) time.Duration { return time.Duration(atoi(k, def)) * time.Minute }

	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/staybook?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),
		CacheTTL:    time.Duration(atoi("CACHE_TTL_SECONDS", 300)) * time.Second,

		PaygateBase: env("PAYGATE_BASE_URL", "https://api.paystack.co"),
		PaygateKey:  env("PAYGATE_SECRET_KEY", ""),
		PaygateRPS:  atoi("PAYGATE_RPS", 5),

		RabbitURL:      env("RABBITMQ_URL", ""),
		NotifyExchange: env("NOTIFY_EXCHANGE", "staybook.notifications"),

		CommissionConfigFile: env("COMMISSION_CONFIG_FILE", ""),

		PaymentTimeout:     minutes("PAYMENT_TIMEOUT_MINUTES", 60),
		ReminderLookahead:  minutes("REMINDER_LOOKAHEAD_MINUTES", 120),
		ReminderTolerance:  minutes("REMINDER_TOLERANCE_MINUTES", 5),
		MaxWithdrawalRetry: atoi("MAX_WITHDRAWAL_RETRIES", 5),
		JobWorkers:         atoi("JOB_WORKERS", 4),

		ExpirySchedule:          env("EXPIRY_SCHEDULE", "@every 1m"),
		WithdrawalRetrySchedule: env("WITHDRAWAL_RETRY_SCHEDULE", "0 * * * *"),
		ReminderSchedule:        env("REMINDER_SCHEDULE", "*/5 * * * *"),
		ReleaseSchedule:         env("RELEASE_SCHEDULE", "*/15 * * * *"),
		ConfigRefreshSchedule:   env("CONFIG_REFRESH_SCHEDULE", "@every 1m"),
	}
	if c.PaygateKey == "" {
		log.Warn().Msg("PAYGATE_SECRET_KEY is empty")
	}
	return c
}

// LoadCommissionSettings reads a YAML or JSON commission settings file. The
// raw map is handed to pricing.ParseSettings; nothing is validated here.
func LoadCommissionSettings(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read commission settings %s: %w", path, err)
	}
	settings := v.AllSettings()
	if len(settings) == 0 {
		return nil, fmt.Errorf("commission settings %s: file is empty", path)
	}
	return settings, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
