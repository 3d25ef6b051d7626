package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	JWTSecret      string
	DBMaxConns     int32
	DBMinConns     int32

	SchedulerEnabled        bool
	SchedulerLocation       *time.Location
	SavingsInterestSchedule string
	DepositInterestSchedule string
	MaturitySchedule        string
	AccrualWorkers          int
	AccrualMaxRetries       int
	AccrualRetryBaseDelay   time.Duration
	PassLockTTL             time.Duration
	TriggerRateLimitPerMin  int
}

func setDefaults() {
	viper.SetDefault("APP_NAME", "CoreBank")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	viper.SetDefault("IDEMPOTENCY_TTL", "24h")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("DB_MIN_CONNS", 1)
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	viper.SetDefault("SAVINGS_INTEREST_SCHEDULE", "10 0 * * *") // 00:10 every day
	viper.SetDefault("DEPOSIT_INTEREST_SCHEDULE", "1 0 * * *")  // 00:01 every day
	viper.SetDefault("DEPOSIT_MATURITY_SCHEDULE", "5 0 * * *")  // 00:05 every day
	viper.SetDefault("ACCRUAL_WORKERS", 4)
	viper.SetDefault("ACCRUAL_MAX_RETRIES", 3)
	viper.SetDefault("ACCRUAL_RETRY_BASE_DELAY", "200ms")
	viper.SetDefault("PASS_LOCK_TTL", "15m")
	viper.SetDefault("TRIGGER_RATE_LIMIT_PER_MIN", 10)
}

// Load reads configuration values from the environment, and from a .env file
// in the working directory when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	setDefaults()
	viper.AutomaticEnv()

	cfg := Config{
		AppName:                 viper.GetString("APP_NAME"),
		AppEnv:                  strings.ToLower(viper.GetString("APP_ENV")),
		Port:                    viper.GetString("PORT"),
		LogLevel:                strings.ToLower(viper.GetString("LOG_LEVEL")),
		DatabaseURL:             viper.GetString("DATABASE_URL"),
		RedisURL:                viper.GetString("REDIS_URL"),
		JWTSecret:               viper.GetString("AUTH_JWT_SECRET"),
		DBMaxConns:              viper.GetInt32("DB_MAX_CONNS"),
		DBMinConns:              viper.GetInt32("DB_MIN_CONNS"),
		SchedulerEnabled:        viper.GetBool("SCHEDULER_ENABLED"),
		SavingsInterestSchedule: viper.GetString("SAVINGS_INTEREST_SCHEDULE"),
		DepositInterestSchedule: viper.GetString("DEPOSIT_INTEREST_SCHEDULE"),
		MaturitySchedule:        viper.GetString("DEPOSIT_MATURITY_SCHEDULE"),
		AccrualWorkers:          viper.GetInt("ACCRUAL_WORKERS"),
		AccrualMaxRetries:       viper.GetInt("ACCRUAL_MAX_RETRIES"),
		TriggerRateLimitPerMin:  viper.GetInt("TRIGGER_RATE_LIMIT_PER_MIN"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownPeriod},
		{"IDEMPOTENCY_TTL", &cfg.IdempotencyTTL},
		{"ACCRUAL_RETRY_BASE_DELAY", &cfg.AccrualRetryBaseDelay},
		{"PASS_LOCK_TTL", &cfg.PassLockTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(viper.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = v
	}

	loc, err := time.LoadLocation(viper.GetString("SCHEDULER_TIMEZONE"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SCHEDULER_TIMEZONE: %w", err)
	}
	cfg.SchedulerLocation = loc

	schedules := map[string]string{
		"SAVINGS_INTEREST_SCHEDULE": cfg.SavingsInterestSchedule,
		"DEPOSIT_INTEREST_SCHEDULE": cfg.DepositInterestSchedule,
		"DEPOSIT_MATURITY_SCHEDULE": cfg.MaturitySchedule,
	}
	for key, spec := range schedules {
		if _, err := cron.ParseStandard(spec); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if cfg.AccrualWorkers <= 0 {
		return Config{}, errors.New("ACCRUAL_WORKERS must be at least 1")
	}
	if cfg.AccrualMaxRetries < 0 {
		return Config{}, errors.New("ACCRUAL_MAX_RETRIES must not be negative")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, errors.New("DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("AUTH_JWT_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the process runs in a local development environment.
func (c Config) IsDev() bool {
	switch c.AppEnv {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
