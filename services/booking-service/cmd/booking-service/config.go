package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/config"
)

type engineConfig struct {
	SlotStepMinutes    int           `env:"SLOT_STEP_MINUTES" envDefault:"15"`
	DayRangeMaxDays    int           `env:"DAY_RANGE_MAX_DAYS" envDefault:"30"`
	BookingMaxAttempts int           `env:"BOOKING_MAX_ATTEMPTS" envDefault:"3"`
	ScheduleCacheTTL   time.Duration `env:"SCHEDULE_CACHE_TTL" envDefault:"5m"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBAutoMigrate      bool          `env:"DB_AUTO_MIGRATE" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers   string        `env:"KAFKA_BROKERS"`
	OutboxPoll     time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatch    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	RateLimit      int           `env:"RATE_LIMIT_REQUESTS" envDefault:"120"`
	RateWindow     time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateFailOpen   bool          `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`
	BodyLimitBytes int64         `env:"HTTP_BODY_LIMIT_BYTES" envDefault:"1048576"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	AuthJWTSecret      string   `env:"AUTH_JWT_SECRET"`
}

func loadEngineConfig() (engineConfig, error) {
	var cfg engineConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	cfg.KafkaBrokers = strings.TrimSpace(cfg.KafkaBrokers)
	return cfg, cfg.validate()
}

func (c engineConfig) validate() error {
	switch {
	case c.SlotStepMinutes <= 0:
		return fmt.Errorf("SLOT_STEP_MINUTES must be positive (got %d)", c.SlotStepMinutes)
	case c.DayRangeMaxDays <= 0:
		return fmt.Errorf("DAY_RANGE_MAX_DAYS must be positive (got %d)", c.DayRangeMaxDays)
	case c.BookingMaxAttempts <= 0:
		return fmt.Errorf("BOOKING_MAX_ATTEMPTS must be positive (got %d)", c.BookingMaxAttempts)
	case c.RateLimit <= 0 || c.RateWindow <= 0:
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c engineConfig) slotStep() time.Duration {
	return time.Duration(c.SlotStepMinutes) * time.Minute
}
