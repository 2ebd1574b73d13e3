package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Port     string `env:"SERVER_PORT" envDefault:"8080"`

	// Store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Auth
	JWTSecret   string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL      time.Duration `env:"JWT_TTL" envDefault:"168h"`
	AdminSecret string        `env:"ADMIN_SECRET"`
	IPNSecret   string        `env:"IPN_SECRET"`

	// Daily tasks
	TaskTimezone          string `env:"TASK_TIMEZONE" envDefault:"Africa/Kampala"`
	TaskCron              string `env:"TASK_CRON" envDefault:"0 0 * * *"`
	RegenerateConcurrency int    `env:"REGENERATE_CONCURRENCY" envDefault:"8"`

	// HTTP
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Mobile-money gateway; empty URL means deposits and withdrawals are
	// settled by hand.
	EasyPayURL           string        `env:"EASYPAY_API_URL"`
	EasyPayUsername      string        `env:"EASYPAY_USERNAME"`
	EasyPayPassword      string        `env:"EASYPAY_PASSWORD"`
	EasyPayTimeout       time.Duration `env:"EASYPAY_TIMEOUT" envDefault:"30s"`
	EasyPayStatusRetries uint64        `env:"EASYPAY_STATUS_RETRIES" envDefault:"3"`

	// Realtime relay between instances; empty keeps events in-process.
	RedisURL string `env:"REDIS_URL"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.EasyPayURL != "" && (c.EasyPayUsername == "" || c.EasyPayPassword == "") {
		return fmt.Errorf("EASYPAY_USERNAME and EASYPAY_PASSWORD are required with EASYPAY_API_URL")
	}
	if c.RegenerateConcurrency < 1 {
		return fmt.Errorf("REGENERATE_CONCURRENCY must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the timezone that defines a task "day".
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TaskTimezone)
	if err != nil {
		return nil, fmt.Errorf("load TASK_TIMEZONE: %w", err)
	}
	return loc, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
