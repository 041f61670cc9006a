package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"

	EmailProviderSendGrid = "sendgrid"
	EmailProviderPostmark = "postmark"
	EmailProviderLog      = "log"
)

// Config holds all configuration for the application.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	StoreDriver   string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MigrationsDir string `env:"MIGRATIONS_DIR"`
	Mongo         MongoConfig

	RedisURL   string `env:"REDIS_URL"`
	CronSecret string `env:"CRON_SECRET,required,notEmpty"`

	Email    EmailConfig
	Delivery DeliveryConfig
	Kafka    KafkaConfig

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// MongoConfig configures the MongoDB store.
type MongoConfig struct {
	URL            string        `env:"MONGODB_URL"`
	Database       string        `env:"MONGODB_DATABASE" envDefault:"quiet_hours_scheduler"`
	ConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`
}

// EmailConfig selects and configures the email provider.
type EmailConfig struct {
	Provider             string `env:"EMAIL_PROVIDER" envDefault:"log"`
	SendGridAPIKey       string `env:"SENDGRID_API_KEY"`
	SendGridHost         string `env:"SENDGRID_HOST"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	FromEmail            string `env:"FROM_EMAIL" envDefault:"onboarding@example.com"`
	FromName             string `env:"FROM_NAME" envDefault:"Quiet Hours Scheduler"`
}

// DeliveryConfig controls processing runs and per-send limits.
type DeliveryConfig struct {
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"1m"`
	Concurrency       int           `env:"DELIVERY_CONCURRENCY" envDefault:"1"`
	Timeout           time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`
	BatchLimit        int           `env:"BATCH_LIMIT" envDefault:"0"`
	SendRatePerSecond int           `env:"SEND_RATE_PER_SECOND" envDefault:"0"`
}

// KafkaConfig configures the block event consumer. It is disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"study-blocks"`
	GroupID string   `env:"KAFKA_GROUP_ID" envDefault:"block-reminders"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreDriverMongo:
		if c.Mongo.URL == "" {
			errs = append(errs, errors.New("MONGODB_URL is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.Email.Provider {
	case EmailProviderSendGrid:
		if c.Email.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for the sendgrid provider"))
		}
	case EmailProviderPostmark:
		if c.Email.PostmarkServerToken == "" || c.Email.PostmarkAccountToken == "" {
			errs = append(errs, errors.New("POSTMARK_SERVER_TOKEN and POSTMARK_ACCOUNT_TOKEN are required for the postmark provider"))
		}
	case EmailProviderLog:
	default:
		errs = append(errs, fmt.Errorf("unsupported EMAIL_PROVIDER %q", c.Email.Provider))
	}

	if c.Delivery.Concurrency < 1 {
		errs = append(errs, errors.New("DELIVERY_CONCURRENCY must be at least 1"))
	}
	if c.Delivery.Timeout <= 0 {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT must be positive"))
	}
	if c.Delivery.PollInterval < 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must not be negative"))
	}
	if c.Delivery.BatchLimit < 0 {
		errs = append(errs, errors.New("BATCH_LIMIT must not be negative"))
	}

	return errors.Join(errs...)
}
