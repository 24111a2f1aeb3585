// Package config содержит логику чтения конфигурации маркетплейса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/kayicom/marketplace/internal/model"
)

// Config содержит параметры конфигурации маркетплейса.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	GatewayAddress string `env:"GATEWAY_ADDRESS"`
	GatewayAPIKey  string `env:"GATEWAY_API_KEY"`
	CallbackURL    string `env:"CALLBACK_URL"`

	MailAPIAddress string `env:"MAIL_API_ADDRESS"`
	MailAPIKey     string `env:"MAIL_API_KEY"`
	MailFrom       string `env:"MAIL_FROM" envDefault:"KayiCom <no-reply@kayicom.com>"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"payment-confirmations"`
	KafkaGroup   string `env:"KAFKA_GROUP" envDefault:"marketplace-orders"`

	RedisAddress string `env:"REDIS_ADDRESS"`

	AuthSecret string `env:"AUTH_SECRET"`
	AdminToken string `env:"ADMIN_TOKEN"`

	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	InvoiceSyncInterval time.Duration `env:"INVOICE_SYNC_INTERVAL" envDefault:"30s"`

	LoyaltyCreditsPerOrder int64 `env:"LOYALTY_CREDITS_PER_ORDER"`
	LoyaltyMinOrderCents   int64 `env:"LOYALTY_MIN_ORDER_CENTS"`
	ReferralBonusCents     int64 `env:"REFERRAL_BONUS_CENTS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayAddress := cfg.GatewayAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "crypto invoice gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

// Incentives возвращает параметры начислений с учётом переопределений из окружения.
func (c *Config) Incentives() model.Incentives {
	inc := model.DefaultIncentives()
	if c.LoyaltyCreditsPerOrder > 0 {
		inc.LoyaltyCreditsPerOrder = c.LoyaltyCreditsPerOrder
	}
	if c.LoyaltyMinOrderCents > 0 {
		inc.LoyaltyMinOrderCents = c.LoyaltyMinOrderCents
	}
	if c.ReferralBonusCents > 0 {
		inc.ReferralBonusCents = c.ReferralBonusCents
	}
	return inc
}
