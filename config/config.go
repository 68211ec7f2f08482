package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	SMTP      SMTPConfig
	Webhook   WebhookConfig
	Cryptomus CryptomusConfig
	Weepay    WeepayConfig
	Iyzico    IyzicoConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	BaseURL      string // public base URL; provider callbacks are BaseURL + /api/v1/webhooks/<provider>
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig backs the webhook rate limiter in multi-instance deployments.
// Leave Addr empty to use the in-memory limiter.
type RedisConfig struct {
	Addr     string
	PoolSize int
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type WebhookConfig struct {
	RateLimit       int
	RateLimitWindow time.Duration
	HandlerTimeout  time.Duration
}

type CryptomusConfig struct {
	BaseURL    string
	MerchantID string
	PaymentKey string // used both for request signing and webhook verification
}

type WeepayConfig struct {
	BaseURL   string
	BayiID    string
	SecretKey string
}

type IyzicoConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         env("PORT", "8080"),
			Env:          env("APP_ENV", "development"),
			BaseURL:      env("BASE_URL", "http://localhost:8080"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             env("DATABASE_DSN", "abonix:abonix@tcp(localhost:3306)/abonix?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", ""),
			PoolSize: envInt("REDIS_POOL_SIZE", 10),
		},
		JWT: JWTConfig{
			AccessSecret:  env("JWT_ACCESS_SECRET", "change-me-in-production"),
			RefreshSecret: env("JWT_REFRESH_SECRET", "change-me-refresh"),
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
			Issuer:        "abonix",
		},
		SMTP: SMTPConfig{
			Host:     env("SMTP_HOST", ""),
			Port:     envInt("SMTP_PORT", 587),
			Username: env("SMTP_USERNAME", ""),
			Password: env("SMTP_PASSWORD", ""),
			From:     env("SMTP_FROM", "noreply@abonix.com"),
		},
		Webhook: WebhookConfig{
			RateLimit:       envInt("WEBHOOK_RATE_LIMIT", 60),
			RateLimitWindow: time.Minute,
			HandlerTimeout:  15 * time.Second,
		},
		Cryptomus: CryptomusConfig{
			BaseURL:    env("CRYPTOMUS_BASE_URL", "https://api.cryptomus.com/v1"),
			MerchantID: env("CRYPTOMUS_MERCHANT_ID", ""),
			PaymentKey: env("CRYPTOMUS_PAYMENT_KEY", ""),
		},
		Weepay: WeepayConfig{
			BaseURL:   env("WEEPAY_BASE_URL", "https://api.weepay.co"),
			BayiID:    env("WEEPAY_BAYI_ID", ""),
			SecretKey: env("WEEPAY_SECRET_KEY", ""),
		},
		Iyzico: IyzicoConfig{
			BaseURL:   env("IYZICO_BASE_URL", "https://api.iyzipay.com"),
			APIKey:    env("IYZICO_API_KEY", ""),
			SecretKey: env("IYZICO_SECRET_KEY", ""),
		},
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
