package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

const minMasterKeyLength = 16

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL     string `env:"RABBITMQ_URL,required=true"`
	SecretMasterKey string `env:"SECRET_MASTER_KEY,required=true"`
	ProviderBaseURL string `env:"PROVIDER_BASE_URL,required=true"`
	// RedisURL is optional; without it tenant memoization and rate limiting are disabled.
	RedisURL string `env:"REDIS_URL"`
	// ServingHosts lists the hosts that get their own tenant context, comma separated.
	// Requests for any other host use the default context.
	ServingHosts string `env:"SERVING_HOSTS"`

	SecretKeyVersion int           `env:"SECRET_KEY_VERSION,default=1"`
	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT,default=10s"`
	RateLimitPerSec  int           `env:"RATE_LIMIT_PER_SEC,default=100"`

	WebhookSigningSecret string        `env:"WEBHOOK_SIGNING_SECRET"`
	WebhookMaxSkew       time.Duration `env:"WEBHOOK_MAX_SKEW,default=5m"`
	DeliveryOrdering     string        `env:"DELIVERY_ORDERING,default=terminal_precedence"`

	PendingStaleAfter   time.Duration `env:"PENDING_STALE_AFTER,default=15m"`
	PendingScanInterval time.Duration `env:"PENDING_SCAN_INTERVAL,default=1m"`
	MemoTTL             time.Duration `env:"MEMO_TTL,default=30s"`

	BreakerConsecutiveFailures int           `env:"BREAKER_CONSECUTIVE_FAILURES,default=5"`
	BreakerOpenTimeout         time.Duration `env:"BREAKER_OPEN_TIMEOUT,default=30s"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	LogFile  string `env:"LOG_FILE"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Hosts() []string {
	var hosts []string
	for _, host := range strings.Split(c.ServingHosts, ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func (c *Config) Validate() error {
	if len(c.SecretMasterKey) < minMasterKeyLength {
		return fmt.Errorf("SECRET_MASTER_KEY must be at least %d characters", minMasterKeyLength)
	}
	if c.SecretKeyVersion < 1 || c.SecretKeyVersion > 255 {
		return fmt.Errorf("SECRET_KEY_VERSION must be between 1 and 255")
	}

	u, err := url.Parse(strings.TrimSpace(c.ProviderBaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PROVIDER_BASE_URL must be an absolute url")
	}

	if _, err := c.OrderingPolicy(); err != nil {
		return fmt.Errorf("DELIVERY_ORDERING: %w", err)
	}

	positive := map[string]time.Duration{
		"PROVIDER_TIMEOUT":      c.ProviderTimeout,
		"WEBHOOK_MAX_SKEW":      c.WebhookMaxSkew,
		"PENDING_STALE_AFTER":   c.PendingStaleAfter,
		"PENDING_SCAN_INTERVAL": c.PendingScanInterval,
		"BREAKER_OPEN_TIMEOUT":  c.BreakerOpenTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.RateLimitPerSec < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must be positive")
	}
	if c.BreakerConsecutiveFailures < 1 {
		return fmt.Errorf("BREAKER_CONSECUTIVE_FAILURES must be positive")
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be a valid port")
	}
	return nil
}

func (c *Config) OrderingPolicy() (domain.OrderingPolicy, error) {
	return domain.ParseOrderingPolicy(c.DeliveryOrdering)
}
