package provider

import (
	"sync"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerSet keeps one breaker per tenant so a failing tenant endpoint never trips
// another tenant. Breakers outlive client rebuilds.
type BreakerSet struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[domain.TenantID]*gobreaker.CircuitBreaker
}

func NewBreakerSet(cfg BreakerConfig, logger *zap.Logger) *BreakerSet {
	def := DefaultBreakerConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BreakerSet{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[domain.TenantID]*gobreaker.CircuitBreaker),
	}
}

func (b *BreakerSet) For(tenantID domain.TenantID) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	breaker, ok := b.breakers[tenantID]
	b.mu.RUnlock()
	if ok {
		return breaker
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, ok = b.breakers[tenantID]; ok {
		return breaker
	}

	threshold := b.cfg.ConsecutiveFailures
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider:" + tenantID.String(),
		MaxRequests: b.cfg.HalfOpenRequests,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Permanent rejections describe the message, not the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("provider circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	b.breakers[tenantID] = breaker
	return breaker
}

func (b *BreakerSet) State(tenantID domain.TenantID) gobreaker.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if breaker, ok := b.breakers[tenantID]; ok {
		return breaker.State()
	}
	return gobreaker.StateClosed
}
