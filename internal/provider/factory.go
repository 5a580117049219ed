package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SecretSource is the slice of the secret store the factory needs.
type SecretSource interface {
	GetSecret(ctx context.Context, ref domain.SecretRef) (domain.SecretValue, bool, error)
	Stat(ctx context.Context, ref domain.SecretRef) (domain.SecretInfo, bool, error)
}

// BuildFunc constructs a client from resolved settings; tests swap it for a fake.
type BuildFunc func(cfg HTTPClientConfig) (Client, error)

type FactoryConfig struct {
	DefaultBaseURL string
	Timeout        time.Duration
	Breakers       *BreakerSet
	Build          BuildFunc
}

type cachedClient struct {
	version  string
	revision int64
	client   Client
}

// Factory builds and caches one Client per tenant. The cache key includes a
// version token taken from the credential's update time and revision plus the
// endpoint settings, so a rotated credential is picked up on the next call.
type Factory struct {
	secrets        SecretSource
	defaultBaseURL string
	timeout        time.Duration
	breakers       *BreakerSet
	build          BuildFunc
	logger         *zap.Logger
	metrics        *observability.Metrics

	mu      sync.RWMutex
	clients map[domain.TenantID]cachedClient
	group   singleflight.Group
}

func NewFactory(secrets SecretSource, cfg FactoryConfig, logger *zap.Logger) (*Factory, error) {
	if secrets == nil {
		return nil, fmt.Errorf("secret source is required")
	}
	if strings.TrimSpace(cfg.DefaultBaseURL) == "" {
		return nil, fmt.Errorf("default provider base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	if cfg.Breakers == nil {
		cfg.Breakers = NewBreakerSet(DefaultBreakerConfig(), logger)
	}
	if cfg.Build == nil {
		cfg.Build = func(c HTTPClientConfig) (Client, error) { return NewHTTPClient(c) }
	}

	return &Factory{
		secrets:        secrets,
		defaultBaseURL: strings.TrimSpace(cfg.DefaultBaseURL),
		timeout:        cfg.Timeout,
		breakers:       cfg.Breakers,
		build:          cfg.Build,
		logger:         logger,
		clients:        make(map[domain.TenantID]cachedClient),
	}, nil
}

func (f *Factory) SetMetrics(m *observability.Metrics) {
	f.metrics = m
}

// ClientFor returns the tenant's client, building it when the credential or
// endpoint settings changed since the cached one was made.
func (f *Factory) ClientFor(ctx context.Context, tenantID domain.TenantID, cfg domain.TenantConfig) (Client, error) {
	ref, err := domain.NewSecretRef(tenantID, domain.PurposeSMSAPIKey)
	if err != nil {
		return nil, err
	}

	info, found, err := f.secrets.Stat(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !found {
		f.metrics.IncClientBuild("credentials_missing")
		return nil, fmt.Errorf("%w: tenant %s has no %s", domain.ErrCredentialsMissing, tenantID, domain.PurposeSMSAPIKey)
	}

	baseURL := cfg.EndpointOr(f.defaultBaseURL)
	version := strings.Join([]string{info.VersionToken(), baseURL, cfg.ProfileID, cfg.SendingLocationID}, "|")

	if client, ok := f.cached(tenantID, version); ok {
		return client, nil
	}

	v, err, _ := f.group.Do(tenantID.String()+"|"+version, func() (any, error) {
		if client, ok := f.cached(tenantID, version); ok {
			return client, nil
		}

		// Waiters share this build, so it must not die with the first caller.
		apiKey, found, err := f.secrets.GetSecret(context.WithoutCancel(ctx), ref)
		if err != nil {
			f.metrics.IncClientBuild("error")
			return nil, err
		}
		if !found || apiKey.IsEmpty() {
			f.metrics.IncClientBuild("credentials_missing")
			return nil, fmt.Errorf("%w: tenant %s has no %s", domain.ErrCredentialsMissing, tenantID, domain.PurposeSMSAPIKey)
		}

		client, err := f.build(HTTPClientConfig{
			BaseURL:           baseURL,
			APIKey:            apiKey,
			ProfileID:         cfg.ProfileID,
			SendingLocationID: cfg.SendingLocationID,
			Timeout:           f.timeout,
			Breaker:           f.breakers.For(tenantID),
		})
		if err != nil {
			f.metrics.IncClientBuild("error")
			return nil, fmt.Errorf("build provider client for %s: %w", tenantID, err)
		}

		f.store(tenantID, cachedClient{version: version, revision: info.Revision, client: client})
		f.metrics.IncClientBuild("built")
		f.logger.Info("provider client built",
			zap.String("tenantId", tenantID.String()),
			zap.String("baseUrl", baseURL),
			zap.Int64("credentialRevision", info.Revision),
		)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

func (f *Factory) cached(tenantID domain.TenantID, version string) (Client, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entry, ok := f.clients[tenantID]
	if !ok || entry.version != version {
		return nil, false
	}
	return entry.client, true
}

// store keeps the newest credential revision when builds for two revisions race.
func (f *Factory) store(tenantID domain.TenantID, entry cachedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if current, ok := f.clients[tenantID]; ok && current.revision > entry.revision {
		return
	}
	f.clients[tenantID] = entry
}

// Invalidate drops the tenant's cached client.
func (f *Factory) Invalidate(tenantID domain.TenantID) {
	f.mu.Lock()
	delete(f.clients, tenantID)
	f.mu.Unlock()
}

// InvalidateRef is a secret rotation listener.
func (f *Factory) InvalidateRef(ref domain.SecretRef) {
	tenant, purpose, ok := strings.Cut(ref.String(), ":")
	if !ok || purpose != domain.PurposeSMSAPIKey {
		return
	}
	f.Invalidate(domain.TenantID(tenant))
}
