package tenantctx

import "context"

type hostKeyCtxKey struct{}

func WithHostKey(ctx context.Context, hostKey string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, hostKeyCtxKey{}, NormalizeHostKey(hostKey))
}

// HostKeyFromContext returns the serving host, or DefaultHostKey when none was set.
func HostKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return DefaultHostKey
	}
	if v, ok := ctx.Value(hostKeyCtxKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultHostKey
}

// HostAllowlist is the set of hosts that get their own TenantContext. Every
// other host shares DefaultHostKey, so request headers cannot grow the cache.
type HostAllowlist map[string]struct{}

func NewHostAllowlist(hosts ...string) HostAllowlist {
	allowed := make(HostAllowlist, len(hosts))
	for _, host := range hosts {
		key := NormalizeHostKey(host)
		if key == DefaultHostKey {
			continue
		}
		allowed[key] = struct{}{}
	}
	return allowed
}

// Resolve maps a request host onto its context key.
func (a HostAllowlist) Resolve(host string) string {
	key := NormalizeHostKey(host)
	if _, ok := a[key]; ok {
		return key
	}
	return DefaultHostKey
}
