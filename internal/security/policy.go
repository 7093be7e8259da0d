package security

import (
	"context"
	"strings"
)

// ConfigLookup is the subset of ConfigStore's API Policy needs: a
// plaintext value lookup scoped to (key, tenant).
type ConfigLookup interface {
	GetDecrypted(ctx context.Context, key, tenant string) (string, error)
}

// Policy resolves a tenant's CORS-origin and trusted-host lists from
// ConfigStore, falling back to the global ("") entry, and finally to
// the process-wide defaults, when no tenant-specific entry exists.
type Policy struct {
	Configs ConfigLookup

	DefaultCORSOrigins  []string
	DefaultTrustedHosts []string
}

const (
	corsOriginsKey  = "cors_origins"
	trustedHostsKey = "trusted_hosts"
)

func (p *Policy) CORSOrigins(ctx context.Context, tenant string) []string {
	return p.resolveList(ctx, corsOriginsKey, tenant, p.DefaultCORSOrigins)
}

func (p *Policy) TrustedHosts(ctx context.Context, tenant string) []string {
	return p.resolveList(ctx, trustedHostsKey, tenant, p.DefaultTrustedHosts)
}

func (p *Policy) resolveList(ctx context.Context, key, tenant string, fallback []string) []string {
	if p.Configs == nil {
		return fallback
	}
	if tenant != "" {
		if v, err := p.Configs.GetDecrypted(ctx, key, tenant); err == nil && v != "" {
			return splitList(v)
		}
	}
	if v, err := p.Configs.GetDecrypted(ctx, key, ""); err == nil && v != "" {
		return splitList(v)
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
