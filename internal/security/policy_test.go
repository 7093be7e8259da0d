package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeConfigs struct {
	values map[string]string // "key|tenant" -> value
}

func (f fakeConfigs) GetDecrypted(ctx context.Context, key, tenant string) (string, error) {
	v, ok := f.values[key+"|"+tenant]
	if !ok {
		return "", assertNotFound{}
	}
	return v, nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

func TestCORSOriginsPrefersTenantSpecificEntry(t *testing.T) {
	p := &Policy{
		Configs:            fakeConfigs{values: map[string]string{"cors_origins|acme": "https://acme.example.com"}},
		DefaultCORSOrigins: []string{"*"},
	}
	assert.Equal(t, []string{"https://acme.example.com"}, p.CORSOrigins(context.Background(), "acme"))
}

func TestCORSOriginsFallsBackToGlobalThenDefault(t *testing.T) {
	p := &Policy{
		Configs:            fakeConfigs{values: map[string]string{"cors_origins|": "https://global.example.com"}},
		DefaultCORSOrigins: []string{"*"},
	}
	assert.Equal(t, []string{"https://global.example.com"}, p.CORSOrigins(context.Background(), "acme"))

	p2 := &Policy{Configs: fakeConfigs{values: map[string]string{}}, DefaultCORSOrigins: []string{"*"}}
	assert.Equal(t, []string{"*"}, p2.CORSOrigins(context.Background(), "acme"))
}

func TestTrustedHostsSplitsCommaList(t *testing.T) {
	p := &Policy{
		Configs: fakeConfigs{values: map[string]string{"trusted_hosts|": "api.example.com, api2.example.com"}},
	}
	assert.Equal(t, []string{"api.example.com", "api2.example.com"}, p.TrustedHosts(context.Background(), ""))
}
