package authtoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	issuer := New("test-secret", time.Minute)

	token, err := issuer.Issue("admin", "acme")
	require.NoError(t, err)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "acme", claims.TenantCode)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := New("test-secret", time.Minute)
	other := New("other-secret", time.Minute)

	token, err := issuer.Issue("admin", "")
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	// New replaces a non-positive ttl with the default, so build the
	// issuer directly to get a token that is already expired.
	issuer := &Issuer{secret: []byte("test-secret"), ttl: -time.Minute}

	token, err := issuer.Issue("admin", "")
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	assert.Error(t, err)
}
