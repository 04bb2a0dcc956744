package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	tokens, err := NewTokens("secret", time.Hour)
	require.NoError(t, err)

	raw, err := tokens.Issue(42)
	require.NoError(t, err)

	uid, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), uid)
}

func TestParse_Rejects(t *testing.T) {
	tokens, err := NewTokens("secret", time.Hour)
	require.NoError(t, err)

	other, err := NewTokens("other-secret", time.Hour)
	require.NoError(t, err)
	forged, err := other.Issue(42)
	require.NoError(t, err)

	_, err = tokens.Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// expired
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := tokens.Issue(42)
	require.NoError(t, err)
	tokens.now = time.Now
	_, err = tokens.Parse(stale)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// wrong algorithm
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "42", Issuer: issuer})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokens_RequiresSecret(t *testing.T) {
	_, err := NewTokens("", time.Hour)
	assert.Error(t, err)
}
