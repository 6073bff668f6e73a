package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	SetJWTSecret("test-secret", "impactlink-auth")
	defer SetJWTSecret("your-secret-key-change-in-production", "")

	org := uuid.New()
	token, err := GenerateJWT(JWTClaims{
		UserID:         uuid.NewString(),
		Role:           "organization",
		OrganizationID: org.String(),
	}, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "organization", claims.Role)
	assert.Equal(t, "impactlink-auth", claims.Issuer)

	got, ok := claims.OrganizationUUID()
	require.True(t, ok)
	assert.Equal(t, org, got)
	_, ok = claims.CompanyUUID()
	assert.False(t, ok)
}

func TestValidateJWTRejects(t *testing.T) {
	SetJWTSecret("test-secret", "")
	defer SetJWTSecret("your-secret-key-change-in-production", "")

	expired, err := GenerateJWT(JWTClaims{UserID: uuid.NewString(), Role: "admin"}, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(expired)
	assert.Error(t, err)

	noUser, err := GenerateJWT(JWTClaims{Role: "admin"}, time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(noUser)
	assert.Error(t, err)

	valid, err := GenerateJWT(JWTClaims{UserID: uuid.NewString(), Role: "admin"}, time.Hour)
	require.NoError(t, err)
	SetJWTSecret("other-secret", "")
	_, err = ValidateJWT(valid)
	assert.Error(t, err)
}

func TestValidateVar(t *testing.T) {
	assert.NoError(t, ValidateVar("https://www.instagram.com/p/x", "required,http_url"))
	assert.Error(t, ValidateVar("instagram post", "required,http_url"))
	assert.Error(t, ValidateVar("", "required,http_url"))

	assert.NoError(t, ValidateVar("acct_1NxYz2AbCdEf", "connected_account"))
	assert.Error(t, ValidateVar("ba_123", "connected_account"))
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	assert.True(t, strings.HasPrefix(a, "req_"))
	assert.Len(t, a, 20)
	assert.NotEqual(t, a, b)
}

func TestHashBytes(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashBytes(nil))
}
