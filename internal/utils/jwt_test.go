package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateJWTToken(t *testing.T) {
	token, err := GenerateJWTToken("doc-sync", "client-1", time.Hour, "sign-key")
	require.NoError(t, err)
	require.NotEmpty(t, token.SignedString)
	assert.Equal(t, "client-1", token.ClientID)

	parsed, err := ValidateAndParseJWTToken(token.SignedString, "sign-key", "doc-sync")
	require.NoError(t, err)
	assert.Equal(t, "client-1", parsed.ClientID)
}

func TestValidateJWTTokenFailures(t *testing.T) {
	token, err := GenerateJWTToken("doc-sync", "client-1", time.Hour, "sign-key")
	require.NoError(t, err)

	_, err = ValidateAndParseJWTToken(token.SignedString, "wrong-key", "doc-sync")
	assert.Error(t, err, "wrong signing key")

	_, err = ValidateAndParseJWTToken(token.SignedString, "sign-key", "someone-else")
	assert.Error(t, err, "wrong issuer")

	expired, err := GenerateJWTToken("doc-sync", "client-1", -time.Minute, "sign-key")
	require.NoError(t, err)
	_, err = ValidateAndParseJWTToken(expired.SignedString, "sign-key", "doc-sync")
	assert.Error(t, err, "expired token")
}

func TestGenerateJWTTokenInvalidParams(t *testing.T) {
	_, err := GenerateJWTToken("", "client-1", time.Hour, "sign-key")
	assert.Error(t, err)
	_, err = GenerateJWTToken("doc-sync", "", time.Hour, "sign-key")
	assert.Error(t, err)
	_, err = GenerateJWTToken("doc-sync", "client-1", 0, "sign-key")
	assert.Error(t, err)
	_, err = GenerateJWTToken("doc-sync", "client-1", time.Hour, "")
	assert.Error(t, err)
}

func TestParseBearerToken(t *testing.T) {
	token, err := ParseBearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	_, err = ParseBearerToken("abc.def.ghi")
	assert.Error(t, err)
	_, err = ParseBearerToken("Bearer ")
	assert.Error(t, err)
}
