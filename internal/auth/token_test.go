package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	token, err := IssueAdminToken("s3cret", "msmeconnect", "ops@msme", time.Minute)
	require.NoError(t, err)

	claims, err := ParseAdminToken("s3cret", "msmeconnect", token)
	require.NoError(t, err)
	assert.Equal(t, "ops@msme", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestParse_Rejects(t *testing.T) {
	good, err := IssueAdminToken("s3cret", "msmeconnect", "ops", time.Minute)
	require.NoError(t, err)

	_, err = ParseAdminToken("other", "msmeconnect", good)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = ParseAdminToken("s3cret", "someone-else", good)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	expired, err := IssueAdminToken("s3cret", "msmeconnect", "ops", -time.Minute)
	require.NoError(t, err)
	_, err = ParseAdminToken("s3cret", "msmeconnect", expired)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	userToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: "merchant",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "msmeconnect",
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseAdminToken("s3cret", "msmeconnect", userToken)
	assert.ErrorIs(t, err, ErrNotAdmin)

	_, err = ParseAdminToken("s3cret", "msmeconnect", "not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
