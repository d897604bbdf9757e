package authtoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yanqian/pagedigest/pkg/errors"
)

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier("s3cret", "pagedigest")
	require.NoError(t, err)

	token, err := v.Issue("extension-1", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "extension-1", claims.Subject)
	require.NotEmpty(t, claims.TokenID)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier("s3cret", "pagedigest")
	require.NoError(t, err)
	other, err := NewVerifier("other", "pagedigest")
	require.NoError(t, err)
	foreign, err := NewVerifier("s3cret", "someone-else")
	require.NoError(t, err)

	expired, err := v.Issue("u", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := other.Issue("u", time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := foreign.Issue("u", time.Hour)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u", Issuer: "pagedigest"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u",
		Issuer:    "pagedigest",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no expiry":    noExpiry,
		"alg none":     none,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.Error(t, err)
			require.True(t, apperrors.IsCode(err, CodeInvalidToken))
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(" ", "")
	require.Error(t, err)
}
