package identity

import (
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/gocalceum/calc/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, claims tokenClaims, secret string) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)},
		(&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)
	return token
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier(testSecret, "https://auth.calceum.com")
	token := signToken(t, tokenClaims{
		Claims: jwt.Claims{
			Subject: "user-123",
			Issuer:  "https://auth.calceum.com",
			Expiry:  jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "jo@example.com",
	}, testSecret)

	principal, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-123", principal.UserID)
	require.Equal(t, "jo@example.com", principal.Email)
}

func TestVerify_WrongSecret(t *testing.T) {
	v := NewVerifier(testSecret, "")
	token := signToken(t, tokenClaims{
		Claims: jwt.Claims{Subject: "user-123", Expiry: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, "another-secret-another-secret-yes")

	_, err := v.Verify(token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestVerify_Expired(t *testing.T) {
	v := NewVerifier(testSecret, "")
	token := signToken(t, tokenClaims{
		Claims: jwt.Claims{Subject: "user-123", Expiry: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	}, testSecret)

	_, err := v.Verify(token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestVerify_WrongIssuer(t *testing.T) {
	v := NewVerifier(testSecret, "https://auth.calceum.com")
	token := signToken(t, tokenClaims{
		Claims: jwt.Claims{
			Subject: "user-123",
			Issuer:  "https://evil.example.com",
			Expiry:  jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	_, err := v.Verify(token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestVerify_MissingSubject(t *testing.T) {
	v := NewVerifier(testSecret, "")
	token := signToken(t, tokenClaims{
		Claims: jwt.Claims{Expiry: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, testSecret)

	_, err := v.Verify(token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestVerify_Garbage(t *testing.T) {
	v := NewVerifier(testSecret, "")
	_, err := v.Verify("not-a-jwt")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}
