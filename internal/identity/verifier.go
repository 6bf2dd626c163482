package identity

import (
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/gocalceum/calc/internal/domain"
)

// Principal is the authenticated caller extracted from a bearer token.
type Principal struct {
	UserID string
	Email  string
}

// Verifier validates bearer tokens issued by the identity provider. Tokens
// are HS256-signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier constructs a Verifier.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	jwt.Claims
	Email string `json:"email,omitempty"`
}

// Verify parses and validates the token, returning the caller's identity.
func (v *Verifier) Verify(token string) (Principal, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: malformed token", domain.ErrUnauthenticated)
	}

	var claims tokenClaims
	if err := parsed.Claims(v.secret, &claims); err != nil {
		return Principal{}, fmt.Errorf("%w: invalid signature", domain.ErrUnauthenticated)
	}

	expected := jwt.Expected{Time: time.Now()}
	if v.issuer != "" {
		expected.Issuer = v.issuer
	}
	if err := claims.Validate(expected); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", domain.ErrUnauthenticated)
	}

	return Principal{UserID: claims.Subject, Email: claims.Email}, nil
}
