package identitysync

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ServiceClaims identify the engine itself to the identity service when no
// caller token is available, as on the operator review path.
type ServiceClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

const syncScope = "accounts:verification-status:write"

// ServiceTokens mints short-lived HS256 service tokens.
type ServiceTokens struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

func NewServiceTokens(signingKey, issuer, audience string, ttl time.Duration) *ServiceTokens {
	return &ServiceTokens{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Mint returns a signed token scoped to verification-status writes.
func (s *ServiceTokens) Mint() (string, error) {
	if len(s.signingKey) == 0 {
		return "", errors.New("service token signing key not configured")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ServiceClaims{
		Scope: syncScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.issuer,
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Parse validates a token minted by Mint. The identity service does the same
// check; tests use it to assert what was sent.
func (s *ServiceTokens) Parse(tokenString string) (*ServiceClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithAudience(s.audience), jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*ServiceClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid service token claims")
	}
	return claims, nil
}
