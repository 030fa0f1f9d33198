package control

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const serviceSubject = "bot-service"

// ServiceClaims identify this process to the control plane.
type ServiceClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenSource mints short-lived HS256 tokens for the websocket handshake.
type TokenSource struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenSource(secret string, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TokenSource{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *TokenSource) Mint() (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("control secret is empty")
	}
	now := s.now()
	claims := ServiceClaims{
		Role: "service",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Subject:   serviceSubject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a token minted with the same secret.
func (s *TokenSource) Verify(raw string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if !tok.Valid || claims.Subject != serviceSubject {
		return nil, errors.New("invalid service token")
	}
	return claims, nil
}
