// Package session reads the chat session cookie. Credential checks and
// signup live in the external auth service; this package only verifies the
// signed token that service leaves in the cookie.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim on session tokens.
const Issuer = "pulsechat"

// DefaultCookieName matches the cookie set by the auth service.
const DefaultCookieName = "jwt"

// DefaultTTL is the session lifetime used by Issue.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrNoSession means the request carried no session cookie.
	ErrNoSession = errors.New("no session cookie")
	// ErrInvalidToken means the cookie was present but did not verify.
	ErrInvalidToken = errors.New("invalid session token")
)

// Claims holds the JWT payload of a session.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	Username string `json:"usr,omitempty"`
}

// TokenService signs and verifies HS256 session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. A non-positive ttl uses DefaultTTL.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenService{secret: secret, ttl: ttl}
}

// TTL returns the session lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a session token for userID.
func (s *TokenService) Issue(userID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    Issuer,
		},
		UserID:   userID,
		Username: username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a session token.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
