package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/secureqr/secureqr/internal/config"
)

// ScopeAdmin is the only scope the API checks.
const ScopeAdmin = "admin"

var (
	// ErrAdminDisabled means no admin secret is configured.
	ErrAdminDisabled = errors.New("admin tokens are not configured")
	// ErrInvalidToken covers bad signatures, expiry, wrong issuer and missing scope.
	ErrInvalidToken = errors.New("invalid admin token")
)

// TokenService mints and validates HS256 admin bearer tokens.
type TokenService struct {
	cfg    config.AdminConfig
	secret []byte
	now    func() time.Time
}

// TokenClaims represents the claims in an admin token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// NewTokenService creates a new TokenService. An empty secret yields a
// service whose every call fails with ErrAdminDisabled.
func NewTokenService(cfg config.AdminConfig) *TokenService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &TokenService{cfg: cfg, secret: []byte(cfg.JWTSecret), now: time.Now}
}

// Enabled reports whether admin tokens can be issued and checked.
func (s *TokenService) Enabled() bool { return len(s.secret) > 0 }

// Issue mints an admin token for subject. ttl <= 0 uses the configured TTL.
func (s *TokenService) Issue(subject string, ttl time.Duration) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, ErrAdminDisabled
	}
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}
	now := s.now()
	expiry := now.Add(ttl)

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			ID:        uuid.New().String(),
		},
		Scope: ScopeAdmin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, expiry, nil
}

// Validate parses an admin token and returns its claims.
func (s *TokenService) Validate(tokenString string) (*TokenClaims, error) {
	if !s.Enabled() {
		return nil, ErrAdminDisabled
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Scope != ScopeAdmin {
		return nil, fmt.Errorf("%w: missing admin scope", ErrInvalidToken)
	}
	return claims, nil
}
