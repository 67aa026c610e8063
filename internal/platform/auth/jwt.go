package auth

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const defaultTokenTTL = 24 * time.Hour

// Token carries the decoded claims of a verified bearer token.
type Token struct {
	UID       string
	Claims    map[string]any
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenVerifier verifies raw bearer tokens presented by clients.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (*Token, error)
}

// JWTManager signs and verifies HS256 session tokens for first-party clients.
type JWTManager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// JWTOption customises JWTManager behaviour.
type JWTOption func(*JWTManager)

// WithJWTTTL overrides the lifetime applied to issued tokens.
func WithJWTTTL(ttl time.Duration) JWTOption {
	return func(m *JWTManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithJWTClock injects a custom clock (primarily for testing).
func WithJWTClock(now func() time.Time) JWTOption {
	return func(m *JWTManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewJWTManager constructs a JWTManager with the supplied signing secret.
func NewJWTManager(secret, issuer, audience string, opts ...JWTOption) (*JWTManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt signing secret is required")
	}

	manager := &JWTManager{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		ttl:      defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager, nil
}

// Issue mints a signed token for the subject including role and locale claims.
func (m *JWTManager) Issue(subject, email, role, locale string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: token subject is required")
	}

	now := m.now().UTC()
	expires := now.Add(m.ttl)

	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": expires.Unix(),
	}
	if m.issuer != "" {
		claims["iss"] = m.issuer
	}
	if m.audience != "" {
		claims["aud"] = m.audience
	}
	if email = strings.TrimSpace(email); email != "" {
		claims["email"] = email
	}
	if role = normaliseRole(role); role != "" {
		claims["role"] = role
	}
	if locale = strings.TrimSpace(locale); locale != "" {
		claims["locale"] = locale
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires, nil
}

// VerifyToken implements TokenVerifier for HS256-signed session tokens.
func (m *JWTManager) VerifyToken(_ context.Context, raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if m.issuer != "" {
		if issuer, _ := claims["iss"].(string); issuer != m.issuer {
			return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
		}
	}
	if m.audience != "" && !slices.Contains(audiences(claims), m.audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}

	token := &Token{
		UID:    subject,
		Claims: maps.Clone(claims),
	}
	if issuedAt, ok := numericClaim(claims, "iat"); ok {
		token.IssuedAt = issuedAt
	}
	if expiresAt, ok := numericClaim(claims, "exp"); ok {
		token.ExpiresAt = expiresAt
	}
	return token, nil
}

func numericClaim(claims jwt.MapClaims, key string) (time.Time, bool) {
	raw, ok := claims[key]
	if !ok {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case int64:
		return time.Unix(v, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}
