package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MustafaPinjari/Ironydjango/internal/platform/httpx"
)

var (
	// ErrTokenExpired signals that the presented bearer token has expired.
	ErrTokenExpired = errors.New("auth: bearer token expired")
	// ErrTokenInvalid signals that the presented bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: bearer token invalid")
)

// ClaimNames selects which token claims feed the identity fields.
type ClaimNames struct {
	Role   string
	Email  string
	Locale string
}

var defaultClaimNames = ClaimNames{Role: "role", Email: "email", Locale: "locale"}

// Authenticator turns bearer-token verification into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier

	claims       ClaimNames
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithClaimNames overrides the claims inspected for role, email, and
// locale. Empty fields keep their defaults.
func WithClaimNames(names ClaimNames) Option {
	return func(a *Authenticator) {
		if v := strings.TrimSpace(names.Role); v != "" {
			a.claims.Role = v
		}
		if v := strings.TrimSpace(names.Email); v != "" {
			a.claims.Email = v
		}
		if v := strings.TrimSpace(names.Locale); v != "" {
			a.claims.Locale = v
		}
	}
}

// WithFallbackRole sets the role granted when the token carries none.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if v := normaliseRole(role); v != "" {
			a.fallbackRole = v
		}
	}
}

// WithVerificationTimeout caps the time spent verifying a single token.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator around the verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		claims:       defaultClaimNames,
		fallbackRole: RoleCustomer,
		timeout:      5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth verifies the Authorization bearer token and, when roles are
// given, admits only identities holding at least one of them.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqCtx := r.Context()

			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(reqCtx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a.verifier == nil {
				writeAuthError(reqCtx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			verifyCtx := reqCtx
			if a.timeout > 0 {
				var cancel context.CancelFunc
				verifyCtx, cancel = context.WithTimeout(reqCtx, a.timeout)
				defer cancel()
			}

			token, err := a.verifier.VerifyToken(verifyCtx, tokenStr)
			if err != nil {
				writeVerifyError(reqCtx, w, err)
				return
			}

			identity := a.identityFromToken(token)
			if len(identity.Roles) == 0 {
				writeAuthError(reqCtx, w, http.StatusUnauthorized, "missing_role", "no roles associated with identity")
				return
			}
			if len(allowed) > 0 && !holdsAllowedRole(identity.Roles, allowed) {
				writeAuthError(reqCtx, w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(reqCtx, identity)))
		})
	}
}

func (a *Authenticator) identityFromToken(token *Token) *Identity {
	identity := &Identity{
		UserID: token.UID,
		Email:  stringClaim(token.Claims, a.claims.Email, defaultClaimNames.Email),
		Locale: stringClaim(token.Claims, a.claims.Locale, defaultClaimNames.Locale),
		Roles:  rolesFromClaim(token.Claims, a.claims.Role),
		claims: token.Claims,
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}
	return identity
}

func holdsAllowedRole(roles []string, allowed map[string]struct{}) bool {
	for _, role := range roles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

// rolesFromClaim accepts the claim as a single string, a list, or a
// role-to-flag map, and returns the normalised deduplicated set.
func rolesFromClaim(claims map[string]any, key string) []string {
	var candidates []string
	switch v := claims[key].(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for name, flag := range v {
			if on, ok := flag.(bool); ok && on {
				candidates = append(candidates, name)
			}
		}
	}

	var roles []string
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		role := normaliseRole(candidate)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles
}

// stringClaim returns the first non-empty string value among the keys.
func stringClaim(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := claims[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func writeVerifyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		writeAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "bearer token expired")
	case errors.Is(err, ErrTokenInvalid):
		writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "bearer token invalid")
	default:
		writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "bearer token verification failed")
	}
}
