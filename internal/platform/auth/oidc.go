package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrJWKSKeyNotFound means the key set was fetched but holds no key with the requested id.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed marks transport and decoding failures during a key set refresh.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// Logger is the minimal logging contract the auth package depends on.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder receives the outcome of every token verification.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

const (
	jwksDefaultValidity = 15 * time.Minute
	jwksFetchTimeout    = 5 * time.Second
)

// JWKSCache fetches the signing keys of an OIDC provider on demand and
// keeps them for as long as the provider's cache headers allow. Once a
// document passes half its lifetime the next lookup refreshes it in the
// background so verification latency stays flat across rotations.
type JWKSCache struct {
	url    string
	client *http.Client
	logger Logger
	now    func() time.Time

	fallbackValidity time.Duration
	fetchTimeout     time.Duration
	background       bool

	mu         sync.RWMutex
	keys       map[string]any
	staleAt    time.Time
	prefetchAt time.Time

	fetchMu    sync.Mutex
	refreshing atomic.Bool
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// NewJWKSCache constructs a JWKS cache for the provided URL.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:              url,
		client:           &http.Client{Timeout: 10 * time.Second},
		now:              time.Now,
		fallbackValidity: jwksDefaultValidity,
		fetchTimeout:     jwksFetchTimeout,
		background:       true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// WithJWKSHTTPClient swaps out the default ten second client for key set fetches.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger sets the logger for JWKS refresh events.
func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		c.logger = logger
	}
}

// WithJWKSRefreshInterval sets the document lifetime assumed when the
// provider sends no cache headers.
func WithJWKSRefreshInterval(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.fallbackValidity = d
		}
	}
}

// WithJWKSRefreshTimeout caps the duration of a single JWKS fetch.
func WithJWKSRefreshTimeout(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithJWKSClock injects a custom time source for tests.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithoutJWKSBackgroundRefresh disables the half-life background refresh.
func WithoutJWKSBackgroundRefresh() JWKSOption {
	return func(c *JWKSCache) {
		c.background = false
	}
}

// Keyfunc adapts the cache to the jwt parser. Only RS256 is accepted.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	if ctx == nil {
		ctx = context.Background()
	}
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key resolves the public key for the given kid, refreshing the document
// when it is stale or the kid is unknown.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := c.now()
	if c.stale(now) {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}

	if key, ok := c.lookup(kid); ok {
		if c.duePrefetch(now) {
			c.refreshInBackground()
		}
		return key, nil
	}

	// An unknown kid usually means the provider rotated keys.
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) lookup(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok
}

func (c *JWKSCache) stale(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.keys) == 0 {
		return true
	}
	return !c.staleAt.IsZero() && !now.Before(c.staleAt)
}

func (c *JWKSCache) duePrefetch(now time.Time) bool {
	if !c.background {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.prefetchAt.IsZero() || now.After(c.staleAt) {
		return false
	}
	return !now.Before(c.prefetchAt)
}

func (c *JWKSCache) refreshInBackground() {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		if err := c.refresh(context.Background()); err != nil && c.logger != nil {
			c.logger.Printf("auth: background jwks refresh failed: %v", err)
		}
	}()
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: provider answered %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var doc jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.KeyID == "" || !jwk.Valid() {
			continue
		}
		keys[jwk.KeyID] = jwk.Key
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := c.documentValidity(resp.Header)
	now := c.now()

	c.mu.Lock()
	c.keys = keys
	c.staleAt = now.Add(validity)
	c.prefetchAt = now.Add(validity / 2)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("auth: refreshed jwks (%d keys, valid for %s)", len(keys), validity)
	}
	return nil
}

func (c *JWKSCache) documentValidity(h http.Header) time.Duration {
	if secs := maxAgeSeconds(h.Get("Cache-Control")); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if raw := h.Get("Expires"); raw != "" {
		if ts, err := http.ParseTime(raw); err == nil {
			if d := ts.Sub(c.now()); d > 0 {
				return d
			}
		}
	}
	return c.fallbackValidity
}

func maxAgeSeconds(cacheControl string) int {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		if !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}
		if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs > 0 {
			return secs
		}
	}
	return 0
}

// ServiceIdentity describes the service principal behind a verified OIDC token.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string

	Token  *jwt.Token
	Claims map[string]any
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// OIDCValidator verifies Google-signed OIDC and IAP tokens against a JWKS cache.
type OIDCValidator struct {
	cache   *JWKSCache
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// OIDCOption adjusts optional validator collaborators.
type OIDCOption func(*OIDCValidator)

// NewOIDCValidator constructs an OIDCValidator backed by the given cache.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	validator := &OIDCValidator{
		cache: cache,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithOIDCLogger sets the validator logger.
func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		v.logger = logger
	}
}

// WithOIDCMetrics streams verification outcomes into the given recorder.
func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) {
		v.metrics = recorder
	}
}

// WithOIDCClock injects a custom clock for tests.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// oidcRejection pairs the HTTP response with the metric reason label.
type oidcRejection struct {
	status  int
	code    string
	message string
	reason  string
}

// RequireOIDC returns middleware that admits only requests carrying a valid
// token for the given audience, signed by one of the allowed issuers.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	expectedAudience := strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			identity, reject := v.verify(ctx, r, expectedAudience, allowedIssuers)
			if reject != nil {
				v.record(ctx, false, reject.reason, start)
				writeAuthError(ctx, w, reject.status, reject.code, reject.message)
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) verify(ctx context.Context, r *http.Request, expectedAudience string, allowedIssuers map[string]struct{}) (*ServiceIdentity, *oidcRejection) {
	if expectedAudience == "" {
		return nil, &oidcRejection{http.StatusServiceUnavailable, "verification_unavailable", "oidc audience not configured", "audience_not_configured"}
	}

	tokenStr := bearerOrAssertion(r)
	if tokenStr == "" {
		return nil, &oidcRejection{http.StatusUnauthorized, "unauthenticated", "oidc token missing", "token_missing"}
	}

	if v.cache == nil {
		return nil, &oidcRejection{http.StatusServiceUnavailable, "verification_unavailable", "oidc verification unavailable", "cache_unavailable"}
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx))
	if err != nil {
		reject := &oidcRejection{http.StatusUnauthorized, "invalid_token", "oidc token verification failed", "token_invalid"}
		if errors.Is(err, ErrJWKSFetchFailed) {
			reject.status = http.StatusServiceUnavailable
			reject.reason = "jwks_unavailable"
		}
		if v.logger != nil {
			v.logger.Printf("auth: oidc verification failed (%s): %v", reject.reason, err)
		}
		return nil, reject
	}

	issuer, _ := claims["iss"].(string)
	if len(allowedIssuers) > 0 {
		if _, ok := allowedIssuers[issuer]; !ok {
			if v.logger != nil {
				v.logger.Printf("auth: oidc issuer %q not allowed", issuer)
			}
			return nil, &oidcRejection{http.StatusUnauthorized, "invalid_token", "oidc issuer mismatch", "issuer_mismatch"}
		}
	}

	if !slices.Contains(audiences(claims), expectedAudience) {
		if v.logger != nil {
			v.logger.Printf("auth: oidc audience mismatch, expected %q", expectedAudience)
		}
		return nil, &oidcRejection{http.StatusUnauthorized, "invalid_token", "oidc audience mismatch", "audience_mismatch"}
	}

	email, _ := claims["email"].(string)
	subject, _ := claims["sub"].(string)

	return &ServiceIdentity{
		Subject:  subject,
		Email:    email,
		Issuer:   issuer,
		Audience: expectedAudience,
		Token:    parsed,
		Claims:   maps.Clone(claims),
	}, nil
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
}

// bearerOrAssertion pulls the token from the Authorization header, or from
// the assertion header IAP sets when it strips Authorization.
func bearerOrAssertion(r *http.Request) string {
	if bearer, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return bearer
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}

func audiences(claims jwt.MapClaims) []string {
	switch v := claims["aud"].(type) {
	case string:
		return []string{strings.TrimSpace(v)}
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				if str = strings.TrimSpace(str); str != "" {
					out = append(out, str)
				}
			}
		}
		return out
	}
	return nil
}
