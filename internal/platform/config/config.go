package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultEnvFile = ".env"

// Server and database defaults.
const (
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultDatabaseMaxConns     = 10
	defaultDatabaseMinConns     = 2
	defaultDatabaseConnLifetime = 30 * time.Minute
	defaultDatabaseConnIdle     = 5 * time.Minute
	defaultDatabaseDialTimeout  = 10 * time.Second
)

// Token, messaging, and pricing defaults.
const (
	defaultAuthTokenTTL     = 24 * time.Hour
	defaultAuthIssuer       = "irony-laundry"
	defaultAuthAudience     = "irony-laundry-api"
	defaultOrderEventsTopic = "order-events"
	defaultTaxRate          = "0.10"
	defaultDeliveryFee      = "5.00"
	defaultRateLimitDefault = 120
	defaultRateLimitAuth    = 240
	defaultRateLimitPublic  = 60
)

// Service-to-service security and idempotency defaults.
const (
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	PubSub      PubSubConfig
	Pricing     PricingConfig
	RateLimits  RateLimitConfig
	Features    FeatureFlags
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig sets the listen port and HTTP timeouts.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig stores PostgreSQL connection parameters.
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
	MigrateOnStart  bool
}

// AuthConfig governs bearer-token issuing and verification.
type AuthConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
	Issuer      string
	Audience    string
}

// PubSubConfig identifies the project and topics used for event publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EmulatorHost     string
}

// PricingConfig holds the order pricing knobs.
type PricingConfig struct {
	TaxRate     decimal.Decimal
	DeliveryFee decimal.Decimal
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	PublicPerMinute        int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableOrderEvents   bool
	EnablePublicCatalog bool
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	IPHashSalt  string
	OIDC        OIDCConfig
}

// OIDCConfig describes how tokens on service-to-service calls are verified.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig tunes the replay guard on mutating endpoints.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver exchanges a secret reference for its stored value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc lets a plain function act as a SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
// Its message carries only redacted identifiers so it can be logged verbatim.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed identifiers of the missing secrets.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	return out
}

// Names returns the plain identifiers of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	return out
}

// Option customises Load behaviour.
type Option func(*loadSettings)

type loadSettings struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func applySettings(opts []Option) loadSettings {
	settings := loadSettings{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return settings
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(s *loadSettings) {
		s.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(s *loadSettings) {
		s.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(s *loadSettings) {
		s.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(s *loadSettings) {
		s.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field paths recorded by the loader
// (e.g. "Auth.TokenSecret" or "Database.URL").
func WithRequiredSecrets(names ...string) Option {
	return func(s *loadSettings) {
		s.requiredSecrets = append(s.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(s *loadSettings) {
		s.panicOnMissingSecrets = true
	}
}

// EnvironmentValues returns the effective key/value environment map after applying the same
// precedence rules as Load (dotenv < OS env < explicit env map). Callers use the result to
// initialise dependencies, such as the secret fetcher, before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	settings := applySettings(opts)

	dotenv, err := parseEnvFile(settings.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	maps.Copy(values, dotenv)
	if settings.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && key != "" {
				values[key] = value
			}
		}
	}
	maps.Copy(values, settings.envMap)
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	settings := applySettings(opts)

	dotenv, err := parseEnvFile(settings.envFile)
	if err != nil {
		return Config{}, err
	}
	env := envSource{explicit: settings.envMap, dotenv: dotenv, system: settings.useSystemEnv}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.value("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			URL:             env.value("API_DATABASE_URL", ""),
			MaxConns:        env.integer("API_DATABASE_MAX_CONNS", defaultDatabaseMaxConns),
			MinConns:        env.integer("API_DATABASE_MIN_CONNS", defaultDatabaseMinConns),
			MaxConnLifetime: env.duration("API_DATABASE_CONN_LIFETIME", defaultDatabaseConnLifetime),
			MaxConnIdleTime: env.duration("API_DATABASE_CONN_IDLE_TIME", defaultDatabaseConnIdle),
			DialTimeout:     env.duration("API_DATABASE_DIAL_TIMEOUT", defaultDatabaseDialTimeout),
			MigrateOnStart:  env.boolean("API_DATABASE_MIGRATE_ON_START", true),
		},
		Auth: AuthConfig{
			TokenSecret: env.value("API_AUTH_TOKEN_SECRET", ""),
			TokenTTL:    env.duration("API_AUTH_TOKEN_TTL", defaultAuthTokenTTL),
			Issuer:      env.value("API_AUTH_ISSUER", defaultAuthIssuer),
			Audience:    env.value("API_AUTH_AUDIENCE", defaultAuthAudience),
		},
		PubSub: PubSubConfig{
			ProjectID:        env.value("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: env.value("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			EmulatorHost:     env.value("API_PUBSUB_EMULATOR_HOST", ""),
		},
		Pricing: PricingConfig{
			TaxRate:     env.amount("API_PRICING_TAX_RATE", defaultTaxRate),
			DeliveryFee: env.amount("API_PRICING_DELIVERY_FEE", defaultDeliveryFee),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       env.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: env.integer("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			PublicPerMinute:        env.integer("API_RATELIMIT_PUBLIC_PER_MIN", defaultRateLimitPublic),
		},
		Features: FeatureFlags{
			EnableOrderEvents:   env.boolean("API_FEATURE_ORDER_EVENTS", true),
			EnablePublicCatalog: env.boolean("API_FEATURE_PUBLIC_CATALOG", true),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.value("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			IPHashSalt:  env.value("API_SECURITY_IP_HASH_SALT", ""),
			OIDC: OIDCConfig{
				JWKSURL:   env.value("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.value("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.value("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved, err := resolveSecretBindings(ctx, &cfg, settings.secret)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if missing := missingRequiredSecrets(settings.requiredSecrets, resolved); missing != nil {
		if settings.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

type secretBinding struct {
	name  string
	field *string
}

// resolveSecretBindings swaps secret references for their resolved values and
// records the effective value of every bindable field, reference or not, so
// required-secret checks also accept values supplied inline.
func resolveSecretBindings(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	bindings := []secretBinding{
		{"Database.URL", &cfg.Database.URL},
		{"Auth.TokenSecret", &cfg.Auth.TokenSecret},
		{"Security.IPHashSalt", &cfg.Security.IPHashSalt},
	}

	resolved := make(map[string]string, len(bindings))
	for _, bind := range bindings {
		if ref, ok := canonicalSecretRef(*bind.field); ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*bind.field = value
		}
		resolved[bind.name] = strings.TrimSpace(*bind.field)
	}
	return resolved, nil
}

// canonicalSecretRef reports whether value is a secret reference and rewrites
// the legacy sm:// scheme to secret://.
func canonicalSecretRef(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest, true
	}
	if strings.HasPrefix(trimmed, "secret://") {
		return trimmed, true
	}
	return "", false
}

func (cfg Config) validate() error {
	var bad []string
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(strings.TrimSpace(cfg.Database.URL) != "", "Database.URL")
	require(cfg.Database.MaxConns > 0 && cfg.Database.MaxConns >= cfg.Database.MinConns, "Database.MaxConns")
	require(strings.TrimSpace(cfg.Auth.TokenSecret) != "", "Auth.TokenSecret")
	require(cfg.Auth.TokenTTL > 0, "Auth.TokenTTL")
	require(!cfg.Pricing.TaxRate.IsNegative(), "Pricing.TaxRate")
	require(!cfg.Pricing.DeliveryFee.IsNegative(), "Pricing.DeliveryFee")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

func missingRequiredSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}

	var missing []missingSecret
	seen := make(map[string]bool, len(required))
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if resolved[name] != "" {
			continue
		}
		missing = append(missing, missingSecret{name: name, redacted: redactSecretName(name)})
	}
	if len(missing) == 0 {
		return nil
	}
	slices.SortFunc(missing, func(a, b missingSecret) int {
		return strings.Compare(a.name, b.name)
	})
	return &MissingSecretsError{secrets: missing}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// envSource looks keys up across the three configuration sources, explicit
// map first, then the process environment, then the dotenv file.
type envSource struct {
	explicit map[string]string
	dotenv   map[string]string
	system   bool
}

func (e envSource) lookup(key string) (string, bool) {
	if value, ok := e.explicit[key]; ok {
		return value, true
	}
	if e.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := e.dotenv[key]
	return value, ok
}

func (e envSource) value(key, fallback string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e envSource) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e.lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e envSource) integer(key string, fallback int) int {
	if value, ok := e.lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e envSource) boolean(key string, fallback bool) bool {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func (e envSource) amount(key, fallback string) decimal.Decimal {
	if value, ok := e.lookup(key); ok && strings.TrimSpace(value) != "" {
		if parsed, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return decimal.RequireFromString(fallback)
}

func (e envSource) list(key string) []string {
	raw, ok := e.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e envSource) pairs(key string) map[string]string {
	out := make(map[string]string)
	raw, ok := e.lookup(key)
	if !ok {
		return out
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// parseEnvFile reads KEY=VALUE lines, tolerating comments, blank lines,
// "export " prefixes, and single or double quoting. A missing file is not an
// error.
func parseEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "export "); ok {
			line = strings.TrimSpace(rest)
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
