// Package secrets resolves secret:// references against Google Secret
// Manager, with an in-process cache and a plain-file fallback so the
// service still boots on workstations without cloud credentials.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackFile = ".secrets.local"
	meterName           = "github.com/MustafaPinjari/Ironydjango/internal/platform/secrets"
)

// smClient is the slice of the Secret Manager API the fetcher touches.
type smClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// newSMClient is swapped out in tests that exercise the no-credentials path.
var newSMClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves secret:// references. Lookups hit the cache first,
// then Secret Manager, then the local fallback file when the remote
// call is denied or unreachable.
type Fetcher struct {
	client      smClient
	closeClient bool
	logger      *zap.Logger

	env           string
	project       string
	projectsByEnv map[string]string
	pins          map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu      sync.RWMutex
	cache   map[string]cacheEntry
	nextSub int
	subs    map[string]map[int]chan struct{}

	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

type cacheEntry struct {
	value     string
	canonical string
}

type settings struct {
	logger        *zap.Logger
	env           string
	project       string
	projectsByEnv map[string]string
	pins          map[string]string
	fallbackPath  string
	client        smClient
	clientOpts    []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*settings)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithEnvironment selects the environment key used when looking up
// per-environment project IDs and version pins.
func WithEnvironment(env string) Option {
	return func(s *settings) {
		if v := strings.ToLower(strings.TrimSpace(env)); v != "" {
			s.env = v
		}
	}
}

// WithDefaultProject sets the project ID used when neither the reference
// nor the environment map names one.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) {
		s.project = strings.TrimSpace(projectID)
	}
}

// WithProjectMap supplies per-environment project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) {
		s.projectsByEnv = maps.Clone(m)
	}
}

// WithFallbackFile overrides the path of the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(s *settings) {
		s.fallbackPath = strings.TrimSpace(path)
	}
}

// WithVersionPins sets version overrides keyed by canonical reference,
// optionally prefixed "env:" to scope a pin to one environment.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) {
		s.pins = maps.Clone(pins)
	}
}

// WithSecretManagerClient injects a preconfigured client, primarily for tests.
func WithSecretManagerClient(client smClient) Option {
	return func(s *settings) {
		s.client = client
	}
}

// WithClientOptions forwards Cloud client options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A failure to construct the Secret Manager
// client is not fatal; the fetcher then serves from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := settings{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackFile,
	}
	if env := strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))); env != "" {
		cfg.env = env
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	latency, hits := newInstruments(otel.Meter(meterName), cfg.logger)

	f := &Fetcher{
		logger:        cfg.logger,
		env:           cfg.env,
		project:       cfg.project,
		projectsByEnv: cfg.projectsByEnv,
		pins:          cfg.pins,
		fallbackPath:  cfg.fallbackPath,
		cache:         make(map[string]cacheEntry),
		subs:          make(map[string]map[int]chan struct{}),
		latency:       latency,
		hits:          hits,
	}

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}

	client, err := newSMClient(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager unavailable, serving from fallback file only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.closeClient = true
	return f, nil
}

// Close wakes all subscribers and releases the Secret Manager client.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	for canonical, chans := range f.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(f.subs, canonical)
	}
	f.mu.Unlock()

	if f.closeClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value the reference points at.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	version := f.pinnedVersion(parsed)
	key := parsed.cacheKey(version)

	if value, ok := f.cached(key); ok {
		f.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", hashLabel(parsed.canonical))))
		f.observe(ctx, start, "cache", nil)
		return value, nil
	}

	if project := f.projectFor(parsed); project != "" && f.client != nil {
		value, fetchErr := f.fetch(ctx, project, parsed.name, version)
		switch {
		case fetchErr == nil:
			f.remember(key, parsed.canonical, value)
			f.observe(ctx, start, "remote", nil)
			return value, nil
		case !eligibleForFallback(fetchErr):
			f.observe(ctx, start, "error", fetchErr)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.canonical, fetchErr)
		}
		f.logger.Debug("secrets: falling back to local file",
			zap.String("ref", parsed.canonical), zap.Error(fetchErr))
	}

	value, ok := f.fromFallback(parsed, version)
	if !ok {
		err := fmt.Errorf("secrets: no value available for %s", parsed.canonical)
		f.observe(ctx, start, "error", err)
		return "", err
	}
	f.remember(key, parsed.canonical, value)
	f.observe(ctx, start, "fallback", nil)
	return value, nil
}

// Invalidate drops every cached version of the reference and pokes its
// subscribers. Sends happen under the lock so they cannot race Close.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseRef(ref)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.canonical == parsed.canonical {
			delete(f.cache, key)
		}
	}
	for _, ch := range f.subs[parsed.canonical] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers for invalidation notifications on the reference.
// The returned cancel func detaches the channel; Close closes it.
func (f *Fetcher) Subscribe(ref string) (<-chan struct{}, func()) {
	parsed, err := parseRef(ref)
	if err != nil {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}

	ch := make(chan struct{}, 1)

	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	if f.subs[parsed.canonical] == nil {
		f.subs[parsed.canonical] = make(map[int]chan struct{})
	}
	f.subs[parsed.canonical][id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if chans := f.subs[parsed.canonical]; chans != nil {
			delete(chans, id)
			if len(chans) == 0 {
				delete(f.subs, parsed.canonical)
			}
		}
	}
	return ch, cancel
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.value, ok
}

func (f *Fetcher) remember(key, canonical, value string) {
	f.mu.Lock()
	f.cache[key] = cacheEntry{value: value, canonical: canonical}
	f.mu.Unlock()
}

func (f *Fetcher) fetch(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projectsByEnv[f.env]); id != "" {
		return id
	}
	return strings.TrimSpace(f.project)
}

func (f *Fetcher) pinnedVersion(ref secretRef) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := strings.TrimSpace(f.pins[key]); pin != "" {
			return pin
		}
	}
	return "latest"
}

func (f *Fetcher) fromFallback(ref secretRef, version string) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)

	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallbackVals[ref.cacheKey(version)]; ok {
		return value, true
	}
	value, ok := f.fallbackVals[ref.canonical]
	return value, ok
}

func (f *Fetcher) loadFallback() {
	f.fallbackVals = map[string]string{}

	path := strings.TrimSpace(f.fallbackPath)
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: open %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	values, err := parseFallback(file)
	if err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read %s: %w", path, err)
		return
	}
	f.fallbackVals = values
}

// parseFallback reads key=value lines. Keys may be bare names, secret://
// references, or sm:// shorthand; blank lines and #-comments are skipped.
func parseFallback(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if rest, found := strings.CutPrefix(key, "sm://"); found {
			key = "secret://" + rest
		}
		ref, err := parseRef(key)
		if err != nil {
			values[key] = value
			continue
		}
		version := ref.version
		if version == "" {
			version = "latest"
		}
		values[ref.canonical] = value
		values[ref.cacheKey(version)] = value
	}
	return values, scanner.Err()
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string, err error) {
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func newInstruments(meter metric.Meter, logger *zap.Logger) (metric.Float64Histogram, metric.Int64Counter) {
	latency, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	)
	if err != nil {
		logger.Warn("secrets: latency instrument unavailable", zap.Error(err))
		latency, _ = noop.NewMeterProvider().Meter(meterName).Float64Histogram("secrets.fetch.latency")
	}

	hits, err := meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Cache hits while resolving secret references"),
	)
	if err != nil {
		logger.Warn("secrets: cache hit instrument unavailable", zap.Error(err))
		hits, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter("secrets.fetch.cache_hits")
	}
	return latency, hits
}

type secretRef struct {
	canonical string
	name      string
	version   string
	project   string
}

func (r secretRef) cacheKey(version string) string {
	return r.canonical + "#" + version
}

// parseRef accepts secret://name[?version=N][&project=ID]. The canonical
// form strips query and fragment so all versions share one identity.
func parseRef(raw string) (secretRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	bare := *u
	bare.RawQuery = ""
	bare.Fragment = ""

	query := u.Query()
	return secretRef{
		canonical: bare.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// hashLabel keeps raw secret names out of metric labels.
func hashLabel(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

func eligibleForFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
