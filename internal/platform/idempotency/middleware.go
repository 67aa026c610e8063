package idempotency

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MustafaPinjari/Ironydjango/internal/platform/auth"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger is the printf-shaped logging contract the middleware accepts.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]bool
	clock      func() time.Time
	logger     Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long completed records stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts which HTTP methods the middleware guards.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if len(methods) == 0 {
			return
		}
		cfg.methods = make(map[string]bool, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				cfg.methods[method] = true
			}
		}
	}
}

// WithLogger injects a logger for store failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

func newMiddlewareConfig(opts []MiddlewareOption) middlewareConfig {
	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods:    mutatingMethods(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}
	if len(cfg.methods) == 0 {
		cfg.methods = mutatingMethods()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	return cfg
}

func mutatingMethods() map[string]bool {
	return map[string]bool{
		http.MethodPost:   true,
		http.MethodPut:    true,
		http.MethodPatch:  true,
		http.MethodDelete: true,
	}
}

// Middleware enforces idempotency on mutating requests. Requests without the
// key header are rejected; a repeated key with the same fingerprint replays
// the stored response; the same key with a different fingerprint conflicts.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := newMiddlewareConfig(opts)
	return func(next http.Handler) http.Handler {
		return &keyGuard{store: store, cfg: cfg, next: next}
	}
}

// keyGuard is the handler wrapper produced by Middleware. One instance is
// shared by all requests passing through a route, so it holds no per-request
// state.
type keyGuard struct {
	store Store
	cfg   middlewareConfig
	next  http.Handler
}

func (g *keyGuard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.cfg.methods[r.Method] {
		g.next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	if key == "" {
		writeRejection(w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	}

	body, err := captureBody(r)
	if err != nil {
		writeRejection(w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	requester := extractRequester(r.Context())
	fingerprint := requestFingerprint(r, body, requester)
	scoped := scopedKey(key, requester)

	reservation, err := g.store.Reserve(r.Context(), scoped, fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		writeRejection(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		g.logf("idempotency: reserve failed for key %s: %v", key, err)
		writeRejection(w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replayResponse(w, reservation.Record)
		return
	case ReservationStatePending:
		writeRejection(w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	case ReservationStateNew:
	default:
		writeRejection(w, http.StatusInternalServerError, "idempotency_store_error", "unexpected idempotency state")
		return
	}

	buffer := newBufferedResponse()
	g.next.ServeHTTP(buffer, r)

	captured := Response{
		Status:  buffer.status(),
		Headers: buffer.headerSnapshot(),
		Body:    buffer.bodyBytes(),
	}
	if err := g.store.SaveResponse(r.Context(), scoped, fingerprint, captured, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		g.logf("idempotency: persist failed for key %s (requester %s): %v", key, requester, err)
		if releaseErr := g.store.Release(r.Context(), scoped, fingerprint); releaseErr != nil {
			g.logf("idempotency: release failed for key %s: %v", key, releaseErr)
		}
		writeRejection(w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}

	if err := buffer.flushTo(w); err != nil {
		g.logf("idempotency: flush failed for key %s: %v", key, err)
	}
}

func (g *keyGuard) logf(format string, args ...any) {
	if g.cfg.logger != nil {
		g.cfg.logger.Printf(format, args...)
	}
}

// captureBody drains the request body and installs a replayable copy so the
// wrapped handler can still read it.
func captureBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err := errors.Join(err, r.Body.Close()); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint ties a key to the request it was first used with. Two
// requests share a fingerprint only when method, target, content type,
// requester, and body all match.
func requestFingerprint(r *http.Request, body []byte, requester string) string {
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = sha256Hex(body)
	}
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		requester,
		bodyHash,
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

// extractRequester scopes keys per actor so two users reusing the same key
// value never collide.
func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UserID != "" {
		return identity.UserID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return svc.Subject
	}
	return "anonymous"
}

func scopedKey(key, requester string) string {
	key = strings.TrimSpace(key)
	requester = cmp.Or(strings.TrimSpace(requester), "anonymous")
	if key == "" {
		return requester
	}
	return key + "|" + requester
}

func replayResponse(w http.ResponseWriter, record Record) {
	overwriteHeaders(w.Header(), headersFromRecord(record.ResponseHeaders))
	w.Header().Set(replayHeaderName, "true")
	w.WriteHeader(cmp.Or(record.ResponseStatus, http.StatusOK))
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// overwriteHeaders replaces dst's contents with src so nothing written before
// a replay or flush leaks into the response.
func overwriteHeaders(dst, src http.Header) {
	clear(dst)
	for name, values := range src {
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

func writeRejection(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}

// bufferedResponse holds the handler's output until the record is stored;
// nothing reaches the client if persisting fails.
type bufferedResponse struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	b.code = status
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	b.code = cmp.Or(b.code, http.StatusOK)
	return b.body.Write(data)
}

func (b *bufferedResponse) status() int {
	return cmp.Or(b.code, http.StatusOK)
}

func (b *bufferedResponse) bodyBytes() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return b.body.Bytes()
}

func (b *bufferedResponse) headerSnapshot() http.Header {
	snapshot := make(http.Header, len(b.header))
	for name, values := range b.header {
		snapshot[name] = slices.Clone(values)
	}
	return snapshot
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) error {
	overwriteHeaders(w.Header(), b.header)
	w.WriteHeader(b.status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
