package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTestFetcher(t *testing.T, stub *stubSecretManager, extra ...Option) *Fetcher {
	t.Helper()
	opts := append([]Option{
		WithSecretManagerClient(stub),
		WithDefaultProject("test"),
	}, extra...)
	fetcher, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	t.Cleanup(func() { fetcher.Close() })
	return fetcher
}

func writeFallbackFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing fallback file: %v", err)
	}
	return path
}

func TestResolveCachesRemoteValue(t *testing.T) {
	ctx := context.Background()
	stub := newStubSecretManager()
	stub.respond("projects/test/secrets/auth_token_secret/versions/latest", "remote-secret")

	fetcher := newTestFetcher(t, stub)

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://auth_token_secret")
		if err != nil {
			t.Fatalf("Resolve call %d returned error: %v", i+1, err)
		}
		if got != "remote-secret" {
			t.Fatalf("Resolve call %d = %q, want remote-secret", i+1, got)
		}
	}

	if calls := stub.calls("projects/test/secrets/auth_token_secret/versions/latest"); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveFallsBackOnPermissionDenied(t *testing.T) {
	ctx := context.Background()
	stub := newStubSecretManager()
	stub.fail("projects/test/secrets/auth_token_secret/versions/latest",
		status.Error(codes.PermissionDenied, "denied"))

	fallback := writeFallbackFile(t, "secret://auth_token_secret=local-secret\n")
	fetcher := newTestFetcher(t, stub, WithFallbackFile(fallback))

	got, err := fetcher.Resolve(ctx, "secret://auth_token_secret")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("Resolve = %q, want local-secret", got)
	}
}

func TestResolveErrorsOnNotFound(t *testing.T) {
	ctx := context.Background()
	stub := newStubSecretManager()
	stub.fail("projects/test/secrets/auth_token_secret/versions/latest",
		status.Error(codes.NotFound, "missing"))

	fallback := writeFallbackFile(t, "secret://auth_token_secret=local-secret\n")
	fetcher := newTestFetcher(t, stub, WithFallbackFile(fallback))

	if _, err := fetcher.Resolve(ctx, "secret://auth_token_secret"); err == nil {
		t.Fatal("expected error for missing secret, fallback must not mask NotFound")
	}
}

func TestResolveHonorsVersionPins(t *testing.T) {
	ctx := context.Background()
	stub := newStubSecretManager()
	stub.respond("projects/test/secrets/auth_token_secret/versions/5", "version-5")
	stub.respond("projects/test/secrets/auth_token_secret/versions/7", "version-7")

	t.Run("global pin", func(t *testing.T) {
		fetcher := newTestFetcher(t, stub, WithVersionPins(map[string]string{
			"secret://auth_token_secret": "5",
		}))
		got, err := fetcher.Resolve(ctx, "secret://auth_token_secret")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if got != "version-5" {
			t.Fatalf("Resolve = %q, want version-5", got)
		}
	})

	t.Run("environment pin wins", func(t *testing.T) {
		fetcher := newTestFetcher(t, stub,
			WithEnvironment("staging"),
			WithVersionPins(map[string]string{
				"secret://auth_token_secret":         "5",
				"staging:secret://auth_token_secret": "7",
			}),
		)
		got, err := fetcher.Resolve(ctx, "secret://auth_token_secret")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if got != "version-7" {
			t.Fatalf("Resolve = %q, want version-7", got)
		}
	})
}

func TestInvalidateNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	stub := newStubSecretManager()
	resource := "projects/test/secrets/auth_token_secret/versions/latest"
	stub.respond(resource, "remote-secret")

	fetcher := newTestFetcher(t, stub)

	if _, err := fetcher.Resolve(ctx, "secret://auth_token_secret"); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	ch, cancel := fetcher.Subscribe("secret://auth_token_secret")
	defer cancel()

	fetcher.Invalidate("secret://auth_token_secret")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected invalidation notification")
	}

	if _, err := fetcher.Resolve(ctx, "secret://auth_token_secret"); err != nil {
		t.Fatalf("Resolve after invalidation returned error: %v", err)
	}
	if calls := stub.calls(resource); calls != 2 {
		t.Fatalf("expected refetch after invalidation, got %d calls", calls)
	}
}

func TestCloseWakesSubscribers(t *testing.T) {
	stub := newStubSecretManager()
	fetcher, err := NewFetcher(context.Background(), WithSecretManagerClient(stub))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	ch, _ := fetcher.Subscribe("secret://auth_token_secret")
	if err := fetcher.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected channel closed, got a send")
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscriber channel to close on shutdown")
	}
}

func TestNewFetcherWithoutCredentialsServesFallback(t *testing.T) {
	ctx := context.Background()

	original := newSMClient
	newSMClient = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSMClient = original })

	fallback := writeFallbackFile(t, "secret://auth_token_secret=local-secret\n")
	fetcher, err := NewFetcher(ctx, WithFallbackFile(fallback))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://auth_token_secret")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("Resolve = %q, want local-secret", got)
	}
}

func TestParseFallbackFormats(t *testing.T) {
	input := strings.Join([]string{
		"# comment line",
		"",
		"secret://auth_token_secret=token-value",
		"sm://database_password=db-value",
		"plain_key=plain-value",
		"malformed line without equals",
	}, "\n")

	values, err := parseFallback(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseFallback returned error: %v", err)
	}

	checks := map[string]string{
		"secret://auth_token_secret":        "token-value",
		"secret://auth_token_secret#latest": "token-value",
		"secret://database_password":        "db-value",
		"secret://database_password#latest": "db-value",
		"plain_key":                         "plain-value",
	}
	for key, want := range checks {
		if got := values[key]; got != want {
			t.Errorf("values[%q] = %q, want %q", key, got, want)
		}
	}
	if _, ok := values["malformed line without equals"]; ok {
		t.Error("malformed line should be skipped")
	}
}

type stubSecretManager struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	seen   map[string]int
}

func newStubSecretManager() *stubSecretManager {
	return &stubSecretManager{
		values: make(map[string]string),
		errs:   make(map[string]error),
		seen:   make(map[string]int),
	}
}

func (s *stubSecretManager) respond(resource, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[resource] = value
}

func (s *stubSecretManager) fail(resource string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[resource] = err
}

func (s *stubSecretManager) calls(resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[resource]
}

func (s *stubSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := req.GetName()
	s.seen[name]++

	if err := s.errs[name]; err != nil {
		return nil, err
	}
	if value, ok := s.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (s *stubSecretManager) Close() error { return nil }
