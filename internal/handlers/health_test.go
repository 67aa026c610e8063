package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

// stubSystemService serves a fixed health report to the probe handlers.
type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func probeJSON(t *testing.T, handler http.HandlerFunc, out any) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/probe", nil))
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rr
}

func TestHealthzReportsBuildMetadata(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(45 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "2.3.1",
			CommitSHA:   "f00dfeed",
			Environment: "staging",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	var body struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		CommitSHA   string `json:"commitSha"`
		Environment string `json:"environment"`
		Uptime      string `json:"uptime"`
		Timestamp   string `json:"timestamp"`
	}
	rr := probeJSON(t, handlers.Healthz, &body)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %s", ct)
	}
	if body.Status != domain.HealthStatusOK {
		t.Errorf("unexpected status %s", body.Status)
	}
	if body.Version != "2.3.1" || body.CommitSHA != "f00dfeed" || body.Environment != "staging" {
		t.Errorf("unexpected build metadata: %+v", body)
	}
	if body.Uptime != "45s" {
		t.Errorf("unexpected uptime %s", body.Uptime)
	}
	if body.Timestamp != now.Format(time.RFC3339) {
		t.Errorf("unexpected timestamp %s", body.Timestamp)
	}
}

type readyCheckBody struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	LatencyMS int64  `json:"latencyMs"`
}

type readyzBody struct {
	Status  string                    `json:"status"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]readyCheckBody `json:"checks"`
	Details []string                  `json:"details"`
}

func TestReadyz(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	clock := WithHealthClock(func() time.Time { return now })

	t.Run("all checks passing", func(t *testing.T) {
		svc := &stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      3 * time.Minute,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres":       {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
					"pubsub":         {Status: domain.HealthStatusOK, Latency: 30 * time.Millisecond, CheckedAt: now},
					"secret-manager": {Status: domain.HealthStatusOK, Latency: 8 * time.Millisecond, CheckedAt: now},
				},
			},
		}

		var body readyzBody
		rr := probeJSON(t, NewHealthHandlers(WithHealthSystemService(svc), clock).Readyz, &body)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if body.Status != domain.HealthStatusOK {
			t.Errorf("unexpected status %s", body.Status)
		}
		if body.Uptime != "3m0s" {
			t.Errorf("unexpected uptime %s", body.Uptime)
		}
		if len(body.Details) != 0 {
			t.Errorf("expected no details, got %v", body.Details)
		}
		if len(body.Checks) != 3 {
			t.Fatalf("expected 3 checks, got %v", body.Checks)
		}
		if got := body.Checks["postgres"]; got.Status != domain.HealthStatusOK || got.LatencyMS != 12 {
			t.Errorf("unexpected postgres check: %+v", got)
		}
	})

	t.Run("degraded dependency flips to 503", func(t *testing.T) {
		svc := &stubSystemService{
			report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusOK},
					"pubsub":   {Status: domain.HealthStatusDegraded, Error: "publish failed"},
				},
			},
		}

		var body readyzBody
		rr := probeJSON(t, NewHealthHandlers(WithHealthSystemService(svc), clock).Readyz, &body)

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
		if body.Status != domain.HealthStatusDegraded {
			t.Errorf("unexpected status %s", body.Status)
		}
		if len(body.Details) != 1 || body.Details[0] != "pubsub: publish failed" {
			t.Errorf("expected pubsub detail, got %v", body.Details)
		}
	})

	t.Run("collector failure flips to 503", func(t *testing.T) {
		svc := &stubSystemService{err: errors.New("pool exhausted")}

		var body readyzBody
		rr := probeJSON(t, NewHealthHandlers(WithHealthSystemService(svc), clock).Readyz, &body)

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
		if body.Status != domain.HealthStatusError {
			t.Errorf("unexpected status %s", body.Status)
		}
		if len(body.Details) != 1 || body.Details[0] != "health: pool exhausted" {
			t.Errorf("expected collector error detail, got %v", body.Details)
		}
	})

	t.Run("no system service answers ok", func(t *testing.T) {
		var body readyzBody
		rr := probeJSON(t, NewHealthHandlers(clock).Readyz, &body)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if body.Status != domain.HealthStatusOK {
			t.Errorf("unexpected status %s", body.Status)
		}
		if body.Checks == nil || body.Details == nil {
			t.Errorf("expected empty collections, got checks=%v details=%v", body.Checks, body.Details)
		}
	})
}
