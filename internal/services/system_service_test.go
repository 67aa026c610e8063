package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
)

// stubHealthRepository hands back a canned report and counts collector calls.
type stubHealthRepository struct {
	report   domain.SystemHealthReport
	err      error
	collects int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.collects++
	return s.report, s.err
}

func TestNewSystemService(t *testing.T) {
	t.Run("requires health repository", func(t *testing.T) {
		if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
			t.Fatalf("expected error when health repository missing")
		}
	})

	t.Run("defaults build start to the clock", func(t *testing.T) {
		started := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
		svc, err := NewSystemService(SystemServiceDeps{
			HealthRepository: &stubHealthRepository{},
			Clock:            func() time.Time { return started.Add(90 * time.Minute) },
			Build:            BuildInfo{StartedAt: started},
		})
		if err != nil {
			t.Fatalf("new system service: %v", err)
		}
		report, err := svc.HealthReport(context.Background())
		if err != nil {
			t.Fatalf("health report: %v", err)
		}
		if report.Uptime != 90*time.Minute {
			t.Fatalf("expected uptime 90m got %s", report.Uptime)
		}
	})
}

func TestSystemServiceHealthReport(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	newService := func(repo *stubHealthRepository) SystemService {
		svc, err := NewSystemService(SystemServiceDeps{
			HealthRepository: repo,
			Clock:            func() time.Time { return now },
			Build: BuildInfo{
				Version:     "1.4.0",
				CommitSHA:   "abc1234",
				Environment: "test",
				StartedAt:   now.Add(-time.Hour),
			},
		})
		if err != nil {
			t.Fatalf("new system service: %v", err)
		}
		return svc
	}

	t.Run("fills build metadata", func(t *testing.T) {
		repo := &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"database": {Status: domain.HealthStatusOK},
			},
		}}
		report, err := newService(repo).HealthReport(ctx)
		if err != nil {
			t.Fatalf("health report: %v", err)
		}
		if repo.collects != 1 {
			t.Fatalf("expected one collect call got %d", repo.collects)
		}
		if report.Version != "1.4.0" || report.CommitSHA != "abc1234" || report.Environment != "test" {
			t.Fatalf("build metadata missing: %#v", report)
		}
		if !report.GeneratedAt.Equal(now) {
			t.Fatalf("expected generated timestamp %s got %s", now, report.GeneratedAt)
		}
		if report.Uptime != time.Hour {
			t.Fatalf("expected uptime 1h got %s", report.Uptime)
		}
		if report.Status != domain.HealthStatusOK {
			t.Fatalf("expected derived ok status got %q", report.Status)
		}
	})

	t.Run("keeps values the collector set", func(t *testing.T) {
		collected := time.Date(2025, 5, 1, 11, 59, 0, 0, time.UTC)
		repo := &stubHealthRepository{report: domain.SystemHealthReport{
			Status:      domain.HealthStatusDegraded,
			Version:     "collector-version",
			GeneratedAt: collected,
			Uptime:      5 * time.Minute,
		}}
		report, err := newService(repo).HealthReport(ctx)
		if err != nil {
			t.Fatalf("health report: %v", err)
		}
		if report.Status != domain.HealthStatusDegraded {
			t.Fatalf("collector status overwritten: %q", report.Status)
		}
		if report.Version != "collector-version" {
			t.Fatalf("collector version overwritten: %q", report.Version)
		}
		if !report.GeneratedAt.Equal(collected) {
			t.Fatalf("collector timestamp overwritten: %s", report.GeneratedAt)
		}
		if report.Uptime != 5*time.Minute {
			t.Fatalf("collector uptime overwritten: %s", report.Uptime)
		}
	})

	t.Run("derives degraded and error states", func(t *testing.T) {
		repo := &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"database": {Status: domain.HealthStatusOK},
				"pubsub":   {Status: domain.HealthStatusDegraded},
			},
		}}
		report, err := newService(repo).HealthReport(ctx)
		if err != nil {
			t.Fatalf("health report: %v", err)
		}
		if report.Status != domain.HealthStatusDegraded {
			t.Fatalf("expected degraded got %q", report.Status)
		}

		repo = &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"database": {Status: domain.HealthStatusError, Error: "connection refused"},
				"pubsub":   {Status: domain.HealthStatusDegraded},
			},
		}}
		report, err = newService(repo).HealthReport(ctx)
		if err != nil {
			t.Fatalf("health report: %v", err)
		}
		if report.Status != domain.HealthStatusError {
			t.Fatalf("expected error got %q", report.Status)
		}
	})

	t.Run("empty checks map is materialised", func(t *testing.T) {
		repo := &stubHealthRepository{}
		report, err := newService(repo).HealthReport(ctx)
		if err != nil {
			t.Fatalf("health report: %v", err)
		}
		if report.Checks == nil {
			t.Fatalf("expected non-nil checks map")
		}
		if report.Status != domain.HealthStatusOK {
			t.Fatalf("expected ok with no checks got %q", report.Status)
		}
	})

	t.Run("collector failure propagates", func(t *testing.T) {
		repo := &stubHealthRepository{err: errors.New("probe timeout")}
		if _, err := newService(repo).HealthReport(ctx); err == nil {
			t.Fatalf("expected error")
		}
	})
}
