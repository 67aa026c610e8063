package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
)

func newTestStatusLogService(t *testing.T, repo *testStatusUpdateRepo, salt string) StatusLogService {
	t.Helper()
	svc, err := NewStatusLogService(StatusLogServiceDeps{
		Repository:  repo,
		Clock:       func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "LOGID" },
		HashSalt:    salt,
	})
	if err != nil {
		t.Fatalf("new status log service: %v", err)
	}
	return svc
}

func TestStatusLogServiceRecord(t *testing.T) {
	ctx := context.Background()
	repo := &testStatusUpdateRepo{}
	svc := newTestStatusLogService(t, repo, "pepper")

	update, err := svc.Record(ctx, StatusLogRecord{
		OrderID:    "ord_1",
		FromStatus: domain.OrderStatusPending,
		ToStatus:   domain.OrderStatusConfirmed,
		ChangedBy:  valuePtr("cust-1"),
		Notes:      "confirmed from the app",
		IPAddress:  "203.0.113.9",
		UserAgent:  "laundry-app/3.2",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if update.ID != "osu_LOGID" {
		t.Fatalf("unexpected id %s", update.ID)
	}
	if update.FromStatus != domain.OrderStatusPending || update.ToStatus != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected transition %s -> %s", update.FromStatus, update.ToStatus)
	}
	if update.ChangedByID == nil || *update.ChangedByID != "cust-1" {
		t.Fatalf("unexpected actor %v", update.ChangedByID)
	}
	if !strings.HasPrefix(update.IPHash, "sha256:") {
		t.Fatalf("expected hashed ip got %q", update.IPHash)
	}
	if strings.Contains(update.IPHash, "203.0.113.9") {
		t.Fatalf("raw ip must never be stored, got %q", update.IPHash)
	}
	if len(repo.appended) != 1 {
		t.Fatalf("expected one append got %d", len(repo.appended))
	}
}

func TestStatusLogServiceHashUsesSalt(t *testing.T) {
	ctx := context.Background()
	record := StatusLogRecord{
		OrderID:   "ord_1",
		ToStatus:  domain.OrderStatusConfirmed,
		IPAddress: "203.0.113.9",
	}

	first, err := newTestStatusLogService(t, &testStatusUpdateRepo{}, "pepper").Record(ctx, record)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := newTestStatusLogService(t, &testStatusUpdateRepo{}, "other").Record(ctx, record)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.IPHash == second.IPHash {
		t.Fatalf("different salts must produce different hashes")
	}

	repeat, err := newTestStatusLogService(t, &testStatusUpdateRepo{}, "pepper").Record(ctx, record)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.IPHash != repeat.IPHash {
		t.Fatalf("same salt and ip must hash identically")
	}
}

func TestStatusLogServiceRecordOmitsHashWithoutIP(t *testing.T) {
	ctx := context.Background()
	svc := newTestStatusLogService(t, &testStatusUpdateRepo{}, "pepper")

	update, err := svc.Record(ctx, StatusLogRecord{
		OrderID:  "ord_1",
		ToStatus: domain.OrderStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if update.IPHash != "" {
		t.Fatalf("expected empty hash got %q", update.IPHash)
	}
}

func TestStatusLogServiceRecordTruncatesText(t *testing.T) {
	ctx := context.Background()
	svc := newTestStatusLogService(t, &testStatusUpdateRepo{}, "pepper")

	update, err := svc.Record(ctx, StatusLogRecord{
		OrderID:   "ord_1",
		ToStatus:  domain.OrderStatusConfirmed,
		Notes:     strings.Repeat("n", 1500),
		UserAgent: strings.Repeat("a", 400),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(update.Notes) != 1000 {
		t.Fatalf("expected notes capped at 1000 got %d", len(update.Notes))
	}
	if len(update.UserAgent) != 256 {
		t.Fatalf("expected user agent capped at 256 got %d", len(update.UserAgent))
	}
}

func TestStatusLogServiceRecordStripsControlCharacters(t *testing.T) {
	ctx := context.Background()
	svc := newTestStatusLogService(t, &testStatusUpdateRepo{}, "pepper")

	update, err := svc.Record(ctx, StatusLogRecord{
		OrderID:  "ord_1",
		ToStatus: domain.OrderStatusConfirmed,
		Notes:    "left at\x00 the desk\x07",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if update.Notes != "left at the desk" {
		t.Fatalf("expected control characters stripped, got %q", update.Notes)
	}
}

func TestStatusLogServiceRecordValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestStatusLogService(t, &testStatusUpdateRepo{}, "pepper")

	if _, err := svc.Record(ctx, StatusLogRecord{ToStatus: domain.OrderStatusConfirmed}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing order id, got %v", err)
	}
	if _, err := svc.Record(ctx, StatusLogRecord{OrderID: "ord_1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing target status, got %v", err)
	}
}

func TestStatusLogServiceListByOrder(t *testing.T) {
	ctx := context.Background()
	repo := &testStatusUpdateRepo{
		listFn: func(_ context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderStatusUpdate], error) {
			if pager.PageSize != defaultStatusPageLimit {
				t.Fatalf("expected default page size %d got %d", defaultStatusPageLimit, pager.PageSize)
			}
			return domain.CursorPage[domain.OrderStatusUpdate]{
				Items: []domain.OrderStatusUpdate{{ID: "osu_1", OrderID: orderID}},
			}, nil
		},
	}
	svc := newTestStatusLogService(t, repo, "pepper")

	page, err := svc.ListByOrder(ctx, "ord_1", Pagination{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].OrderID != "ord_1" {
		t.Fatalf("unexpected page %#v", page.Items)
	}
}

func TestOrderNumberSequence(t *testing.T) {
	ctx := context.Background()

	t.Run("formats day and counter", func(t *testing.T) {
		counters := &testCounterRepo{
			nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
				if counterID != "orders:250501" {
					t.Fatalf("unexpected counter id %s", counterID)
				}
				if step != 1 {
					t.Fatalf("unexpected step %d", step)
				}
				return 7, nil
			},
		}
		sequence, err := NewOrderNumberSequence(OrderNumberSequenceDeps{
			Counters: counters,
			Clock:    func() time.Time { return time.Date(2025, 5, 1, 23, 59, 0, 0, time.UTC) },
		})
		if err != nil {
			t.Fatalf("new sequence: %v", err)
		}
		number, err := sequence.NextOrderNumber(ctx)
		if err != nil {
			t.Fatalf("next order number: %v", err)
		}
		if number != "250501-00007" {
			t.Fatalf("unexpected number %s", number)
		}
	})

	t.Run("day key follows utc midnight", func(t *testing.T) {
		var captured string
		counters := &testCounterRepo{
			nextFn: func(_ context.Context, counterID string, _ int64) (int64, error) {
				captured = counterID
				return 1, nil
			},
		}
		// 23:30 in UTC-5 is already the next day in UTC.
		local := time.FixedZone("UTC-5", -5*60*60)
		sequence, err := NewOrderNumberSequence(OrderNumberSequenceDeps{
			Counters: counters,
			Clock:    func() time.Time { return time.Date(2025, 5, 1, 23, 30, 0, 0, local) },
		})
		if err != nil {
			t.Fatalf("new sequence: %v", err)
		}
		if _, err := sequence.NextOrderNumber(ctx); err != nil {
			t.Fatalf("next order number: %v", err)
		}
		if captured != "orders:250502" {
			t.Fatalf("expected utc day key got %s", captured)
		}
	})

	t.Run("counter failure propagates", func(t *testing.T) {
		counters := &testCounterRepo{
			nextFn: func(context.Context, string, int64) (int64, error) {
				return 0, errors.New("row lock timeout")
			},
		}
		sequence, err := NewOrderNumberSequence(OrderNumberSequenceDeps{Counters: counters})
		if err != nil {
			t.Fatalf("new sequence: %v", err)
		}
		if _, err := sequence.NextOrderNumber(ctx); err == nil {
			t.Fatalf("expected error")
		}
	})
}
