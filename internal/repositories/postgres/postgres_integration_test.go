//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/config"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/database"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

const postgresImage = "postgres:16-alpine"

func TestPostgresRepositoriesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	containerID := startPostgresContainer(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	url := fmt.Sprintf("postgres://it:it@127.0.0.1:%d/it?sslmode=disable", port)
	pool := waitForDatabase(t, ctx, url)
	t.Cleanup(pool.Close)

	if err := database.Migrate(pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	seed := func(sql string, args ...any) {
		t.Helper()
		if _, err := pool.Exec(ctx, sql, args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seed(`INSERT INTO users (id, email, role) VALUES ('cust-1', 'meera@example.com', 'CUSTOMER')`)
	seed(`INSERT INTO users (id, email, first_name, last_name, role) VALUES ('press-1', 'press@example.com', 'Priya', 'Nair', 'PRESS')`)
	seed(`INSERT INTO users (id, email, role) VALUES ('rider-1', 'rider@example.com', 'DELIVERY')`)
	seed(`INSERT INTO services (id, name, slug, service_type, base_price) VALUES ('svc-1', 'Wash & Fold', 'wash-fold', 'wash_fold', 25.00)`)

	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return pool.Ping(ctx) },
	}})
	if err != nil {
		t.Fatalf("health repository: %v", err)
	}
	registry, err := NewRegistry(pool, health)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	t.Run("order round trip", func(t *testing.T) {
		orders := registry.Orders()
		now := time.Now().UTC().Truncate(time.Microsecond)

		order := domain.Order{
			ID:            "ord_it1",
			OrderNumber:   "250501-00001",
			CustomerID:    "cust-1",
			Status:        domain.OrderStatusDraft,
			PaymentStatus: domain.PaymentStatusPending,
			DeliveryType:  domain.DeliveryTypePickup,
			Subtotal:      decimal.RequireFromString("50.00"),
			TaxAmount:     decimal.RequireFromString("5.00"),
			TotalAmount:   decimal.RequireFromString("55.00"),
			CreatedAt:     now,
			UpdatedAt:     now,
			Version:       1,
			Items: []domain.OrderItem{{
				ID:        "itm_it1",
				OrderID:   "ord_it1",
				ServiceID: "svc-1",
				Name:      "Wash & Fold",
				Quantity:  2,
				UnitPrice: decimal.RequireFromString("25.00"),
				Options: []domain.OrderItemOption{{
					OptionID:        "opt-1",
					Name:            "Stain Treatment",
					PriceAdjustment: decimal.RequireFromString("4.00"),
				}},
				TotalPrice: decimal.RequireFromString("50.00"),
				CreatedAt:  now,
				UpdatedAt:  now,
			}},
		}
		if err := orders.Insert(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}

		loaded, err := orders.FindByID(ctx, "ord_it1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if loaded.Version != 1 || len(loaded.Items) != 1 {
			t.Fatalf("loaded = version %d, %d items", loaded.Version, len(loaded.Items))
		}
		if !loaded.Subtotal.Equal(order.Subtotal) || !loaded.Items[0].UnitPrice.Equal(order.Items[0].UnitPrice) {
			t.Fatalf("money mismatch: %v / %v", loaded.Subtotal, loaded.Items[0].UnitPrice)
		}
		if len(loaded.Items[0].Options) != 1 || loaded.Items[0].Options[0].Name != "Stain Treatment" {
			t.Fatalf("options not round-tripped: %+v", loaded.Items[0].Options)
		}

		loaded.Status = domain.OrderStatusPending
		loaded.Items[0].Quantity = 3
		if err := orders.Update(ctx, loaded); err != nil {
			t.Fatalf("update: %v", err)
		}

		stale := loaded
		stale.Status = domain.OrderStatusConfirmed
		err = orders.Update(ctx, stale)
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("stale update should conflict, got %v", err)
		}

		reloaded, err := orders.FindByID(ctx, "ord_it1")
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if reloaded.Version != 2 || reloaded.Status != domain.OrderStatusPending {
			t.Fatalf("reloaded = version %d status %s", reloaded.Version, reloaded.Status)
		}
		if reloaded.Items[0].Quantity != 3 {
			t.Fatalf("item replace failed: %+v", reloaded.Items[0])
		}

		missing := reloaded
		missing.ID = "ord_missing"
		err = orders.Update(ctx, missing)
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			t.Fatalf("updating a missing order should report not found, got %v", err)
		}
	})

	t.Run("list pagination", func(t *testing.T) {
		orders := registry.Orders()
		base := time.Now().UTC().Truncate(time.Microsecond)
		for i := 0; i < 3; i++ {
			order := domain.Order{
				ID:            fmt.Sprintf("ord_pg%d", i),
				OrderNumber:   fmt.Sprintf("250502-0000%d", i+1),
				CustomerID:    "cust-1",
				Status:        domain.OrderStatusConfirmed,
				PaymentStatus: domain.PaymentStatusPending,
				DeliveryType:  domain.DeliveryTypePickup,
				CreatedAt:     base.Add(time.Duration(i) * time.Second),
				UpdatedAt:     base,
				Version:       1,
			}
			if err := orders.Insert(ctx, order); err != nil {
				t.Fatalf("insert %d: %v", i, err)
			}
		}

		filter := repositories.OrderListFilter{
			CustomerID: "cust-1",
			Status:     []domain.OrderStatus{domain.OrderStatusConfirmed},
			Sort:       repositories.OrderSortCreatedDesc,
			Pagination: domain.Pagination{PageSize: 2},
		}
		first, err := orders.List(ctx, filter)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(first.Items) != 2 || first.NextPageToken == "" {
			t.Fatalf("first page = %d items, token %q", len(first.Items), first.NextPageToken)
		}
		if first.Items[0].ID != "ord_pg2" || first.Items[1].ID != "ord_pg1" {
			t.Fatalf("unexpected page order: %s, %s", first.Items[0].ID, first.Items[1].ID)
		}

		filter.Pagination.PageToken = first.NextPageToken
		second, err := orders.List(ctx, filter)
		if err != nil {
			t.Fatalf("second page: %v", err)
		}
		if len(second.Items) != 1 || second.Items[0].ID != "ord_pg0" || second.NextPageToken != "" {
			t.Fatalf("second page = %+v", second)
		}
	})

	t.Run("delivery queue", func(t *testing.T) {
		orders := registry.Orders()
		now := time.Now().UTC().Truncate(time.Microsecond)
		rider := "rider-1"
		other := "rider-2"
		seed(`INSERT INTO users (id, email, role) VALUES ('rider-2', 'rider2@example.com', 'DELIVERY')`)

		queueOrder := func(id string, status domain.OrderStatus, deliveryPerson *string) {
			t.Helper()
			order := domain.Order{
				ID:               id,
				OrderNumber:      "dq-" + id,
				CustomerID:       "cust-1",
				Status:           status,
				PaymentStatus:    domain.PaymentStatusPending,
				DeliveryType:     domain.DeliveryTypeDelivery,
				DeliveryPersonID: deliveryPerson,
				CreatedAt:        now,
				UpdatedAt:        now,
				Version:          1,
			}
			if err := orders.Insert(ctx, order); err != nil {
				t.Fatalf("insert %s: %v", id, err)
			}
		}
		queueOrder("ord_dq1", domain.OrderStatusScheduledForPickup, nil)
		queueOrder("ord_dq2", domain.OrderStatusReady, &rider)
		queueOrder("ord_dq3", domain.OrderStatusOutForDelivery, &rider)
		queueOrder("ord_dq4", domain.OrderStatusOutForPickup, &other)
		queueOrder("ord_dq5", domain.OrderStatusProcessing, nil)

		page, err := orders.DeliveryQueue(ctx, rider, domain.Pagination{PageSize: 10})
		if err != nil {
			t.Fatalf("delivery queue: %v", err)
		}
		var ids []string
		for _, order := range page.Items {
			ids = append(ids, order.ID)
		}
		sort.Strings(ids)
		want := []string{"ord_dq1", "ord_dq2", "ord_dq3"}
		if strings.Join(ids, ",") != strings.Join(want, ",") {
			t.Fatalf("queue = %v, want %v", ids, want)
		}
	})

	t.Run("status updates", func(t *testing.T) {
		updates := registry.StatusUpdates()
		now := time.Now().UTC().Truncate(time.Microsecond)
		actor := "cust-1"

		for i, to := range []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed} {
			update := domain.OrderStatusUpdate{
				ID:          fmt.Sprintf("osu_it%d", i),
				OrderID:     "ord_it1",
				FromStatus:  domain.OrderStatusDraft,
				ToStatus:    to,
				ChangedByID: &actor,
				Notes:       "integration",
				CreatedAt:   now.Add(time.Duration(i) * time.Second),
			}
			if err := updates.Append(ctx, update); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}

		latest, err := updates.Latest(ctx, "ord_it1")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if latest.ToStatus != domain.OrderStatusConfirmed {
			t.Fatalf("latest = %s", latest.ToStatus)
		}

		page, err := updates.ListByOrder(ctx, "ord_it1", domain.Pagination{PageSize: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page.Items) != 2 || page.Items[0].ID != "osu_it1" {
			t.Fatalf("trail = %+v", page.Items)
		}
	})

	t.Run("counter concurrency", func(t *testing.T) {
		counters := registry.Counters()

		const workers = 16
		results := make([]int64, workers)
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func(i int) {
				defer wg.Done()
				value, err := counters.Next(ctx, "orders:250501", 1)
				if err != nil {
					t.Errorf("next: %v", err)
					return
				}
				results[i] = value
			}(i)
		}
		wg.Wait()

		sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
		for i, value := range results {
			if value != int64(i+1) {
				t.Fatalf("counter values not dense: %v", results)
			}
		}
	})

	t.Run("unit of work rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := registry.RunInTx(ctx, func(txCtx context.Context) error {
			order := domain.Order{
				ID:            "ord_rollback",
				OrderNumber:   "250503-00001",
				CustomerID:    "cust-1",
				Status:        domain.OrderStatusDraft,
				PaymentStatus: domain.PaymentStatusPending,
				DeliveryType:  domain.DeliveryTypePickup,
				CreatedAt:     time.Now().UTC(),
				UpdatedAt:     time.Now().UTC(),
				Version:       1,
			}
			if err := registry.Orders().Insert(txCtx, order); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected the body error, got %v", err)
		}

		_, err = registry.Orders().FindByID(ctx, "ord_rollback")
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			t.Fatalf("rolled-back insert should not be visible, got %v", err)
		}
	})
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker daemon not running: " + err.Error())
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func startPostgresContainer(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "--rm", "-d",
		"-p", fmt.Sprintf("127.0.0.1:%d:5432", port),
		"-e", "POSTGRES_USER=it",
		"-e", "POSTGRES_PASSWORD=it",
		"-e", "POSTGRES_DB=it",
		postgresImage,
	).Output()
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	return strings.TrimSpace(string(out))
}

func stopContainer(containerID string) {
	if containerID == "" {
		return
	}
	_ = exec.Command("docker", "stop", containerID).Run()
}

func waitForDatabase(t *testing.T, ctx context.Context, url string) *pgxpool.Pool {
	t.Helper()
	deadline := time.Now().Add(60 * time.Second)
	for {
		pool, err := database.Connect(ctx, config.DatabaseConfig{URL: url, DialTimeout: 2 * time.Second})
		if err == nil {
			return pool
		}
		if time.Now().After(deadline) {
			t.Fatalf("database never became ready: %v", err)
		}
		time.Sleep(time.Second)
	}
}
