package services

import (
	"context"
	"fmt"

	"github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

const (
	staffLeaderboardSize   = 5
	adminRecentOrdersLimit = 10
)

// DashboardServiceDeps wires the dashboard read models.
type DashboardServiceDeps struct {
	Orders repositories.OrderRepository
}

type dashboardService struct {
	orders repositories.OrderRepository
}

var _ DashboardService = (*dashboardService)(nil)

// NewDashboardService constructs the dashboard read-model service.
func NewDashboardService(deps DashboardServiceDeps) (DashboardService, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("dashboard service requires an order repository")
	}
	return &dashboardService{orders: deps.Orders}, nil
}

// CustomerOverview lists the actor's own orders newest-first, optionally
// narrowed to one of the coarse status buckets.
func (s *dashboardService) CustomerOverview(ctx context.Context, query CustomerDashboardQuery) (domain.CursorPage[Order], error) {
	if query.Actor.ID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor id is required", ErrValidation)
	}
	if query.Actor.Role != domain.RoleCustomer && !query.Actor.IsAdmin() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: the customer dashboard is only available to customers", ErrUnauthorized)
	}

	filter := repositories.OrderListFilter{
		CustomerID: query.Actor.ID,
		Sort:       repositories.OrderSortCreatedDesc,
		Pagination: normalizePager(query.Pagination),
	}
	if query.Bucket != nil {
		statuses := query.Bucket.Statuses()
		if len(statuses) == 0 {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status bucket %q", ErrValidation, *query.Bucket)
		}
		filter.Status = statuses
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return page, nil
}

// PressQueue lists the orders pressing staff can work on, grouped by status
// and oldest-first within each status so the queue drains fairly. Staff see
// only unclaimed orders and their own; admins see the whole queue.
func (s *dashboardService) PressQueue(ctx context.Context, query PressQueueQuery) (domain.CursorPage[Order], error) {
	if query.Actor.Role != domain.RolePress && !query.Actor.IsAdmin() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: the press queue is only available to pressing staff", ErrUnauthorized)
	}

	filter := repositories.OrderListFilter{
		Status:     pressQueueStatuses,
		Sort:       repositories.OrderSortStatusThenCreated,
		Pagination: normalizePager(query.Pagination),
	}
	if !query.Actor.IsAdmin() {
		filter.ClaimableByStaffID = query.Actor.ID
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return page, nil
}

// DeliveryQueue lists claimable pickups, deliveries ready to start, and the
// actor's active runs, newest-first.
func (s *dashboardService) DeliveryQueue(ctx context.Context, query DeliveryQueueQuery) (domain.CursorPage[Order], error) {
	if query.Actor.Role != domain.RoleDelivery && !query.Actor.IsAdmin() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: the delivery queue is only available to delivery staff", ErrUnauthorized)
	}

	page, err := s.orders.DeliveryQueue(ctx, query.Actor.ID, normalizePager(query.Pagination))
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return page, nil
}

// AdminOverview aggregates order counts per status and bucket, the latest
// orders, and the press staff leaderboard.
func (s *dashboardService) AdminOverview(ctx context.Context, actor Actor) (AdminDashboard, error) {
	if !actor.IsAdmin() {
		return AdminDashboard{}, fmt.Errorf("%w: the admin overview is admin only", ErrUnauthorized)
	}

	counts, err := s.orders.CountByStatus(ctx)
	if err != nil {
		return AdminDashboard{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	var total int64
	bucketCounts := make(map[domain.StatusBucket]int64, 4)
	for _, count := range counts {
		total += count.Count
		if bucket, ok := bucketForStatus(count.Status); ok {
			bucketCounts[bucket] += count.Count
		}
	}

	recent, err := s.orders.List(ctx, repositories.OrderListFilter{
		Sort:       repositories.OrderSortCreatedDesc,
		Pagination: domain.Pagination{PageSize: adminRecentOrdersLimit},
	})
	if err != nil {
		return AdminDashboard{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	performance, err := s.orders.StaffPerformance(ctx, staffLeaderboardSize)
	if err != nil {
		return AdminDashboard{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	return AdminDashboard{
		TotalOrders:      total,
		StatusCounts:     counts,
		BucketCounts:     bucketCounts,
		RecentOrders:     recent.Items,
		StaffPerformance: performance,
	}, nil
}

func bucketForStatus(status domain.OrderStatus) (domain.StatusBucket, bool) {
	buckets := []domain.StatusBucket{
		domain.BucketPending,
		domain.BucketInProgress,
		domain.BucketReady,
		domain.BucketDone,
	}
	for _, bucket := range buckets {
		if statusIn(status, bucket.Statuses()) {
			return bucket, true
		}
	}
	return "", false
}
