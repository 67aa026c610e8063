package repositories

import (
	"context"
	"time"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
)

// Registry hands out the typed repositories one persistence backend provides,
// plus the transaction and shutdown hooks that go with them.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	StatusUpdates() StatusUpdateRepository
	Users() UserRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError classifies a persistence failure so services can map it to
// the right domain error without inspecting driver codes.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork runs fn with every repository call inside it sharing one transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderSort selects the ordering applied to order listings.
type OrderSort string

const (
	// OrderSortCreatedDesc orders newest-first (customer and delivery views).
	OrderSortCreatedDesc OrderSort = "created_desc"
	// OrderSortStatusThenCreated orders by status, then creation time (press queue).
	OrderSortStatusThenCreated OrderSort = "status_created"
)

// OrderRepository persists order headers together with their line items.
//
// Update is guarded by the order's Version: the row is only written when the
// stored version matches, and the version is incremented as part of the write.
// A stale version surfaces as a conflict RepositoryError. FindByID acquires a
// row lock when invoked inside a unit-of-work transaction so that concurrent
// transitions on the same order serialize.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	DeliveryQueue(ctx context.Context, actorID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	CountByStatus(ctx context.Context) ([]domain.StatusCount, error)
	StaffPerformance(ctx context.Context, limit int) ([]domain.StaffPerformance, error)
}

// StatusUpdateRepository persists the immutable transition audit trail.
type StatusUpdateRepository interface {
	Append(ctx context.Context, update domain.OrderStatusUpdate) error
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderStatusUpdate], error)
	Latest(ctx context.Context, orderID string) (domain.OrderStatusUpdate, error)
}

// UserRepository reads identity projections maintained by the accounts subsystem.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	Update(ctx context.Context, user domain.User) error
}

// CatalogRepository provides read-only access to the service catalog.
type CatalogRepository interface {
	ListServices(ctx context.Context, filter ServiceFilter) (domain.CursorPage[domain.Service], error)
	FindService(ctx context.Context, serviceID string) (domain.Service, error)
	ListVariants(ctx context.Context, serviceID string) ([]domain.ServiceVariant, error)
	FindVariant(ctx context.Context, variantID string) (domain.ServiceVariant, error)
	ListOptions(ctx context.Context, serviceID string) ([]domain.ServiceOption, error)
	FindOptions(ctx context.Context, optionIDs []string) ([]domain.ServiceOption, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// OrderListFilter narrows and pages order listings. Zero-valued fields are
// ignored; Status entries are OR-combined. ClaimableByStaffID restricts the
// result to orders that are unassigned or already assigned to that staff
// member, which is how the press queue hides colleagues' work.
type OrderListFilter struct {
	CustomerID         string
	AssignedStaffID    string
	ClaimableByStaffID string
	Status             []domain.OrderStatus
	DateRange          domain.RangeQuery[time.Time]
	Sort               OrderSort
	Pagination         domain.Pagination
}

// ServiceFilter narrows catalog listings to active services or a service type.
type ServiceFilter struct {
	ServiceType string
	ActiveOnly  bool
	Pagination  domain.Pagination
}
