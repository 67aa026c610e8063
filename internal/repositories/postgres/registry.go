package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

// Registry bundles the PostgreSQL repository implementations behind the
// repositories.Registry contract consumed by dependency injection.
type Registry struct {
	pool          *pgxpool.Pool
	orders        *OrderRepository
	statusUpdates *StatusUpdateRepository
	users         *UserRepository
	catalog       *CatalogRepository
	counters      *CounterRepository
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository registry on top of a connection pool.
// The health repository is assembled by the caller so it can probe
// dependencies beyond the database.
func NewRegistry(pool *pgxpool.Pool, health repositories.HealthRepository) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres: registry requires a connection pool")
	}
	if health == nil {
		return nil, errors.New("postgres: registry requires a health repository")
	}

	return &Registry{
		pool:          pool,
		orders:        NewOrderRepository(pool),
		statusUpdates: NewStatusUpdateRepository(pool),
		users:         NewUserRepository(pool),
		catalog:       NewCatalogRepository(pool),
		counters:      NewCounterRepository(pool),
		health:        health,
	}, nil
}

// Close releases the underlying connection pool.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	r.pool.Close()
	return nil
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// StatusUpdates returns the transition audit repository.
func (r *Registry) StatusUpdates() repositories.StatusUpdateRepository { return r.statusUpdates }

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Catalog returns the catalog repository.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }
