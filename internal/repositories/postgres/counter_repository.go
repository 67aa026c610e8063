package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CounterRepository implements repositories.CounterRepository with a single
// upsert, so concurrent callers never observe the same value.
type CounterRepository struct {
	pool *pgxpool.Pool
}

// NewCounterRepository constructs a PostgreSQL-backed counter repository.
func NewCounterRepository(pool *pgxpool.Pool) *CounterRepository {
	return &CounterRepository{pool: pool}
}

// Next atomically increments the counter identified by counterID and returns
// the new value. Missing counters start at zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	const op = "postgres.counters.next"

	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, fmt.Errorf("postgres: counter id is required")
	}
	if step <= 0 {
		return 0, fmt.Errorf("postgres: counter step must be positive, got %d", step)
	}

	db := dbFromContext(ctx, r.pool)
	var value int64
	err := db.QueryRow(ctx, `INSERT INTO counters (id, value) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET value = counters.value + EXCLUDED.value
	RETURNING value`, id, step).Scan(&value)
	if err != nil {
		return 0, wrapError(op, err)
	}
	return value, nil
}
