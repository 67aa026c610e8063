package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/pagination"
)

const statusUpdateColumns = `id, order_id, from_status, to_status, changed_by_id, notes, ip_hash, user_agent, created_at`

// StatusUpdateRepository implements repositories.StatusUpdateRepository on
// PostgreSQL. Rows are append-only; nothing updates or deletes them.
type StatusUpdateRepository struct {
	pool *pgxpool.Pool
}

// NewStatusUpdateRepository constructs a PostgreSQL-backed audit repository.
func NewStatusUpdateRepository(pool *pgxpool.Pool) *StatusUpdateRepository {
	return &StatusUpdateRepository{pool: pool}
}

// Append persists one transition audit record.
func (r *StatusUpdateRepository) Append(ctx context.Context, update domain.OrderStatusUpdate) error {
	const op = "postgres.status_updates.append"

	db := dbFromContext(ctx, r.pool)
	_, err := db.Exec(ctx, `INSERT INTO order_status_updates (`+statusUpdateColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		update.ID, update.OrderID,
		string(update.FromStatus), string(update.ToStatus),
		update.ChangedByID, update.Notes, update.IPHash, update.UserAgent,
		update.CreatedAt,
	)
	if err != nil {
		return wrapError(op, err)
	}
	return nil
}

// ListByOrder pages the audit trail for one order, newest first.
func (r *StatusUpdateRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderStatusUpdate], error) {
	const op = "postgres.status_updates.list_by_order"

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderStatusUpdate]{}, wrapError(op, err)
	}

	args := []any{orderID}
	query := `SELECT ` + statusUpdateColumns + ` FROM order_status_updates WHERE order_id = $1`
	if len(cursor.StartAfter) > 0 {
		createdAt, id, err := decodeCreatedCursor(cursor)
		if err != nil {
			return domain.CursorPage[domain.OrderStatusUpdate]{}, wrapError(op, err)
		}
		args = append(args, createdAt, id)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, pageSize+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	db := dbFromContext(ctx, r.pool)
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.OrderStatusUpdate]{}, wrapError(op, err)
	}
	defer rows.Close()

	var updates []domain.OrderStatusUpdate
	for rows.Next() {
		update, err := scanStatusUpdate(rows)
		if err != nil {
			return domain.CursorPage[domain.OrderStatusUpdate]{}, wrapError(op, err)
		}
		updates = append(updates, update)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.OrderStatusUpdate]{}, wrapError(op, err)
	}

	next := ""
	if len(updates) > pageSize {
		updates = updates[:pageSize]
		last := updates[len(updates)-1]
		next, err = pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.OrderStatusUpdate]{}, wrapError(op, err)
		}
	}

	return domain.CursorPage[domain.OrderStatusUpdate]{Items: updates, NextPageToken: next}, nil
}

// Latest returns the most recent audit record for the order.
func (r *StatusUpdateRepository) Latest(ctx context.Context, orderID string) (domain.OrderStatusUpdate, error) {
	const op = "postgres.status_updates.latest"

	db := dbFromContext(ctx, r.pool)
	update, err := scanStatusUpdate(db.QueryRow(ctx, `SELECT `+statusUpdateColumns+` FROM order_status_updates
	WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, orderID))
	if err != nil {
		return domain.OrderStatusUpdate{}, wrapError(op, err)
	}
	return update, nil
}

func scanStatusUpdate(row rowScanner) (domain.OrderStatusUpdate, error) {
	var update domain.OrderStatusUpdate
	err := row.Scan(
		&update.ID, &update.OrderID,
		&update.FromStatus, &update.ToStatus,
		&update.ChangedByID, &update.Notes, &update.IPHash, &update.UserAgent,
		&update.CreatedAt,
	)
	return update, err
}
