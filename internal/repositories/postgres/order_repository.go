package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/pagination"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

const orderColumns = `id, order_number, customer_id, status, payment_status, delivery_type,
	pickup_address, delivery_address, preferred_pickup_date, preferred_delivery_date,
	subtotal, tax_amount, shipping_cost, discount_amount, total_amount,
	assigned_staff_id, delivery_person_id,
	special_instructions, internal_notes, cancellation_reason,
	payment_method, payment_reference, payment_date,
	created_at, updated_at, confirmed_at, scheduled_pickup_at, out_for_pickup_at,
	picked_up_at, processing_at, ready_at, out_for_delivery_at, completed_at, cancelled_at,
	version`

const orderItemColumns = `id, order_id, service_id, variant_id, name, description,
	quantity, unit_price, discount_amount, options, total_price, created_at, updated_at`

const insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35)`

// updateOrderSQL bumps the version as part of the guarded write; callers pass
// the version they read and a stale read surfaces as zero rows affected.
const updateOrderSQL = `UPDATE orders SET
	status = $2, payment_status = $3, delivery_type = $4,
	pickup_address = $5, delivery_address = $6,
	preferred_pickup_date = $7, preferred_delivery_date = $8,
	subtotal = $9, tax_amount = $10, shipping_cost = $11, discount_amount = $12, total_amount = $13,
	assigned_staff_id = $14, delivery_person_id = $15,
	special_instructions = $16, internal_notes = $17, cancellation_reason = $18,
	payment_method = $19, payment_reference = $20, payment_date = $21,
	updated_at = $22, confirmed_at = $23, scheduled_pickup_at = $24, out_for_pickup_at = $25,
	picked_up_at = $26, processing_at = $27, ready_at = $28, out_for_delivery_at = $29,
	completed_at = $30, cancelled_at = $31,
	version = version + 1
	WHERE id = $1 AND version = $32`

const insertOrderItemSQL = `INSERT INTO order_items (` + orderItemColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// OrderRepository implements repositories.OrderRepository on PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository constructs a PostgreSQL-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Insert persists a new order header together with its line items.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "postgres.orders.insert"

	db := dbFromContext(ctx, r.pool)
	if _, err := db.Exec(ctx, insertOrderSQL, orderArgs(order)...); err != nil {
		return wrapError(op, err)
	}
	for _, item := range order.Items {
		if err := insertOrderItem(ctx, db, order.ID, item); err != nil {
			return wrapError(op, err)
		}
	}
	return nil
}

// Update rewrites the order header guarded by its version and replaces the
// line items. A version mismatch on an existing order reports a conflict.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	const op = "postgres.orders.update"

	db := dbFromContext(ctx, r.pool)
	tag, err := db.Exec(ctx, updateOrderSQL, updateOrderArgs(order)...)
	if err != nil {
		return wrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return wrapError(op, err)
		}
		if !exists {
			return notFoundError(op, fmt.Errorf("order %s not found", order.ID))
		}
		return conflictError(op, fmt.Errorf("order %s version %d is stale", order.ID, order.Version))
	}

	if _, err := db.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return wrapError(op, err)
	}
	for _, item := range order.Items {
		if err := insertOrderItem(ctx, db, order.ID, item); err != nil {
			return wrapError(op, err)
		}
	}
	return nil
}

// Delete removes the order; line items cascade.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	const op = "postgres.orders.delete"

	db := dbFromContext(ctx, r.pool)
	tag, err := db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return wrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(op, fmt.Errorf("order %s not found", orderID))
	}
	return nil
}

// FindByID loads one order with its items. Inside a unit of work the order
// row is locked so concurrent transitions on the same order serialize.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	const op = "postgres.orders.find_by_id"

	db := dbFromContext(ctx, r.pool)
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if txFromContext(ctx) != nil {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(db.QueryRow(ctx, query, orderID))
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	items, err := loadOrderItems(ctx, db, []string{order.ID})
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	order.Items = items[order.ID]
	return order, nil
}

// List pages orders matching the filter, attaching line items in one extra
// round trip per page.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	const op = "postgres.orders.list"

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}
	query, args, err := buildOrderListQuery(filter, cursor, pageSize)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}

	return r.queryOrderPage(ctx, op, filter.Sort, pageSize, query, args)
}

// DeliveryQueue lists orders a delivery partner can act on: unclaimed (or
// own) orders awaiting pickup or dispatch, plus the partner's active runs.
func (r *OrderRepository) DeliveryQueue(ctx context.Context, actorID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	const op = "postgres.orders.delivery_queue"

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}

	claimable := []string{string(domain.OrderStatusScheduledForPickup), string(domain.OrderStatusReady)}
	active := []string{string(domain.OrderStatusOutForPickup), string(domain.OrderStatusOutForDelivery)}

	args := []any{claimable, actorID, active}
	query := `SELECT ` + orderColumns + ` FROM orders
	WHERE ((status = ANY($1) AND (delivery_person_id IS NULL OR delivery_person_id = $2))
		OR (delivery_person_id = $2 AND status = ANY($3)))`
	if len(cursor.StartAfter) > 0 {
		createdAt, id, err := decodeCreatedCursor(cursor)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapError(op, err)
		}
		args = append(args, createdAt, id)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, pageSize+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	return r.queryOrderPage(ctx, op, repositories.OrderSortCreatedDesc, pageSize, query, args)
}

// CountByStatus tallies orders per status.
func (r *OrderRepository) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	const op = "postgres.orders.count_by_status"

	db := dbFromContext(ctx, r.pool)
	rows, err := db.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var counts []domain.StatusCount
	for rows.Next() {
		var count domain.StatusCount
		if err := rows.Scan(&count.Status, &count.Count); err != nil {
			return nil, wrapError(op, err)
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return counts, nil
}

// StaffPerformance aggregates completed-order throughput per press assignee,
// best performers first.
func (r *OrderRepository) StaffPerformance(ctx context.Context, limit int) ([]domain.StaffPerformance, error) {
	const op = "postgres.orders.staff_performance"

	if limit <= 0 {
		limit = 5
	}

	db := dbFromContext(ctx, r.pool)
	rows, err := db.Query(ctx, `SELECT o.assigned_staff_id, u.email, u.first_name, u.last_name,
		COUNT(*) AS completed_orders,
		AVG(EXTRACT(EPOCH FROM (o.completed_at - o.created_at)))::float8 AS avg_seconds
	FROM orders o
	JOIN users u ON u.id = o.assigned_staff_id
	WHERE o.status = $1 AND o.completed_at IS NOT NULL
	GROUP BY o.assigned_staff_id, u.email, u.first_name, u.last_name
	ORDER BY completed_orders DESC, u.email
	LIMIT $2`, string(domain.OrderStatusCompleted), limit)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var entries []domain.StaffPerformance
	for rows.Next() {
		var (
			entry      domain.StaffPerformance
			firstName  string
			lastName   string
			avgSeconds float64
		)
		if err := rows.Scan(&entry.StaffID, &entry.StaffEmail, &firstName, &lastName, &entry.CompletedOrders, &avgSeconds); err != nil {
			return nil, wrapError(op, err)
		}
		entry.StaffName = domain.User{Email: entry.StaffEmail, FirstName: firstName, LastName: lastName}.FullName()
		entry.AvgCompletionTime = time.Duration(avgSeconds * float64(time.Second))
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return entries, nil
}

func (r *OrderRepository) queryOrderPage(ctx context.Context, op string, sort repositories.OrderSort, pageSize int, query string, args []any) (domain.CursorPage[domain.Order], error) {
	db := dbFromContext(ctx, r.pool)
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}

	next := ""
	if len(orders) > pageSize {
		orders = orders[:pageSize]
		next, err = encodeOrderCursor(sort, orders[len(orders)-1])
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapError(op, err)
		}
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	itemsByOrder, err := loadOrderItems(ctx, db, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}
	for i := range orders {
		orders[i].Items = itemsByOrder[orders[i].ID]
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: next}, nil
}

// buildOrderListQuery assembles the filtered, keyset-paged SELECT. The page
// token carries the sort key of the last row of the previous page.
func buildOrderListQuery(filter repositories.OrderListFilter, cursor pagination.Cursor, pageSize int) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CustomerID != "" {
		conds = append(conds, "customer_id = "+arg(filter.CustomerID))
	}
	if filter.AssignedStaffID != "" {
		conds = append(conds, "assigned_staff_id = "+arg(filter.AssignedStaffID))
	}
	if filter.ClaimableByStaffID != "" {
		conds = append(conds, "(assigned_staff_id IS NULL OR assigned_staff_id = "+arg(filter.ClaimableByStaffID)+")")
	}
	if len(filter.Status) > 0 {
		conds = append(conds, "status = ANY("+arg(statusStrings(filter.Status))+")")
	}
	if filter.DateRange.From != nil {
		conds = append(conds, "created_at >= "+arg(*filter.DateRange.From))
	}
	if filter.DateRange.To != nil {
		conds = append(conds, "created_at <= "+arg(*filter.DateRange.To))
	}

	var orderBy string
	switch filter.Sort {
	case repositories.OrderSortStatusThenCreated:
		orderBy = "status, created_at, id"
		if len(cursor.StartAfter) > 0 {
			status, createdAt, id, err := decodeStatusCursor(cursor)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, fmt.Sprintf("(status, created_at, id) > (%s, %s, %s)", arg(status), arg(createdAt), arg(id)))
		}
	default:
		orderBy = "created_at DESC, id DESC"
		if len(cursor.StartAfter) > 0 {
			createdAt, id, err := decodeCreatedCursor(cursor)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(createdAt), arg(id)))
		}
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + orderBy
	query += " LIMIT " + arg(pageSize+1)

	return query, args, nil
}

func encodeOrderCursor(sort repositories.OrderSort, last domain.Order) (string, error) {
	cursor := pagination.Cursor{}
	switch sort {
	case repositories.OrderSortStatusThenCreated:
		cursor.StartAfter = []any{string(last.Status), last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID}
	default:
		cursor.StartAfter = []any{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID}
	}
	return pagination.EncodeToken(cursor)
}

func decodeCreatedCursor(cursor pagination.Cursor) (time.Time, string, error) {
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", fmt.Errorf("postgres: malformed order page token")
	}
	createdAt, err := cursorTime(cursor.StartAfter[0])
	if err != nil {
		return time.Time{}, "", err
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok {
		return time.Time{}, "", fmt.Errorf("postgres: malformed order page token")
	}
	return createdAt, id, nil
}

func decodeStatusCursor(cursor pagination.Cursor) (string, time.Time, string, error) {
	if len(cursor.StartAfter) != 3 {
		return "", time.Time{}, "", fmt.Errorf("postgres: malformed order page token")
	}
	status, ok := cursor.StartAfter[0].(string)
	if !ok {
		return "", time.Time{}, "", fmt.Errorf("postgres: malformed order page token")
	}
	createdAt, err := cursorTime(cursor.StartAfter[1])
	if err != nil {
		return "", time.Time{}, "", err
	}
	id, ok := cursor.StartAfter[2].(string)
	if !ok {
		return "", time.Time{}, "", fmt.Errorf("postgres: malformed order page token")
	}
	return status, createdAt, id, nil
}

func cursorTime(value any) (time.Time, error) {
	raw, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("postgres: malformed order page token")
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: malformed order page token: %v", err)
	}
	return parsed, nil
}

func statusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID,
		&order.Status, &order.PaymentStatus, &order.DeliveryType,
		&order.PickupAddress, &order.DeliveryAddress,
		&order.PreferredPickupDate, &order.PreferredDeliveryDate,
		&order.Subtotal, &order.TaxAmount, &order.ShippingCost, &order.DiscountAmount, &order.TotalAmount,
		&order.AssignedStaffID, &order.DeliveryPersonID,
		&order.SpecialInstructions, &order.InternalNotes, &order.CancellationReason,
		&order.PaymentMethod, &order.PaymentReference, &order.PaymentDate,
		&order.CreatedAt, &order.UpdatedAt,
		&order.ConfirmedAt, &order.ScheduledPickupAt, &order.OutForPickupAt,
		&order.PickedUpAt, &order.ProcessingAt, &order.ReadyAt,
		&order.OutForDeliveryAt, &order.CompletedAt, &order.CancelledAt,
		&order.Version,
	)
	return order, err
}

func orderArgs(order domain.Order) []any {
	return []any{
		order.ID, order.OrderNumber, order.CustomerID,
		string(order.Status), string(order.PaymentStatus), string(order.DeliveryType),
		order.PickupAddress, order.DeliveryAddress,
		order.PreferredPickupDate, order.PreferredDeliveryDate,
		order.Subtotal, order.TaxAmount, order.ShippingCost, order.DiscountAmount, order.TotalAmount,
		order.AssignedStaffID, order.DeliveryPersonID,
		order.SpecialInstructions, order.InternalNotes, order.CancellationReason,
		order.PaymentMethod, order.PaymentReference, order.PaymentDate,
		order.CreatedAt, order.UpdatedAt,
		order.ConfirmedAt, order.ScheduledPickupAt, order.OutForPickupAt,
		order.PickedUpAt, order.ProcessingAt, order.ReadyAt,
		order.OutForDeliveryAt, order.CompletedAt, order.CancelledAt,
		order.Version,
	}
}

func updateOrderArgs(order domain.Order) []any {
	return []any{
		order.ID,
		string(order.Status), string(order.PaymentStatus), string(order.DeliveryType),
		order.PickupAddress, order.DeliveryAddress,
		order.PreferredPickupDate, order.PreferredDeliveryDate,
		order.Subtotal, order.TaxAmount, order.ShippingCost, order.DiscountAmount, order.TotalAmount,
		order.AssignedStaffID, order.DeliveryPersonID,
		order.SpecialInstructions, order.InternalNotes, order.CancellationReason,
		order.PaymentMethod, order.PaymentReference, order.PaymentDate,
		order.UpdatedAt,
		order.ConfirmedAt, order.ScheduledPickupAt, order.OutForPickupAt,
		order.PickedUpAt, order.ProcessingAt, order.ReadyAt,
		order.OutForDeliveryAt, order.CompletedAt, order.CancelledAt,
		order.Version,
	}
}

func insertOrderItem(ctx context.Context, db querier, orderID string, item domain.OrderItem) error {
	options := item.Options
	if options == nil {
		options = []domain.OrderItemOption{}
	}
	encoded, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("encode item %s options: %w", item.ID, err)
	}

	_, err = db.Exec(ctx, insertOrderItemSQL,
		item.ID, orderID, item.ServiceID, item.VariantID,
		item.Name, item.Description,
		item.Quantity, item.UnitPrice, item.DiscountAmount,
		encoded, item.TotalPrice,
		item.CreatedAt, item.UpdatedAt,
	)
	return err
}

func loadOrderItems(ctx context.Context, db querier, orderIDs []string) (map[string][]domain.OrderItem, error) {
	items := make(map[string][]domain.OrderItem)
	if len(orderIDs) == 0 {
		return items, nil
	}

	rows, err := db.Query(ctx, `SELECT `+orderItemColumns+` FROM order_items
	WHERE order_id = ANY($1) ORDER BY created_at, id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    domain.OrderItem
			options []byte
		)
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ServiceID, &item.VariantID,
			&item.Name, &item.Description,
			&item.Quantity, &item.UnitPrice, &item.DiscountAmount,
			&options, &item.TotalPrice,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &item.Options); err != nil {
				return nil, fmt.Errorf("decode item %s options: %w", item.ID, err)
			}
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	return items, rows.Err()
}
