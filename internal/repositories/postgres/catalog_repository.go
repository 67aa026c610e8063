package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/pagination"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

const serviceColumns = `id, name, slug, service_type, description, base_price, taxable, active, created_at, updated_at`

// CatalogRepository implements repositories.CatalogRepository on PostgreSQL.
// The engine only reads the catalog; another system maintains it.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository constructs a PostgreSQL-backed catalog repository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListServices pages catalog services ordered by slug.
func (r *CatalogRepository) ListServices(ctx context.Context, filter repositories.ServiceFilter) (domain.CursorPage[domain.Service], error) {
	const op = "postgres.catalog.list_services"

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Service]{}, wrapError(op, err)
	}

	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ServiceType != "" {
		conds = append(conds, "service_type = "+arg(filter.ServiceType))
	}
	if filter.ActiveOnly {
		conds = append(conds, "active")
	}
	if len(cursor.StartAfter) == 1 {
		if slug, ok := cursor.StartAfter[0].(string); ok {
			conds = append(conds, "slug > "+arg(slug))
		}
	}

	query := `SELECT ` + serviceColumns + ` FROM services`
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	args = append(args, pageSize+1)
	query += fmt.Sprintf(" ORDER BY slug LIMIT $%d", len(args))

	db := dbFromContext(ctx, r.pool)
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Service]{}, wrapError(op, err)
	}
	defer rows.Close()

	var services []domain.Service
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return domain.CursorPage[domain.Service]{}, wrapError(op, err)
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Service]{}, wrapError(op, err)
	}

	next := ""
	if len(services) > pageSize {
		services = services[:pageSize]
		next, err = pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{services[len(services)-1].Slug},
		})
		if err != nil {
			return domain.CursorPage[domain.Service]{}, wrapError(op, err)
		}
	}

	return domain.CursorPage[domain.Service]{Items: services, NextPageToken: next}, nil
}

// FindService loads one catalog service by identifier.
func (r *CatalogRepository) FindService(ctx context.Context, serviceID string) (domain.Service, error) {
	const op = "postgres.catalog.find_service"

	db := dbFromContext(ctx, r.pool)
	service, err := scanService(db.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, serviceID))
	if err != nil {
		return domain.Service{}, wrapError(op, err)
	}
	return service, nil
}

// ListVariants returns all variants of a service, active or not.
func (r *CatalogRepository) ListVariants(ctx context.Context, serviceID string) ([]domain.ServiceVariant, error) {
	const op = "postgres.catalog.list_variants"

	db := dbFromContext(ctx, r.pool)
	rows, err := db.Query(ctx, `SELECT id, service_id, name, price_adjustment, active
	FROM service_variants WHERE service_id = $1 ORDER BY name, id`, serviceID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var variants []domain.ServiceVariant
	for rows.Next() {
		var variant domain.ServiceVariant
		if err := rows.Scan(&variant.ID, &variant.ServiceID, &variant.Name, &variant.PriceAdjustment, &variant.Active); err != nil {
			return nil, wrapError(op, err)
		}
		variants = append(variants, variant)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return variants, nil
}

// FindVariant loads one service variant by identifier.
func (r *CatalogRepository) FindVariant(ctx context.Context, variantID string) (domain.ServiceVariant, error) {
	const op = "postgres.catalog.find_variant"

	db := dbFromContext(ctx, r.pool)
	var variant domain.ServiceVariant
	err := db.QueryRow(ctx, `SELECT id, service_id, name, price_adjustment, active
	FROM service_variants WHERE id = $1`, variantID).
		Scan(&variant.ID, &variant.ServiceID, &variant.Name, &variant.PriceAdjustment, &variant.Active)
	if err != nil {
		return domain.ServiceVariant{}, wrapError(op, err)
	}
	return variant, nil
}

// ListOptions returns all add-on options of a service, active or not.
func (r *CatalogRepository) ListOptions(ctx context.Context, serviceID string) ([]domain.ServiceOption, error) {
	const op = "postgres.catalog.list_options"

	db := dbFromContext(ctx, r.pool)
	rows, err := db.Query(ctx, `SELECT id, service_id, name, description, price_adjustment, active
	FROM service_options WHERE service_id = $1 ORDER BY name, id`, serviceID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	options, err := collectServiceOptions(rows)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return options, nil
}

// FindOptions loads the options matching the given identifiers. Unknown
// identifiers are simply absent from the result.
func (r *CatalogRepository) FindOptions(ctx context.Context, optionIDs []string) ([]domain.ServiceOption, error) {
	const op = "postgres.catalog.find_options"

	if len(optionIDs) == 0 {
		return nil, nil
	}

	db := dbFromContext(ctx, r.pool)
	rows, err := db.Query(ctx, `SELECT id, service_id, name, description, price_adjustment, active
	FROM service_options WHERE id = ANY($1) ORDER BY name, id`, optionIDs)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	options, err := collectServiceOptions(rows)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return options, nil
}

func collectServiceOptions(rows pgx.Rows) ([]domain.ServiceOption, error) {
	var options []domain.ServiceOption
	for rows.Next() {
		var option domain.ServiceOption
		if err := rows.Scan(&option.ID, &option.ServiceID, &option.Name, &option.Description, &option.PriceAdjustment, &option.Active); err != nil {
			return nil, err
		}
		options = append(options, option)
	}
	return options, rows.Err()
}

func scanService(row rowScanner) (domain.Service, error) {
	var service domain.Service
	err := row.Scan(
		&service.ID, &service.Name, &service.Slug, &service.ServiceType, &service.Description,
		&service.BasePrice, &service.Taxable, &service.Active,
		&service.CreatedAt, &service.UpdatedAt,
	)
	return service, err
}
