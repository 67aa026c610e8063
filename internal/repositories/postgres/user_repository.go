package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
)

const userColumns = `id, email, first_name, last_name, phone_number, role, superuser, active, locale, created_at, updated_at`

// UserRepository implements repositories.UserRepository on PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository constructs a PostgreSQL-backed user repository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// FindByID loads one user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	const op = "postgres.users.find_by_id"

	db := dbFromContext(ctx, r.pool)
	user, err := scanUser(db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return domain.User{}, wrapError(op, err)
	}
	return user, nil
}

// FindByEmail loads one user by email, matched case-insensitively.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	const op = "postgres.users.find_by_email"

	db := dbFromContext(ctx, r.pool)
	user, err := scanUser(db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`,
		strings.TrimSpace(email)))
	if err != nil {
		return domain.User{}, wrapError(op, err)
	}
	return user, nil
}

// Update rewrites the user's mutable columns.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	const op = "postgres.users.update"

	db := dbFromContext(ctx, r.pool)
	tag, err := db.Exec(ctx, `UPDATE users SET
	email = $2, first_name = $3, last_name = $4, phone_number = $5,
	role = $6, superuser = $7, active = $8, locale = $9, updated_at = $10
	WHERE id = $1`,
		user.ID, user.Email, user.FirstName, user.LastName, user.PhoneNumber,
		string(user.Role), user.Superuser, user.Active, user.Locale, user.UpdatedAt,
	)
	if err != nil {
		return wrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(op, fmt.Errorf("user %s not found", user.ID))
	}
	return nil
}

func scanUser(row rowScanner) (domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.PhoneNumber,
		&user.Role, &user.Superuser, &user.Active, &user.Locale,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	// The accounts subsystem owns these rows; tolerate whatever role casing it wrote.
	if parsed, ok := domain.ParseRole(string(user.Role)); ok {
		user.Role = parsed
	}
	return user, nil
}
