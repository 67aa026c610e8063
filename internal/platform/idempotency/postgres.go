package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTable = "idempotency_keys"

// PostgresOption customises the PostgresStore behaviour.
type PostgresOption func(*PostgresStore)

// WithTable overrides the table name used to store idempotency keys.
// The name is interpolated into SQL and must be a trusted identifier.
func WithTable(name string) PostgresOption {
	return func(store *PostgresStore) {
		if name != "" {
			store.table = name
		}
	}
}

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore constructs a Postgres-backed idempotency store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	store := &PostgresStore{
		pool:  pool,
		table: defaultTable,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Reserve ensures the key is uniquely associated with the fingerprint and returns any stored response.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)

	var result Reservation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		record, found, err := s.lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}

		if !found {
			inserted, err := s.insertPending(ctx, tx, id, key, fingerprint, now, ttl)
			if err != nil {
				return err
			}
			if inserted {
				result = Reservation{State: ReservationStateNew, Record: pendingRecord(key, fingerprint, now, ttl)}
				return nil
			}
			// Lost an insert race; the competing row is committed now.
			record, found, err = s.lockRecord(ctx, tx, id)
			if err != nil {
				return err
			}
			if !found {
				result = Reservation{State: ReservationStateNew, Record: pendingRecord(key, fingerprint, now, ttl)}
				return nil
			}
		}

		if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}

		if !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt) {
			// Treat expired records as new reservations.
			if err := s.resetPending(ctx, tx, id, key, fingerprint, now, ttl); err != nil {
				return err
			}
			result = Reservation{State: ReservationStateNew, Record: pendingRecord(key, fingerprint, now, ttl)}
			return nil
		}

		if record.Status == StatusCompleted {
			result = Reservation{State: ReservationStateCompleted, Record: record}
			return nil
		}

		result = Reservation{State: ReservationStatePending, Record: record}
		return nil
	})

	return result, err
}

// SaveResponse persists the completed HTTP response associated with the key.
func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)

	var headersJSON []byte
	if headers := sanitizeHeaders(resp.Headers); headers != nil {
		encoded, err := json.Marshal(headers)
		if err != nil {
			return fmt.Errorf("idempotency: encode headers: %w", err)
		}
		headersJSON = encoded
	}
	var bodyCopy []byte
	if len(resp.Body) > 0 {
		bodyCopy = append([]byte(nil), resp.Body...)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, request_key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			status = EXCLUDED.status,
			response_status = EXCLUDED.response_status,
			response_headers = EXCLUDED.response_headers,
			response_body = EXCLUDED.response_body,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		WHERE %s.fingerprint = EXCLUDED.fingerprint`, s.table, s.table)

	tag, err := s.pool.Exec(ctx, query, id, key, fingerprint, string(StatusCompleted), resp.Status, headersJSON, bodyCopy, now, now.Add(ttl))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release removes the reservation to allow callers to retry.
func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	id := storageKey(key)
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1 AND fingerprint = $2`, s.table)
	_, err := s.pool.Exec(ctx, query, id, fingerprint)
	return err
}

// CleanupExpired removes expired idempotency records up to the provided limit.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		DELETE FROM %s WHERE key IN (
			SELECT key FROM %s WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2
		)`, s.table, s.table)

	tag, err := s.pool.Exec(ctx, query, now, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) lockRecord(ctx context.Context, tx pgx.Tx, id string) (Record, bool, error) {
	query := fmt.Sprintf(`
		SELECT request_key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
		FROM %s WHERE key = $1 FOR UPDATE`, s.table)

	var (
		record      Record
		status      string
		headersJSON []byte
	)
	err := tx.QueryRow(ctx, query, id).Scan(
		&record.Key,
		&record.Fingerprint,
		&status,
		&record.ResponseStatus,
		&headersJSON,
		&record.ResponseBody,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	record.Status = Status(status)
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &record.ResponseHeaders); err != nil {
			return Record{}, false, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	return record, true, nil
}

func (s *PostgresStore) insertPending(ctx context.Context, tx pgx.Tx, id, key, fingerprint string, now time.Time, ttl time.Duration) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, request_key, fingerprint, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (key) DO NOTHING`, s.table)

	tag, err := tx.Exec(ctx, query, id, key, fingerprint, string(StatusPending), now, now.Add(ttl))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) resetPending(ctx context.Context, tx pgx.Tx, id, key, fingerprint string, now time.Time, ttl time.Duration) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			request_key = $2,
			fingerprint = $3,
			status = $4,
			response_status = 0,
			response_headers = NULL,
			response_body = NULL,
			created_at = $5,
			updated_at = $5,
			expires_at = $6
		WHERE key = $1`, s.table)

	_, err := tx.Exec(ctx, query, id, key, fingerprint, string(StatusPending), now, now.Add(ttl))
	return err
}

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}
