package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

const (
	statusLogHashPrefix    = "sha256:"
	statusLogNotesLimit    = 1000
	statusLogAgentLimit    = 256
	statusUpdateIDPrefix   = "osu_"
	defaultStatusPageLimit = 50
)

// StatusLogServiceDeps bundles constructor inputs for the status log writer.
type StatusLogServiceDeps struct {
	Repository  repositories.StatusUpdateRepository
	Clock       func() time.Time
	IDGenerator func() string
	HashSalt    string
}

type statusLogService struct {
	repo     repositories.StatusUpdateRepository
	clock    func() time.Time
	newID    func() string
	hashSalt string
}

var _ StatusLogService = (*statusLogService)(nil)

// NewStatusLogService creates the audit trail writer backed by the supplied
// repository.
func NewStatusLogService(deps StatusLogServiceDeps) (StatusLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("status log: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &statusLogService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		hashSalt: deps.HashSalt,
	}, nil
}

// Record persists one immutable audit entry. The raw IP address never reaches
// storage: it is replaced by a salted hash. The append runs on the caller's
// context, so inside a unit-of-work transaction it commits or rolls back with
// the surrounding mutation.
func (s *statusLogService) Record(ctx context.Context, record StatusLogRecord) (OrderStatusUpdate, error) {
	orderID := strings.TrimSpace(record.OrderID)
	if orderID == "" {
		return OrderStatusUpdate{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if record.ToStatus == "" {
		return OrderStatusUpdate{}, fmt.Errorf("%w: target status is required", ErrValidation)
	}

	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}

	update := domain.OrderStatusUpdate{
		ID:          statusUpdateIDPrefix + s.newID(),
		OrderID:     orderID,
		FromStatus:  record.FromStatus,
		ToStatus:    record.ToStatus,
		ChangedByID: cloneStringPtr(record.ChangedBy),
		Notes:       sanitizeText(record.Notes, statusLogNotesLimit),
		UserAgent:   sanitizeText(record.UserAgent, statusLogAgentLimit),
		CreatedAt:   occurred,
	}

	if ip := strings.TrimSpace(record.IPAddress); ip != "" {
		update.IPHash = statusLogHashPrefix + s.hashString(ip)
	}

	if err := s.repo.Append(ctx, update); err != nil {
		return OrderStatusUpdate{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	return update, nil
}

// ListByOrder returns the order's audit trail newest-first.
func (s *statusLogService) ListByOrder(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[OrderStatusUpdate], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[OrderStatusUpdate]{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if pager.PageSize <= 0 {
		pager.PageSize = defaultStatusPageLimit
	}

	page, err := s.repo.ListByOrder(ctx, orderID, pager)
	if err != nil {
		return domain.CursorPage[OrderStatusUpdate]{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return page, nil
}

// Latest returns the most recent audit entry for the order.
func (s *statusLogService) Latest(ctx context.Context, orderID string) (OrderStatusUpdate, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderStatusUpdate{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	update, err := s.repo.Latest(ctx, orderID)
	if err != nil {
		return OrderStatusUpdate{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return update, nil
}

func (s *statusLogService) hashString(value string) string {
	value = strings.TrimSpace(value)
	sum := sha256.Sum256([]byte(s.hashSalt + value))
	return hex.EncodeToString(sum[:])
}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
