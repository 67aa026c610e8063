package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

// orderNumberDayFormat renders the date component of an order number.
const orderNumberDayFormat = "060102"

// OrderNumberSequenceDeps bundles constructor inputs for the order-number
// sequence.
type OrderNumberSequenceDeps struct {
	Counters repositories.CounterRepository
	Clock    func() time.Time
}

type orderNumberSequence struct {
	counters repositories.CounterRepository
	clock    func() time.Time
}

var _ OrderNumberSequence = (*orderNumberSequence)(nil)

// NewOrderNumberSequence constructs the sequence on top of the counter
// repository.
func NewOrderNumberSequence(deps OrderNumberSequenceDeps) (OrderNumberSequence, error) {
	if deps.Counters == nil {
		return nil, errors.New("order sequence: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &orderNumberSequence{
		counters: deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// NextOrderNumber reserves the next value in the current day's counter row
// and formats it {YYMMDD}-{NNNNN}. Each day uses a fresh row, so numbering
// restarts at 00001 at midnight UTC and the counter upsert keeps allocation
// race-free across concurrent requests.
func (s *orderNumberSequence) NextOrderNumber(ctx context.Context) (string, error) {
	day := s.clock().Format(orderNumberDayFormat)
	seq, err := s.counters.Next(ctx, "orders:"+day, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%05d", day, seq), nil
}
