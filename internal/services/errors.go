package services

import (
	"errors"
	"fmt"

	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

var (
	// ErrValidation signals the caller provided invalid data; the message
	// names the offending field.
	ErrValidation = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not
	// visible to the actor.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrInvalidTransition indicates the requested status is not reachable
	// from the order's current status.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrUnauthorized indicates the transition policy rejected the actor.
	ErrUnauthorized = errors.New("order: actor not permitted")
	// ErrNotEditable indicates items or details were modified outside the
	// editable statuses.
	ErrNotEditable = errors.New("order: not editable in current status")
	// ErrConcurrentModification indicates an optimistic precondition failed;
	// callers re-read and retry once.
	ErrConcurrentModification = errors.New("order: concurrent modification")
	// ErrPersistenceFailure wraps repository unavailability.
	ErrPersistenceFailure = errors.New("order: persistence failure")

	// ErrUserNotFound indicates the identity projection does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserInactive indicates the account exists but has been deactivated.
	ErrUserInactive = errors.New("user: account inactive")
	// ErrServiceNotFound indicates the catalog entry does not exist or is inactive.
	ErrServiceNotFound = errors.New("catalog: service not found")
)

// mapRepositoryError translates categorized repository failures into the
// package sentinels, substituting notFound for the generic not-found case so
// each service surfaces its own entity.
func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
	}

	return err
}
