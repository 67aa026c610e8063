package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"

	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

var (
	errInvalidName        = errors.New("user: invalid name")
	errInvalidPhoneNumber = errors.New("user: invalid phone number")
	errInvalidLanguageTag = errors.New("user: invalid language tag")

	profilePhonePattern = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
)

// UserServiceDeps bundles the dependencies for the user service.
type UserServiceDeps struct {
	Users repositories.UserRepository
	Clock func() time.Time
}

type userService struct {
	users repositories.UserRepository
	clock func() time.Time
}

var _ UserService = (*userService)(nil)

// NewUserService wires dependencies into a concrete UserService.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, fmt.Errorf("user service requires a user repository")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &userService{
		users: deps.Users,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, mapRepositoryError(err, ErrUserNotFound)
	}
	return user, nil
}

// UpdateProfile edits the mutable profile fields. Nil command fields are left
// untouched; updates that change nothing are returned without a write.
func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !cmd.Actor.IsAdmin() && cmd.Actor.ID != userID {
		return User{}, fmt.Errorf("%w: profiles can only be edited by their owner", ErrUnauthorized)
	}

	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return User{}, err
	}

	changed := false
	if cmd.FirstName != nil {
		name := strings.TrimSpace(*cmd.FirstName)
		if err := validateName(name); err != nil {
			return User{}, err
		}
		if name != user.FirstName {
			user.FirstName = name
			changed = true
		}
	}
	if cmd.LastName != nil {
		name := strings.TrimSpace(*cmd.LastName)
		if err := validateName(name); err != nil {
			return User{}, err
		}
		if name != user.LastName {
			user.LastName = name
			changed = true
		}
	}
	if cmd.PhoneNumber != nil {
		phone := strings.TrimSpace(*cmd.PhoneNumber)
		if phone != "" && !profilePhonePattern.MatchString(phone) {
			return User{}, errors.Join(ErrValidation, errInvalidPhoneNumber)
		}
		if phone != user.PhoneNumber {
			user.PhoneNumber = phone
			changed = true
		}
	}
	if cmd.Locale != nil {
		canonical, err := canonicaliseLanguageTag(*cmd.Locale)
		if err != nil {
			return User{}, err
		}
		if canonical != user.Locale {
			user.Locale = canonical
			changed = true
		}
	}

	if !changed {
		return user, nil
	}

	user.UpdatedAt = s.clock()
	if err := s.users.Update(ctx, user); err != nil {
		return User{}, mapRepositoryError(err, ErrUserNotFound)
	}
	return user, nil
}

// ResolveActor turns an authenticated user id into the acting principal the
// order workflow checks against. Inactive accounts are rejected.
func (s *userService) ResolveActor(ctx context.Context, userID string) (Actor, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	if !user.Active {
		return Actor{}, fmt.Errorf("%w: account %s", ErrUserInactive, user.ID)
	}
	if !user.Role.Valid() {
		return Actor{}, fmt.Errorf("%w: account %s holds unknown role %q", ErrUnauthorized, user.ID, user.Role)
	}
	return Actor{ID: user.ID, Role: user.Role, Superuser: user.Superuser}, nil
}

func validateName(name string) error {
	if utf8.RuneCountInString(name) > 150 {
		return errors.Join(ErrValidation, errInvalidName)
	}
	return nil
}

// canonicaliseLanguageTag normalises a BCP 47 tag, accepting the common
// underscore form ("en_US") as well. Blank input clears the preference.
func canonicaliseLanguageTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(strings.ReplaceAll(tag, "_", "-"))
	if err != nil {
		return "", errors.Join(ErrValidation, errInvalidLanguageTag, err)
	}
	return parsed.String(), nil
}
