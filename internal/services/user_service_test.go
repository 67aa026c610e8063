package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
)

func newTestUserService(t *testing.T, users *testUserRepo) UserService {
	t.Helper()
	svc, err := NewUserService(UserServiceDeps{
		Users: users,
		Clock: func() time.Time { return time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new user service: %v", err)
	}
	return svc
}

func activeCustomer(id string) domain.User {
	return domain.User{
		ID:          id,
		Email:       id + "@example.com",
		FirstName:   "Asha",
		LastName:    "Pillai",
		PhoneNumber: "+44 20 7946 0000",
		Role:        domain.RoleCustomer,
		Active:      true,
		Locale:      "en-GB",
	}
}

func TestUserServiceGetProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the profile", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCustomer(id), nil
			},
		}
		svc := newTestUserService(t, users)
		user, err := svc.GetProfile(ctx, "cust-1")
		if err != nil {
			t.Fatalf("get profile: %v", err)
		}
		if user.ID != "cust-1" || user.FirstName != "Asha" {
			t.Fatalf("unexpected profile %#v", user)
		}
	})

	t.Run("maps missing users", func(t *testing.T) {
		svc := newTestUserService(t, &testUserRepo{})
		if _, err := svc.GetProfile(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound got %v", err)
		}
	})

	t.Run("requires an id", func(t *testing.T) {
		svc := newTestUserService(t, &testUserRepo{})
		if _, err := svc.GetProfile(ctx, "  "); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation got %v", err)
		}
	})
}

func TestUserServiceUpdateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("owner edits own profile", func(t *testing.T) {
		var saved domain.User
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCustomer(id), nil
			},
			saveFn: func(_ context.Context, user domain.User) error {
				saved = user
				return nil
			},
		}
		svc := newTestUserService(t, users)
		first := "  Meera "
		phone := "+44 7700 900123"
		user, err := svc.UpdateProfile(ctx, UpdateProfileCommand{
			UserID:      "cust-1",
			Actor:       Actor{ID: "cust-1", Role: domain.RoleCustomer},
			FirstName:   &first,
			PhoneNumber: &phone,
		})
		if err != nil {
			t.Fatalf("update profile: %v", err)
		}
		if user.FirstName != "Meera" {
			t.Fatalf("expected trimmed first name got %q", user.FirstName)
		}
		if user.PhoneNumber != "+44 7700 900123" {
			t.Fatalf("unexpected phone %q", user.PhoneNumber)
		}
		if saved.ID != "cust-1" {
			t.Fatalf("expected a repository write")
		}
		if !saved.UpdatedAt.Equal(time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)) {
			t.Fatalf("expected updated timestamp from the clock, got %s", saved.UpdatedAt)
		}
	})

	t.Run("no-op update skips the write", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCustomer(id), nil
			},
			saveFn: func(_ context.Context, user domain.User) error {
				t.Fatalf("unchanged profile must not be written")
				return nil
			},
		}
		svc := newTestUserService(t, users)
		same := "Asha"
		if _, err := svc.UpdateProfile(ctx, UpdateProfileCommand{
			UserID:    "cust-1",
			Actor:     Actor{ID: "cust-1", Role: domain.RoleCustomer},
			FirstName: &same,
		}); err != nil {
			t.Fatalf("update profile: %v", err)
		}
	})

	t.Run("other users are refused", func(t *testing.T) {
		svc := newTestUserService(t, &testUserRepo{})
		name := "Mallory"
		_, err := svc.UpdateProfile(ctx, UpdateProfileCommand{
			UserID:    "cust-1",
			Actor:     Actor{ID: "cust-2", Role: domain.RoleCustomer},
			FirstName: &name,
		})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized got %v", err)
		}
	})

	t.Run("admin edits any profile", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCustomer(id), nil
			},
		}
		svc := newTestUserService(t, users)
		name := "Naomi"
		if _, err := svc.UpdateProfile(ctx, UpdateProfileCommand{
			UserID:    "cust-1",
			Actor:     Actor{ID: "admin-1", Role: domain.RoleAdmin},
			FirstName: &name,
		}); err != nil {
			t.Fatalf("update profile: %v", err)
		}
	})

	t.Run("rejects oversize names", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCustomer(id), nil
			},
		}
		svc := newTestUserService(t, users)
		long := strings.Repeat("x", 151)
		_, err := svc.UpdateProfile(ctx, UpdateProfileCommand{
			UserID:    "cust-1",
			Actor:     Actor{ID: "cust-1", Role: domain.RoleCustomer},
			FirstName: &long,
		})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation got %v", err)
		}
	})

	t.Run("rejects malformed phone numbers", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCustomer(id), nil
			},
		}
		svc := newTestUserService(t, users)
		phone := "call me maybe"
		_, err := svc.UpdateProfile(ctx, UpdateProfileCommand{
			UserID:      "cust-1",
			Actor:       Actor{ID: "cust-1", Role: domain.RoleCustomer},
			PhoneNumber: &phone,
		})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation got %v", err)
		}
	})

	t.Run("clearing the phone number is allowed", func(t *testing.T) {
		var saved domain.User
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCustomer(id), nil
			},
			saveFn: func(_ context.Context, user domain.User) error {
				saved = user
				return nil
			},
		}
		svc := newTestUserService(t, users)
		empty := ""
		if _, err := svc.UpdateProfile(ctx, UpdateProfileCommand{
			UserID:      "cust-1",
			Actor:       Actor{ID: "cust-1", Role: domain.RoleCustomer},
			PhoneNumber: &empty,
		}); err != nil {
			t.Fatalf("update profile: %v", err)
		}
		if saved.PhoneNumber != "" {
			t.Fatalf("expected phone cleared got %q", saved.PhoneNumber)
		}
	})

	t.Run("canonicalises locale tags", func(t *testing.T) {
		cases := []struct {
			input string
			want  string
		}{
			{"en_US", "en-US"},
			{"  fr-fr ", "fr-FR"},
			{"DE", "de"},
		}
		for _, tc := range cases {
			users := &testUserRepo{
				findFn: func(_ context.Context, id string) (domain.User, error) {
					return activeCustomer(id), nil
				},
			}
			svc := newTestUserService(t, users)
			locale := tc.input
			user, err := svc.UpdateProfile(ctx, UpdateProfileCommand{
				UserID: "cust-1",
				Actor:  Actor{ID: "cust-1", Role: domain.RoleCustomer},
				Locale: &locale,
			})
			if err != nil {
				t.Fatalf("locale %q: %v", tc.input, err)
			}
			if user.Locale != tc.want {
				t.Fatalf("locale %q: expected %q got %q", tc.input, tc.want, user.Locale)
			}
		}
	})

	t.Run("rejects unparseable locales", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCustomer(id), nil
			},
		}
		svc := newTestUserService(t, users)
		locale := "not a locale!"
		_, err := svc.UpdateProfile(ctx, UpdateProfileCommand{
			UserID: "cust-1",
			Actor:  Actor{ID: "cust-1", Role: domain.RoleCustomer},
			Locale: &locale,
		})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation got %v", err)
		}
	})
}

func TestUserServiceResolveActor(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves an active user", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				user := activeCustomer(id)
				user.Role = domain.RolePress
				return user, nil
			},
		}
		svc := newTestUserService(t, users)
		actor, err := svc.ResolveActor(ctx, "press-1")
		if err != nil {
			t.Fatalf("resolve actor: %v", err)
		}
		if actor.ID != "press-1" || actor.Role != domain.RolePress {
			t.Fatalf("unexpected actor %#v", actor)
		}
		if actor.IsAdmin() {
			t.Fatalf("press staff must not resolve as admin")
		}
	})

	t.Run("superuser flag carries through", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				user := activeCustomer(id)
				user.Superuser = true
				return user, nil
			},
		}
		svc := newTestUserService(t, users)
		actor, err := svc.ResolveActor(ctx, "root-1")
		if err != nil {
			t.Fatalf("resolve actor: %v", err)
		}
		if !actor.IsAdmin() {
			t.Fatalf("superuser must resolve as admin")
		}
	})

	t.Run("rejects inactive accounts", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				user := activeCustomer(id)
				user.Active = false
				return user, nil
			},
		}
		svc := newTestUserService(t, users)
		if _, err := svc.ResolveActor(ctx, "cust-1"); !errors.Is(err, ErrUserInactive) {
			t.Fatalf("expected ErrUserInactive got %v", err)
		}
	})

	t.Run("rejects unknown roles", func(t *testing.T) {
		users := &testUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				user := activeCustomer(id)
				user.Role = domain.Role("intern")
				return user, nil
			},
		}
		svc := newTestUserService(t, users)
		if _, err := svc.ResolveActor(ctx, "cust-1"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized got %v", err)
		}
	})
}
