package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles recognised across the API. Tokens may carry any casing; the
// middleware normalises to these lowercase values.
const (
	RoleCustomer = "customer"
	RolePress    = "press"
	RoleDelivery = "delivery"
	RoleAdmin    = "admin"
)

// Identity is the authenticated principal extracted from a bearer token.
type Identity struct {
	UserID string
	Email  string
	Roles  []string
	Locale string

	claims map[string]any
}

// Claims exposes the raw decoded token claims.
func (i *Identity) Claims() map[string]any {
	if i == nil {
		return nil
	}
	return i.claims
}

// HasRole reports whether the identity holds the role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(held string) bool {
		return strings.EqualFold(held, role)
	})
}

// HasAnyRole reports whether the identity holds at least one of the roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

type identityKey struct{}

// WithIdentity stores the identity in the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity stored by RequireAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
