package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Role
		ok   bool
	}{
		{name: "exact match", raw: "CUSTOMER", want: RoleCustomer, ok: true},
		{name: "lowercase", raw: "press", want: RolePress, ok: true},
		{name: "mixed case with padding", raw: "  Delivery ", want: RoleDelivery, ok: true},
		{name: "admin", raw: "admin", want: RoleAdmin, ok: true},
		{name: "unknown", raw: "manager", ok: false},
		{name: "empty", raw: "", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			role, ok := ParseRole(tc.raw)
			require.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, role)
		})
	}
}

func TestRoleValid(t *testing.T) {
	for _, role := range []Role{RoleCustomer, RolePress, RoleDelivery, RoleAdmin} {
		assert.True(t, role.Valid(), "role %s", role)
	}
	assert.False(t, Role("").Valid())
	assert.False(t, Role("customer").Valid(), "wire values are upper case")
}

func TestUserIsAdmin(t *testing.T) {
	assert.True(t, User{Role: RoleAdmin}.IsAdmin())
	assert.True(t, User{Role: RoleCustomer, Superuser: true}.IsAdmin())
	assert.False(t, User{Role: RolePress}.IsAdmin())
	assert.False(t, User{Role: RoleDelivery}.IsAdmin())
}

func TestUserFullName(t *testing.T) {
	cases := []struct {
		name string
		user User
		want string
	}{
		{name: "both names", user: User{FirstName: "Asha", LastName: "Pawar"}, want: "Asha Pawar"},
		{name: "first only", user: User{FirstName: "Asha"}, want: "Asha"},
		{name: "last only", user: User{LastName: "Pawar"}, want: "Pawar"},
		{name: "falls back to email", user: User{Email: "asha@example.com"}, want: "asha@example.com"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.user.FullName())
		})
	}
}

func TestPaymentStatusValid(t *testing.T) {
	valid := []PaymentStatus{
		PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusPaid,
		PaymentStatusPartiallyRefunded, PaymentStatusRefunded, PaymentStatusVoided, PaymentStatusFailed,
	}
	for _, status := range valid {
		assert.True(t, status.Valid(), "status %s", status)
	}
	assert.False(t, PaymentStatus("chargeback").Valid())
	assert.False(t, PaymentStatus("").Valid())
}

func TestDeliveryTypeValid(t *testing.T) {
	assert.True(t, DeliveryTypePickup.Valid())
	assert.True(t, DeliveryTypeDelivery.Valid())
	assert.False(t, DeliveryType("courier").Valid())
	assert.False(t, DeliveryType("").Valid())
}

func TestStatusBucketStatuses(t *testing.T) {
	cases := []struct {
		bucket StatusBucket
		want   []OrderStatus
	}{
		{
			bucket: BucketPending,
			want:   []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusScheduledForPickup},
		},
		{
			bucket: BucketInProgress,
			want:   []OrderStatus{OrderStatusOutForPickup, OrderStatusPickedUp, OrderStatusProcessing},
		},
		{
			bucket: BucketReady,
			want:   []OrderStatus{OrderStatusReady, OrderStatusOutForDelivery},
		},
		{
			bucket: BucketDone,
			want:   []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded},
		},
	}

	seen := make(map[OrderStatus]StatusBucket)
	for _, tc := range cases {
		t.Run(string(tc.bucket), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.bucket.Statuses())
		})
		for _, status := range tc.want {
			if previous, dup := seen[status]; dup {
				t.Fatalf("status %s appears in buckets %s and %s", status, previous, tc.bucket)
			}
			seen[status] = tc.bucket
		}
	}

	assert.Nil(t, StatusBucket("archived").Statuses())
}
