package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pagination carries the page size and the opaque cursor a listing resumes from.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder picks the direction of a sorted listing.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// RangeQuery bounds a field between optional inclusive endpoints.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role enumerates the access roles the identity subsystem assigns to users.
type Role string

const (
	// RoleCustomer places and tracks their own orders.
	RoleCustomer Role = "CUSTOMER"
	// RolePress processes laundry: claims scheduled orders, runs them through pressing.
	RolePress Role = "PRESS"
	// RoleDelivery handles pickups and deliveries between customers and the facility.
	RoleDelivery Role = "DELIVERY"
	// RoleAdmin oversees the whole pipeline with unrestricted access.
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether the role is one of the defined values.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RolePress, RoleDelivery, RoleAdmin:
		return true
	}
	return false
}

// ParseRole normalises a raw role string to a defined Role.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if role.Valid() {
		return role, true
	}
	return "", false
}

// User is the projection of an identity-subsystem account consumed by the engine.
type User struct {
	ID          string
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
	Role        Role
	Superuser   bool
	Active      bool
	Locale      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsAdmin reports whether the user holds the admin role or the superuser flag.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Superuser
}

// FullName joins first and last name for display purposes.
func (u User) FullName() string {
	switch {
	case u.FirstName == "" && u.LastName == "":
		return u.Email
	case u.LastName == "":
		return u.FirstName
	case u.FirstName == "":
		return u.LastName
	}
	return u.FirstName + " " + u.LastName
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusDraft indicates the customer is still assembling the order.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPending indicates the order has been submitted and awaits confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the order is confirmed and ready for scheduling.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusScheduledForPickup indicates press staff accepted the order and scheduled collection.
	OrderStatusScheduledForPickup OrderStatus = "scheduled_for_pickup"
	// OrderStatusOutForPickup indicates a delivery partner is collecting the garments.
	OrderStatusOutForPickup OrderStatus = "out_for_pickup"
	// OrderStatusPickedUp indicates the garments arrived at the facility.
	OrderStatusPickedUp OrderStatus = "picked_up"
	// OrderStatusProcessing indicates the garments are being cleaned and pressed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusReady indicates processing finished and the order awaits dispatch or collection.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusOutForDelivery indicates a delivery partner is returning the garments.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusCompleted indicates the order was handed back to the customer.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was refunded after cancellation or a dispute.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusFailed indicates the order failed outside the normal flow.
	OrderStatusFailed OrderStatus = "failed"
)

// PaymentStatus tracks payment bookkeeping independently of the workflow machine.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no payment has been recorded yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusAuthorized indicates a payment hold was recorded.
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusPaid indicates payment was recorded in full.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusPartiallyRefunded indicates a partial refund was recorded.
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	// PaymentStatusRefunded indicates the payment was fully refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusVoided indicates the payment record was voided.
	PaymentStatusVoided PaymentStatus = "voided"
	// PaymentStatusFailed indicates a recorded payment attempt failed.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Valid reports whether the payment status is one of the defined values.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusPaid,
		PaymentStatusPartiallyRefunded, PaymentStatusRefunded, PaymentStatusVoided, PaymentStatusFailed:
		return true
	}
	return false
}

// DeliveryType distinguishes customer drop-off/collection from door-to-door service.
type DeliveryType string

const (
	// DeliveryTypePickup means the customer brings and collects garments themselves.
	DeliveryTypePickup DeliveryType = "pickup"
	// DeliveryTypeDelivery means the service collects and returns garments.
	DeliveryTypeDelivery DeliveryType = "delivery"
)

// Valid reports whether the delivery type is one of the defined values.
func (t DeliveryType) Valid() bool {
	return t == DeliveryTypePickup || t == DeliveryTypeDelivery
}

// StatusBucket groups statuses into the coarse filters customers see on their dashboard.
type StatusBucket string

const (
	// BucketPending covers orders awaiting confirmation or scheduling.
	BucketPending StatusBucket = "pending"
	// BucketInProgress covers orders between collection and pressing.
	BucketInProgress StatusBucket = "in_progress"
	// BucketReady covers orders finished and on their way back.
	BucketReady StatusBucket = "ready"
	// BucketDone covers orders in a terminal state.
	BucketDone StatusBucket = "done"
)

// Statuses expands the bucket into the concrete statuses it covers.
func (b StatusBucket) Statuses() []OrderStatus {
	switch b {
	case BucketPending:
		return []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusScheduledForPickup}
	case BucketInProgress:
		return []OrderStatus{OrderStatusOutForPickup, OrderStatusPickedUp, OrderStatusProcessing}
	case BucketReady:
		return []OrderStatus{OrderStatusReady, OrderStatusOutForDelivery}
	case BucketDone:
		return []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded}
	}
	return nil
}

// Order is one customer order moving through the laundry pipeline.
type Order struct {
	ID          string
	OrderNumber string
	CustomerID  string

	Status        OrderStatus
	PaymentStatus PaymentStatus
	DeliveryType  DeliveryType

	PickupAddress         string
	DeliveryAddress       string
	PreferredPickupDate   *time.Time
	PreferredDeliveryDate *time.Time

	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingCost   decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal

	AssignedStaffID  *string
	DeliveryPersonID *string

	SpecialInstructions string
	InternalNotes       string
	CancellationReason  string

	PaymentMethod    string
	PaymentReference string
	PaymentDate      *time.Time

	CreatedAt         time.Time
	UpdatedAt         time.Time
	ConfirmedAt       *time.Time
	ScheduledPickupAt *time.Time
	OutForPickupAt    *time.Time
	PickedUpAt        *time.Time
	ProcessingAt      *time.Time
	ReadyAt           *time.Time
	OutForDeliveryAt  *time.Time
	CompletedAt       *time.Time
	CancelledAt       *time.Time

	Version int64

	Items []OrderItem
}

// OrderItem is one service line within an order. Catalog prices are snapshotted
// at add time and only change through the explicit repricing operation.
type OrderItem struct {
	ID        string
	OrderID   string
	ServiceID string
	VariantID *string

	Name        string
	Description string

	Quantity       int
	UnitPrice      decimal.Decimal
	DiscountAmount decimal.Decimal
	Options        []OrderItemOption
	TotalPrice     decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItemOption snapshots a catalog option selected for a line item.
type OrderItemOption struct {
	OptionID        string
	Name            string
	PriceAdjustment decimal.Decimal
}

// OrderStatusUpdate is the immutable audit record for one accepted transition.
type OrderStatusUpdate struct {
	ID          string
	OrderID     string
	FromStatus  OrderStatus
	ToStatus    OrderStatus
	ChangedByID *string
	Notes       string
	IPHash      string
	UserAgent   string
	CreatedAt   time.Time
}

// Service is a read-only catalog entry garments can be booked against.
type Service struct {
	ID          string
	Name        string
	Slug        string
	ServiceType string
	Description string
	BasePrice   decimal.Decimal
	Taxable     bool
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ServiceVariant adjusts a service's base price for a specific garment class.
type ServiceVariant struct {
	ID              string
	ServiceID       string
	Name            string
	PriceAdjustment decimal.Decimal
	Active          bool
}

// ServiceOption is an add-on (stain treatment, express handling) priced on top of an item.
type ServiceOption struct {
	ID              string
	ServiceID       string
	Name            string
	Description     string
	PriceAdjustment decimal.Decimal
	Active          bool
}

// StatusCount pairs a status with the number of orders currently in it.
type StatusCount struct {
	Status OrderStatus
	Count  int64
}

// StaffPerformance aggregates completed-order throughput for one press assignee.
type StaffPerformance struct {
	StaffID           string
	StaffEmail        string
	StaffName         string
	CompletedOrders   int64
	AvgCompletionTime time.Duration
}

// AdminDashboard is the aggregate read model backing the admin overview.
type AdminDashboard struct {
	TotalOrders      int64
	StatusCounts     []StatusCount
	BucketCounts     map[StatusBucket]int64
	RecentOrders     []Order
	StaffPerformance []StaffPerformance
}
