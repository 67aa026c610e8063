package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderItemOption    = domain.OrderItemOption
	OrderStatus        = domain.OrderStatus
	OrderStatusUpdate  = domain.OrderStatusUpdate
	PaymentStatus      = domain.PaymentStatus
	DeliveryType       = domain.DeliveryType
	StatusBucket       = domain.StatusBucket
	Role               = domain.Role
	User               = domain.User
	Service            = domain.Service
	ServiceVariant     = domain.ServiceVariant
	ServiceOption      = domain.ServiceOption
	StatusCount        = domain.StatusCount
	StaffPerformance   = domain.StaffPerformance
	AdminDashboard     = domain.AdminDashboard
	SystemHealthReport = domain.SystemHealthReport
)

// Actor identifies the authenticated principal driving an operation.
type Actor struct {
	ID        string
	Role      Role
	Superuser bool
}

// IsAdmin reports whether the actor holds unrestricted access.
func (a Actor) IsAdmin() bool {
	return a.Role == domain.RoleAdmin || a.Superuser
}

// ActorContext carries request metadata recorded on audit entries.
type ActorContext struct {
	IPAddress string
	UserAgent string
}

// TransitionResult pairs the updated order with the audit record the
// transition appended.
type TransitionResult struct {
	Order  Order
	Update OrderStatusUpdate
}

// OrderService drives the order lifecycle from draft assembly through
// completion, enforcing the transition table and the authorization policy
// on every mutation.
type OrderService interface {
	CreateDraft(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error)
	DeleteDraft(ctx context.Context, cmd DeleteDraftCommand) error
	AddItem(ctx context.Context, cmd AddOrderItemCommand) (Order, error)
	UpdateItem(ctx context.Context, cmd UpdateOrderItemCommand) (Order, error)
	RemoveItem(ctx context.Context, cmd RemoveOrderItemCommand) (Order, error)
	Transition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (TransitionResult, error)
	Reprice(ctx context.Context, cmd RepriceOrderCommand) (Order, error)
	RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (Order, error)
	AssignStaff(ctx context.Context, cmd AssignStaffCommand) (Order, error)
	AssignDelivery(ctx context.Context, cmd AssignDeliveryCommand) (Order, error)
	ListStatusUpdates(ctx context.Context, cmd ListStatusUpdatesCommand) (domain.CursorPage[OrderStatusUpdate], error)
}

// DashboardService serves the role-specific queue and overview read models.
type DashboardService interface {
	CustomerOverview(ctx context.Context, query CustomerDashboardQuery) (domain.CursorPage[Order], error)
	PressQueue(ctx context.Context, query PressQueueQuery) (domain.CursorPage[Order], error)
	DeliveryQueue(ctx context.Context, query DeliveryQueueQuery) (domain.CursorPage[Order], error)
	AdminOverview(ctx context.Context, actor Actor) (AdminDashboard, error)
}

// CatalogService exposes read-only access to the laundry service catalog.
type CatalogService interface {
	ListServices(ctx context.Context, filter CatalogFilter) (domain.CursorPage[Service], error)
	GetService(ctx context.Context, serviceID string) (Service, error)
	ListVariants(ctx context.Context, serviceID string) ([]ServiceVariant, error)
	ListOptions(ctx context.Context, serviceID string) ([]ServiceOption, error)
}

// UserService manages identity projections: profile reads, profile updates,
// and actor resolution for the HTTP layer.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (User, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error)
	ResolveActor(ctx context.Context, userID string) (Actor, error)
}

// StatusLogService persists and reads the immutable transition audit trail.
// Record participates in the caller's transaction when one is active on the
// context, so audit rows commit atomically with the status change.
type StatusLogService interface {
	Record(ctx context.Context, record StatusLogRecord) (OrderStatusUpdate, error)
	ListByOrder(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[OrderStatusUpdate], error)
	Latest(ctx context.Context, orderID string) (OrderStatusUpdate, error)
}

// OrderNumberSequence allocates human-facing order numbers from a per-day
// counter row.
type OrderNumberSequence interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService aggregates utility surfaces such as health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// Command and DTO definitions ------------------------------------------------

// CreateOrderCommand creates a new draft order for a customer.
type CreateOrderCommand struct {
	Actor                 Actor
	CustomerID            string
	DeliveryType          DeliveryType
	PickupAddress         string
	DeliveryAddress       string
	PreferredPickupDate   *time.Time
	PreferredDeliveryDate *time.Time
	SpecialInstructions   string
	Context               ActorContext
}

// ListOrdersCommand narrows the role-scoped order listing.
type ListOrdersCommand struct {
	Actor      Actor
	Statuses   []OrderStatus
	Bucket     *StatusBucket
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// DeleteDraftCommand removes an abandoned draft order.
type DeleteDraftCommand struct {
	OrderID string
	Actor   Actor
}

// AddOrderItemCommand appends a catalog-resolved line to an editable order.
type AddOrderItemCommand struct {
	OrderID         string
	Actor           Actor
	ServiceID       string
	VariantID       *string
	Quantity        int
	OptionIDs       []string
	DiscountAmount  decimal.Decimal
	ExpectedVersion *int64
}

// UpdateOrderItemCommand edits an existing line. Nil fields are unchanged;
// a non-nil empty OptionIDs clears the selected options.
type UpdateOrderItemCommand struct {
	OrderID         string
	ItemID          string
	Actor           Actor
	Quantity        *int
	OptionIDs       *[]string
	DiscountAmount  *decimal.Decimal
	ExpectedVersion *int64
}

// RemoveOrderItemCommand deletes a line from an editable order.
type RemoveOrderItemCommand struct {
	OrderID         string
	ItemID          string
	Actor           Actor
	ExpectedVersion *int64
}

// TransitionCommand requests a workflow status change.
type TransitionCommand struct {
	OrderID         string
	TargetStatus    OrderStatus
	Actor           Actor
	Notes           string
	Reason          string
	ExpectedStatus  *OrderStatus
	ExpectedVersion *int64
	Context         ActorContext
	Metadata        map[string]any
}

// CancelOrderCommand cancels an order, recording the supplied reason.
type CancelOrderCommand struct {
	OrderID         string
	Actor           Actor
	Reason          string
	Notes           string
	ExpectedStatus  *OrderStatus
	ExpectedVersion *int64
	Context         ActorContext
}

// RepriceOrderCommand re-resolves catalog prices for every line item.
type RepriceOrderCommand struct {
	OrderID         string
	Actor           Actor
	ExpectedVersion *int64
}

// RecordPaymentCommand books payment details against an order. This is data
// bookkeeping only; no gateway is involved and no status transition occurs.
type RecordPaymentCommand struct {
	OrderID         string
	Actor           Actor
	Status          PaymentStatus
	Method          string
	Reference       string
	PaidAt          *time.Time
	ExpectedVersion *int64
}

// AssignStaffCommand sets the press assignee outside the claim path.
type AssignStaffCommand struct {
	OrderID string
	Actor   Actor
	StaffID string
}

// AssignDeliveryCommand sets the delivery assignee outside the claim path.
type AssignDeliveryCommand struct {
	OrderID          string
	Actor            Actor
	DeliveryPersonID string
}

// ListStatusUpdatesCommand pages through an order's audit trail.
type ListStatusUpdatesCommand struct {
	OrderID    string
	Actor      Actor
	Pagination Pagination
}

// CustomerDashboardQuery scopes the customer overview to the actor's own
// orders, optionally narrowed to one status bucket.
type CustomerDashboardQuery struct {
	Actor      Actor
	Bucket     *StatusBucket
	Pagination Pagination
}

// PressQueueQuery pages the press work queue.
type PressQueueQuery struct {
	Actor      Actor
	Pagination Pagination
}

// DeliveryQueueQuery pages the delivery task list for the actor.
type DeliveryQueueQuery struct {
	Actor      Actor
	Pagination Pagination
}

// CatalogFilter narrows public catalog listings.
type CatalogFilter struct {
	ServiceType string
	ActiveOnly  bool
	Pagination  Pagination
}

// UpdateProfileCommand edits mutable profile fields. Nil fields are unchanged.
type UpdateProfileCommand struct {
	UserID      string
	Actor       Actor
	FirstName   *string
	LastName    *string
	PhoneNumber *string
	Locale      *string
}

// StatusLogRecord is the payload accepted by the status log writer. The IP
// address is stored as a salted hash; the user agent is sanitized and capped.
type StatusLogRecord struct {
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ChangedBy  *string
	Notes      string
	IPAddress  string
	UserAgent  string
	OccurredAt time.Time
}
