package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"

	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// orderStateTransitions is the full lifecycle graph. Terminal statuses are
// present with empty target sets so that lookups distinguish "terminal" from
// "unknown".
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusDraft: {
		domain.OrderStatusConfirmed,
		domain.OrderStatusPending,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusPending: {
		domain.OrderStatusConfirmed,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusConfirmed: {
		domain.OrderStatusScheduledForPickup,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusScheduledForPickup: {
		domain.OrderStatusOutForPickup,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusOutForPickup: {
		domain.OrderStatusPickedUp,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusPickedUp: {
		domain.OrderStatusProcessing,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusProcessing: {
		domain.OrderStatusReady,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusReady: {
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusOutForDelivery: {
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusCompleted: {},
	domain.OrderStatusCancelled: {},
	domain.OrderStatusRefunded:  {},
	domain.OrderStatusFailed:    {},
}

// orderEditableStatuses lists the statuses during which line items may still
// change. Once pickup logistics begin the composition is frozen.
var orderEditableStatuses = []domain.OrderStatus{
	domain.OrderStatusDraft,
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
}

// pressQueueStatuses is the slice of the lifecycle worked by pressing staff.
var pressQueueStatuses = []domain.OrderStatus{
	domain.OrderStatusConfirmed,
	domain.OrderStatusPickedUp,
	domain.OrderStatusProcessing,
	domain.OrderStatusReady,
}

// OrderServiceDeps wires the order workflow service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Users       repositories.UserRepository
	Catalog     repositories.CatalogRepository
	StatusLogs  StatusLogService
	Sequence    OrderNumberSequence
	Pricing     *PricingEngine
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	users      repositories.UserRepository
	catalog    repositories.CatalogRepository
	statusLogs StatusLogService
	sequence   OrderNumberSequence
	pricing    *PricingEngine
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	idGen      func() string
	events     OrderEventPublisher
	logger     func(ctx context.Context, event string, fields map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs the order workflow service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("order service requires an order repository")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("order service requires a user repository")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("order service requires a catalog repository")
	}
	if deps.StatusLogs == nil {
		return nil, fmt.Errorf("order service requires a status log service")
	}
	if deps.Sequence == nil {
		return nil, fmt.Errorf("order service requires an order number sequence")
	}
	if deps.Pricing == nil {
		return nil, fmt.Errorf("order service requires a pricing engine")
	}
	unitOfWork := deps.UnitOfWork
	if unitOfWork == nil {
		unitOfWork = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:     deps.Orders,
		users:      deps.Users,
		catalog:    deps.Catalog,
		statusLogs: deps.StatusLogs,
		sequence:   deps.Sequence,
		pricing:    deps.Pricing,
		unitOfWork: unitOfWork,
		clock:      func() time.Time { return clock().UTC() },
		idGen:      idGen,
		events:     deps.Events,
		logger:     logger,
	}, nil
}

// CreateDraft opens a new order in DRAFT with no items and zeroed totals.
func (s *orderService) CreateDraft(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		customerID = strings.TrimSpace(cmd.Actor.ID)
	}
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrValidation)
	}
	if !cmd.Actor.IsAdmin() && customerID != cmd.Actor.ID {
		return Order{}, fmt.Errorf("%w: orders can only be created for the requesting customer", ErrUnauthorized)
	}
	deliveryType := cmd.DeliveryType
	if deliveryType == "" {
		deliveryType = domain.DeliveryTypePickup
	}
	if !deliveryType.Valid() {
		return Order{}, fmt.Errorf("%w: unknown delivery type %q", ErrValidation, cmd.DeliveryType)
	}
	if deliveryType == domain.DeliveryTypeDelivery && strings.TrimSpace(cmd.DeliveryAddress) == "" {
		return Order{}, fmt.Errorf("%w: delivery orders require a delivery address", ErrValidation)
	}

	now := s.now()
	pickupDate, err := normalizePreferredDate(cmd.PreferredPickupDate, now, "preferred pickup date")
	if err != nil {
		return Order{}, err
	}
	deliveryDate, err := normalizePreferredDate(cmd.PreferredDeliveryDate, now, "preferred delivery date")
	if err != nil {
		return Order{}, err
	}
	if deliveryType == domain.DeliveryTypeDelivery && deliveryDate == nil {
		deliveryDate = cloneTimePtr(pickupDate)
	}

	order := Order{
		ID:                    s.nextOrderID(),
		CustomerID:            customerID,
		Status:                domain.OrderStatusDraft,
		PaymentStatus:         domain.PaymentStatusPending,
		DeliveryType:          deliveryType,
		PickupAddress:         strings.TrimSpace(cmd.PickupAddress),
		DeliveryAddress:       strings.TrimSpace(cmd.DeliveryAddress),
		PreferredPickupDate:   pickupDate,
		PreferredDeliveryDate: deliveryDate,
		SpecialInstructions:   strings.TrimSpace(cmd.SpecialInstructions),
		Subtotal:              decimal.Zero,
		TaxAmount:             decimal.Zero,
		ShippingCost:          decimal.Zero,
		DiscountAmount:        decimal.Zero,
		TotalAmount:           decimal.Zero,
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		number, err := s.sequence.NextOrderNumber(txCtx)
		if err != nil {
			return fmt.Errorf("%w: allocating order number: %v", ErrPersistenceFailure, err)
		}
		order.OrderNumber = number
		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: order.Status,
		ActorID:       cmd.Actor.ID,
		OccurredAt:    now,
	})

	return order, nil
}

// GetOrder loads a single order. Orders outside the actor's visibility are
// reported as missing rather than forbidden.
func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if !canViewOrder(actor, order) {
		return Order{}, fmt.Errorf("%w: order %s is not visible to this actor", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// ListOrders returns the role-scoped slice of the order book: customers see
// their own orders, pressing staff the claimable queue, delivery riders the
// pickup/drop-off queue, and admins everything.
func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error) {
	pager := normalizePager(cmd.Pagination)

	statuses := slices.Clone(cmd.Statuses)
	if cmd.Bucket != nil {
		expanded := cmd.Bucket.Statuses()
		if len(expanded) == 0 {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status bucket %q", ErrValidation, *cmd.Bucket)
		}
		statuses = append(statuses, expanded...)
	}
	for _, status := range statuses {
		if _, known := orderStateTransitions[status]; !known {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
	}

	filter := repositories.OrderListFilter{
		Status:     statuses,
		DateRange:  cmd.DateRange,
		Sort:       repositories.OrderSortCreatedDesc,
		Pagination: pager,
	}

	switch {
	case cmd.Actor.IsAdmin():
	case cmd.Actor.Role == domain.RoleCustomer:
		filter.CustomerID = cmd.Actor.ID
	case cmd.Actor.Role == domain.RolePress:
		narrowed := intersectStatuses(statuses, pressQueueStatuses)
		if len(statuses) > 0 && len(narrowed) == 0 {
			return domain.CursorPage[Order]{}, nil
		}
		filter.Status = narrowed
		filter.ClaimableByStaffID = cmd.Actor.ID
		filter.Sort = repositories.OrderSortStatusThenCreated
	case cmd.Actor.Role == domain.RoleDelivery:
		page, err := s.orders.DeliveryQueue(ctx, cmd.Actor.ID, pager)
		if err != nil {
			return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound)
		}
		return page, nil
	default:
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, cmd.Actor.Role)
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return page, nil
}

// DeleteDraft removes a draft order outright. Anything past DRAFT must go
// through cancellation so the audit trail survives.
func (s *orderService) DeleteDraft(ctx context.Context, cmd DeleteDraftCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrValidation)
	}
	return s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		if !canViewOrder(cmd.Actor, order) {
			return fmt.Errorf("%w: order %s is not visible to this actor", ErrOrderNotFound, orderID)
		}
		if !canEditItems(cmd.Actor, order) {
			return fmt.Errorf("%w: only the owner or an admin can delete a draft", ErrUnauthorized)
		}
		if order.Status != domain.OrderStatusDraft {
			return fmt.Errorf("%w: only draft orders can be deleted, this one is %s", ErrNotEditable, order.Status)
		}
		if err := s.orders.Delete(txCtx, order.ID); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		return nil
	})
}

// AddItem appends a line item with prices snapshotted from the catalog and
// recomputes the order totals.
func (s *orderService) AddItem(ctx context.Context, cmd AddOrderItemCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if strings.TrimSpace(cmd.ServiceID) == "" {
		return Order{}, fmt.Errorf("%w: service id is required", ErrValidation)
	}
	if cmd.Quantity < 1 {
		return Order{}, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if cmd.DiscountAmount.IsNegative() {
		return Order{}, fmt.Errorf("%w: discount cannot be negative", ErrValidation)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadEditableOrder(txCtx, orderID, cmd.Actor, cmd.ExpectedVersion)
		if err != nil {
			return err
		}

		item, err := s.snapshotItem(txCtx, cmd.ServiceID, cmd.VariantID, cmd.OptionIDs)
		if err != nil {
			return err
		}
		now := s.now()
		item.ID = s.nextItemID()
		item.OrderID = order.ID
		item.Quantity = cmd.Quantity
		item.DiscountAmount = cmd.DiscountAmount
		item.CreatedAt = now
		item.UpdatedAt = now

		order.Items = append(order.Items, item)
		if err := s.pricing.Recalculate(&order); err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		order.Version++
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// UpdateItem changes quantity, options, or discount on an existing line item.
// Nil fields are left untouched; a non-nil empty option list clears options.
func (s *orderService) UpdateItem(ctx context.Context, cmd UpdateOrderItemCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if orderID == "" || itemID == "" {
		return Order{}, fmt.Errorf("%w: order id and item id are required", ErrValidation)
	}
	if cmd.Quantity != nil && *cmd.Quantity < 1 {
		return Order{}, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if cmd.DiscountAmount != nil && cmd.DiscountAmount.IsNegative() {
		return Order{}, fmt.Errorf("%w: discount cannot be negative", ErrValidation)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadEditableOrder(txCtx, orderID, cmd.Actor, cmd.ExpectedVersion)
		if err != nil {
			return err
		}
		idx := findItemIndex(order.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("%w: item %s not found on order %s", ErrOrderNotFound, itemID, orderID)
		}

		item := order.Items[idx]
		if cmd.Quantity != nil {
			item.Quantity = *cmd.Quantity
		}
		if cmd.OptionIDs != nil {
			options, err := s.snapshotOptions(txCtx, item.ServiceID, *cmd.OptionIDs)
			if err != nil {
				return err
			}
			item.Options = options
		}
		if cmd.DiscountAmount != nil {
			item.DiscountAmount = *cmd.DiscountAmount
		}
		item.UpdatedAt = s.now()
		order.Items[idx] = item

		if err := s.pricing.Recalculate(&order); err != nil {
			return err
		}
		order.UpdatedAt = item.UpdatedAt
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		order.Version++
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// RemoveItem deletes a line item and recomputes the order totals.
func (s *orderService) RemoveItem(ctx context.Context, cmd RemoveOrderItemCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if orderID == "" || itemID == "" {
		return Order{}, fmt.Errorf("%w: order id and item id are required", ErrValidation)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.loadEditableOrder(txCtx, orderID, cmd.Actor, cmd.ExpectedVersion)
		if err != nil {
			return err
		}
		idx := findItemIndex(order.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("%w: item %s not found on order %s", ErrOrderNotFound, itemID, orderID)
		}

		order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
		if err := s.pricing.Recalculate(&order); err != nil {
			return err
		}
		order.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		order.Version++
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// Transition moves an order along the lifecycle graph. The whole move is one
// transaction: row lock, precondition checks, policy check, mutation, and the
// audit record either all land or none do. Events go out after commit.
func (s *orderService) Transition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	target := cmd.TargetStatus
	if target == "" {
		return TransitionResult{}, fmt.Errorf("%w: target status is required", ErrValidation)
	}
	if _, known := orderStateTransitions[target]; !known {
		return TransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}

	var result TransitionResult
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: expected status %s, order is %s", ErrConcurrentModification, *cmd.ExpectedStatus, order.Status)
		}
		if cmd.ExpectedVersion != nil && order.Version != *cmd.ExpectedVersion {
			return fmt.Errorf("%w: expected version %d, order is at %d", ErrConcurrentModification, *cmd.ExpectedVersion, order.Version)
		}

		previous, err := s.applyStatusTransition(&order, cmd.Actor, target, cmd.Reason)
		if err != nil {
			return err
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		order.Version++

		update, err := s.statusLogs.Record(txCtx, StatusLogRecord{
			OrderID:    order.ID,
			FromStatus: previous,
			ToStatus:   order.Status,
			ChangedBy:  optionalString(cmd.Actor.ID),
			Notes:      cmd.Notes,
			IPAddress:  cmd.Context.IPAddress,
			UserAgent:  cmd.Context.UserAgent,
			OccurredAt: order.UpdatedAt,
		})
		if err != nil {
			return err
		}

		result = TransitionResult{Order: order, Update: update}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	metadata := maps.Clone(cmd.Metadata)
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata = ensureMap(metadata)
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        result.Order.ID,
		OrderNumber:    result.Order.OrderNumber,
		PreviousStatus: result.Update.FromStatus,
		CurrentStatus:  result.Order.Status,
		ActorID:        cmd.Actor.ID,
		OccurredAt:     result.Order.UpdatedAt,
		Metadata:       metadata,
	})

	return result, nil
}

// Cancel is a transition to CANCELLED that records the customer-facing reason.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (TransitionResult, error) {
	return s.Transition(ctx, TransitionCommand{
		OrderID:         cmd.OrderID,
		TargetStatus:    domain.OrderStatusCancelled,
		Actor:           cmd.Actor,
		Notes:           cmd.Notes,
		Reason:          cmd.Reason,
		ExpectedStatus:  cmd.ExpectedStatus,
		ExpectedVersion: cmd.ExpectedVersion,
		Context:         cmd.Context,
	})
}

// Reprice re-resolves current catalog prices for every line item and
// recomputes the totals. Admin only, and only while items are still editable.
func (s *orderService) Reprice(ctx context.Context, cmd RepriceOrderCommand) (Order, error) {
	if !cmd.Actor.IsAdmin() {
		return Order{}, fmt.Errorf("%w: repricing is admin only", ErrUnauthorized)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		if !statusIn(order.Status, orderEditableStatuses) {
			return fmt.Errorf("%w: repricing is only possible while the order is editable, this one is %s", ErrNotEditable, order.Status)
		}
		if cmd.ExpectedVersion != nil && order.Version != *cmd.ExpectedVersion {
			return fmt.Errorf("%w: expected version %d, order is at %d", ErrConcurrentModification, *cmd.ExpectedVersion, order.Version)
		}

		now := s.now()
		for idx := range order.Items {
			if err := s.repriceItem(txCtx, &order.Items[idx], now); err != nil {
				return err
			}
		}
		if err := s.pricing.Recalculate(&order); err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		order.Version++
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// RecordPayment books payment facts onto the order. It never touches the
// lifecycle status and writes no status log entry.
func (s *orderService) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (Order, error) {
	if !cmd.Actor.IsAdmin() {
		return Order{}, fmt.Errorf("%w: recording payments is admin only", ErrUnauthorized)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if cmd.Status == "" {
		return Order{}, fmt.Errorf("%w: payment status is required", ErrValidation)
	}
	if !cmd.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrValidation, cmd.Status)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		if cmd.ExpectedVersion != nil && order.Version != *cmd.ExpectedVersion {
			return fmt.Errorf("%w: expected version %d, order is at %d", ErrConcurrentModification, *cmd.ExpectedVersion, order.Version)
		}

		now := s.now()
		order.PaymentStatus = cmd.Status
		if method := strings.TrimSpace(cmd.Method); method != "" {
			order.PaymentMethod = method
		}
		if reference := strings.TrimSpace(cmd.Reference); reference != "" {
			order.PaymentReference = reference
		}
		switch {
		case cmd.PaidAt != nil:
			paidAt := cmd.PaidAt.UTC()
			order.PaymentDate = &paidAt
		case cmd.Status == domain.PaymentStatusPaid && order.PaymentDate == nil:
			order.PaymentDate = &now
		}
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		order.Version++
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// AssignStaff pins a pressing staff member onto the order, replacing any
// earlier claim. Terminal orders cannot be reassigned.
func (s *orderService) AssignStaff(ctx context.Context, cmd AssignStaffCommand) (Order, error) {
	return s.assign(ctx, cmd.Actor, cmd.OrderID, cmd.StaffID, domain.RolePress)
}

// AssignDelivery pins a delivery rider onto the order, replacing any earlier
// claim. Terminal orders cannot be reassigned.
func (s *orderService) AssignDelivery(ctx context.Context, cmd AssignDeliveryCommand) (Order, error) {
	return s.assign(ctx, cmd.Actor, cmd.OrderID, cmd.DeliveryPersonID, domain.RoleDelivery)
}

func (s *orderService) assign(ctx context.Context, actor Actor, orderID, assigneeID string, role domain.Role) (Order, error) {
	if !actor.IsAdmin() {
		return Order{}, fmt.Errorf("%w: assignment is admin only", ErrUnauthorized)
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return Order{}, fmt.Errorf("%w: assignee id is required", ErrValidation)
	}

	assignee, err := s.users.FindByID(ctx, assigneeID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrUserNotFound)
	}
	if !assignee.Active {
		return Order{}, fmt.Errorf("%w: account %s is inactive", ErrValidation, assigneeID)
	}
	if assignee.Role != role && !assignee.IsAdmin() {
		return Order{}, fmt.Errorf("%w: user %s does not hold the %s role", ErrValidation, assigneeID, role)
	}

	var updated Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		if isTerminalStatus(order.Status) {
			return fmt.Errorf("%w: cannot assign on a %s order", ErrNotEditable, order.Status)
		}
		switch role {
		case domain.RolePress:
			order.AssignedStaffID = valuePtr(assigneeID)
		case domain.RoleDelivery:
			order.DeliveryPersonID = valuePtr(assigneeID)
		}
		order.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		order.Version++
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// ListStatusUpdates returns the audit trail for an order the actor may view.
func (s *orderService) ListStatusUpdates(ctx context.Context, cmd ListStatusUpdatesCommand) (domain.CursorPage[OrderStatusUpdate], error) {
	order, err := s.GetOrder(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return domain.CursorPage[OrderStatusUpdate]{}, err
	}
	return s.statusLogs.ListByOrder(ctx, order.ID, cmd.Pagination)
}

// applyStatusTransition checks the policy and the lifecycle graph against the
// locked row, then mutates the order in place: status, set-once lifecycle
// timestamp, staff claims, and the cancellation reason. The policy runs first
// so a lost assignment race surfaces as an authorization failure rather than
// an invalid move. Returns the status the order held before.
func (s *orderService) applyStatusTransition(order *Order, actor Actor, target domain.OrderStatus, reason string) (domain.OrderStatus, error) {
	previous := order.Status
	if !MayTransition(actor, *order, target) {
		return "", fmt.Errorf("%w: role %s may not move order %s from %s to %s", ErrUnauthorized, actor.Role, order.ID, previous, target)
	}
	if !canTransition(previous, target) {
		return "", fmt.Errorf("%w: %s to %s", ErrInvalidTransition, previous, target)
	}

	now := s.now()
	order.Status = target
	order.UpdatedAt = now
	s.stampLifecycle(order, target, now)
	claimAssignment(order, actor)

	if target == domain.OrderStatusCancelled {
		if trimmed := strings.TrimSpace(reason); trimmed != "" {
			order.CancellationReason = trimmed
		}
	}

	return previous, nil
}

// stampLifecycle records when the order first reached a status. Timestamps
// are set once and never overwritten.
func (s *orderService) stampLifecycle(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusConfirmed:
		if order.ConfirmedAt == nil {
			order.ConfirmedAt = &now
		}
	case domain.OrderStatusScheduledForPickup:
		if order.ScheduledPickupAt == nil {
			order.ScheduledPickupAt = &now
		}
	case domain.OrderStatusOutForPickup:
		if order.OutForPickupAt == nil {
			order.OutForPickupAt = &now
		}
	case domain.OrderStatusPickedUp:
		if order.PickedUpAt == nil {
			order.PickedUpAt = &now
		}
	case domain.OrderStatusProcessing:
		if order.ProcessingAt == nil {
			order.ProcessingAt = &now
		}
	case domain.OrderStatusReady:
		if order.ReadyAt == nil {
			order.ReadyAt = &now
		}
	case domain.OrderStatusOutForDelivery:
		if order.OutForDeliveryAt == nil {
			order.OutForDeliveryAt = &now
		}
	case domain.OrderStatusCompleted:
		if order.CompletedAt == nil {
			order.CompletedAt = &now
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

// claimAssignment writes the acting staff member onto the order the first
// time they touch it. Existing assignments are never displaced here; admins
// use the explicit assignment operations for that.
func claimAssignment(order *Order, actor Actor) {
	switch actor.Role {
	case domain.RolePress:
		if order.AssignedStaffID == nil {
			order.AssignedStaffID = valuePtr(actor.ID)
		}
	case domain.RoleDelivery:
		if order.DeliveryPersonID == nil {
			order.DeliveryPersonID = valuePtr(actor.ID)
		}
	}
}

// loadEditableOrder locks an order row for an item mutation and verifies the
// actor may edit it, the composition is still open, and the version matches.
func (s *orderService) loadEditableOrder(ctx context.Context, orderID string, actor Actor, expectedVersion *int64) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if !canViewOrder(actor, order) {
		return Order{}, fmt.Errorf("%w: order %s is not visible to this actor", ErrOrderNotFound, orderID)
	}
	if !canEditItems(actor, order) {
		return Order{}, fmt.Errorf("%w: only the owner or an admin can edit items", ErrUnauthorized)
	}
	if !statusIn(order.Status, orderEditableStatuses) {
		return Order{}, fmt.Errorf("%w: items are frozen once the order is %s", ErrNotEditable, order.Status)
	}
	if expectedVersion != nil && order.Version != *expectedVersion {
		return Order{}, fmt.Errorf("%w: expected version %d, order is at %d", ErrConcurrentModification, *expectedVersion, order.Version)
	}
	return order, nil
}

// snapshotItem resolves a catalog service, optional variant, and options into
// a line item carrying copies of the current names and prices.
func (s *orderService) snapshotItem(ctx context.Context, serviceID string, variantID *string, optionIDs []string) (OrderItem, error) {
	service, err := s.catalog.FindService(ctx, strings.TrimSpace(serviceID))
	if err != nil {
		return OrderItem{}, mapRepositoryError(err, ErrServiceNotFound)
	}
	if !service.Active {
		return OrderItem{}, fmt.Errorf("%w: service %s is inactive", ErrServiceNotFound, service.ID)
	}

	name := service.Name
	var variant *ServiceVariant
	if variantID != nil && strings.TrimSpace(*variantID) != "" {
		found, err := s.catalog.FindVariant(ctx, strings.TrimSpace(*variantID))
		if err != nil {
			return OrderItem{}, mapRepositoryError(err, ErrServiceNotFound)
		}
		if found.ServiceID != service.ID {
			return OrderItem{}, fmt.Errorf("%w: variant %s does not belong to service %s", ErrValidation, found.ID, service.ID)
		}
		if !found.Active {
			return OrderItem{}, fmt.Errorf("%w: variant %s is inactive", ErrServiceNotFound, found.ID)
		}
		variant = &found
		name = service.Name + " - " + found.Name
	}

	options, err := s.snapshotOptions(ctx, service.ID, optionIDs)
	if err != nil {
		return OrderItem{}, err
	}

	item := OrderItem{
		ServiceID: service.ID,
		Name:      name,
		UnitPrice: UnitPriceFor(service, variant),
		Options:   options,
	}
	if variant != nil {
		item.VariantID = valuePtr(variant.ID)
	}
	return item, nil
}

// snapshotOptions resolves option ids against the catalog, deduplicating and
// verifying each belongs to the item's service.
func (s *orderService) snapshotOptions(ctx context.Context, serviceID string, optionIDs []string) ([]OrderItemOption, error) {
	ids := make([]string, 0, len(optionIDs))
	seen := make(map[string]struct{}, len(optionIDs))
	for _, raw := range optionIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := s.catalog.FindOptions(ctx, ids)
	if err != nil {
		return nil, mapRepositoryError(err, ErrServiceNotFound)
	}
	byID := make(map[string]ServiceOption, len(found))
	for _, option := range found {
		byID[option.ID] = option
	}

	snapshots := make([]OrderItemOption, 0, len(ids))
	for _, id := range ids {
		option, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: option %s not found", ErrValidation, id)
		}
		if option.ServiceID != serviceID {
			return nil, fmt.Errorf("%w: option %s does not belong to service %s", ErrValidation, id, serviceID)
		}
		if !option.Active {
			return nil, fmt.Errorf("%w: option %s is inactive", ErrValidation, id)
		}
		snapshots = append(snapshots, OrderItemOption{
			OptionID:        option.ID,
			Name:            option.Name,
			PriceAdjustment: option.PriceAdjustment,
		})
	}
	return snapshots, nil
}

// repriceItem refreshes the unit price and option adjustments of one line
// item from the current catalog. Names stay as snapshotted.
func (s *orderService) repriceItem(ctx context.Context, item *OrderItem, now time.Time) error {
	service, err := s.catalog.FindService(ctx, item.ServiceID)
	if err != nil {
		return mapRepositoryError(err, ErrServiceNotFound)
	}
	var variant *ServiceVariant
	if item.VariantID != nil {
		found, err := s.catalog.FindVariant(ctx, *item.VariantID)
		if err != nil {
			return mapRepositoryError(err, ErrServiceNotFound)
		}
		variant = &found
	}
	item.UnitPrice = UnitPriceFor(service, variant)

	if len(item.Options) > 0 {
		ids := make([]string, 0, len(item.Options))
		for _, option := range item.Options {
			ids = append(ids, option.OptionID)
		}
		found, err := s.catalog.FindOptions(ctx, ids)
		if err != nil {
			return mapRepositoryError(err, ErrServiceNotFound)
		}
		byID := make(map[string]ServiceOption, len(found))
		for _, option := range found {
			byID[option.ID] = option
		}
		for idx := range item.Options {
			current, ok := byID[item.Options[idx].OptionID]
			if !ok {
				return fmt.Errorf("%w: option %s no longer exists", ErrValidation, item.Options[idx].OptionID)
			}
			item.Options[idx].PriceAdjustment = current.PriceAdjustment
		}
	}

	item.UpdatedAt = now
	return nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if err := s.unitOfWork.RunInTx(ctx, fn); err != nil {
		return err
	}
	return nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"order_id":   event.OrderID,
			"event_type": event.Type,
			"error":      err.Error(),
		})
	}
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.idGen()
}

func (s *orderService) nextItemID() string {
	return orderItemIDPrefix + s.idGen()
}

// canTransition reports whether the lifecycle graph allows current -> target.
// Unknown statuses and self moves are both invalid.
func canTransition(current, target domain.OrderStatus) bool {
	targets, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(targets, target)
}

// isTerminalStatus reports whether the status has no outgoing transitions.
func isTerminalStatus(status domain.OrderStatus) bool {
	targets, ok := orderStateTransitions[status]
	return ok && len(targets) == 0
}

func intersectStatuses(requested, allowed []domain.OrderStatus) []domain.OrderStatus {
	if len(requested) == 0 {
		return slices.Clone(allowed)
	}
	narrowed := make([]domain.OrderStatus, 0, len(requested))
	for _, status := range requested {
		if statusIn(status, allowed) && !statusIn(status, narrowed) {
			narrowed = append(narrowed, status)
		}
	}
	return narrowed
}

func findItemIndex(items []OrderItem, itemID string) int {
	for idx := range items {
		if items[idx].ID == itemID {
			return idx
		}
	}
	return -1
}

func normalizePager(pager Pagination) Pagination {
	if pager.PageSize <= 0 {
		pager.PageSize = defaultOrderPageSize
	}
	if pager.PageSize > maxOrderPageSize {
		pager.PageSize = maxOrderPageSize
	}
	pager.PageToken = strings.TrimSpace(pager.PageToken)
	return pager
}

// normalizePreferredDate truncates a requested date to midnight UTC and
// rejects dates before today.
func normalizePreferredDate(value *time.Time, now time.Time, field string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	date := value.UTC().Truncate(24 * time.Hour)
	today := now.Truncate(24 * time.Hour)
	if date.Before(today) {
		return nil, fmt.Errorf("%w: %s cannot be in the past", ErrValidation, field)
	}
	return &date, nil
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func valuePtr[T any](value T) *T {
	return &value
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return make(map[string]any, 1)
	}
	return src
}
