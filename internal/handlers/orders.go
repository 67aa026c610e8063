package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/auth"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/httpx"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100

	maxOrderBodySize           = 64 * 1024
	maxOrderTransitionBodySize = 8 * 1024

	transitionRateLimit  = 30
	transitionRateWindow = time.Minute
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusDraft:              {},
	domain.OrderStatusPending:            {},
	domain.OrderStatusConfirmed:          {},
	domain.OrderStatusScheduledForPickup: {},
	domain.OrderStatusOutForPickup:       {},
	domain.OrderStatusPickedUp:           {},
	domain.OrderStatusProcessing:         {},
	domain.OrderStatusReady:              {},
	domain.OrderStatusOutForDelivery:     {},
	domain.OrderStatusCompleted:          {},
	domain.OrderStatusCancelled:          {},
	domain.OrderStatusRefunded:           {},
	domain.OrderStatusFailed:             {},
}

// OrderHandlers exposes the order lifecycle endpoints for authenticated users.
// Role checks happen in the service layer; handlers only translate HTTP.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	users   services.UserService
	limiter rateLimiter
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, users services.UserService) *OrderHandlers {
	return &OrderHandlers{
		authn:   authn,
		orders:  orders,
		users:   users,
		limiter: newFixedWindowLimiter(transitionRateLimit, transitionRateWindow, nil),
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Delete("/{orderID}", h.deleteDraft)
	r.Post("/{orderID}/items", h.addItem)
	r.Patch("/{orderID}/items/{itemID}", h.updateItem)
	r.Delete("/{orderID}/items/{itemID}", h.removeItem)
	r.Get("/{orderID}/status-updates", h.listStatusUpdates)
	r.Post("/{orderID}:transition", h.transitionOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

type createOrderRequest struct {
	CustomerID            string `json:"customer_id"`
	DeliveryType          string `json:"delivery_type"`
	PickupAddress         string `json:"pickup_address"`
	DeliveryAddress       string `json:"delivery_address"`
	PreferredPickupDate   string `json:"preferred_pickup_date"`
	PreferredDeliveryDate string `json:"preferred_delivery_date"`
	SpecialInstructions   string `json:"special_instructions"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, true, &req) {
		return
	}

	deliveryType := domain.DeliveryType(strings.ToLower(strings.TrimSpace(req.DeliveryType)))
	if !deliveryType.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery_type must be pickup or delivery", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		Actor:               actor,
		CustomerID:          strings.TrimSpace(req.CustomerID),
		DeliveryType:        deliveryType,
		PickupAddress:       strings.TrimSpace(req.PickupAddress),
		DeliveryAddress:     strings.TrimSpace(req.DeliveryAddress),
		SpecialInstructions: strings.TrimSpace(req.SpecialInstructions),
		Context:             actorContext(r),
	}
	if cmd.CustomerID == "" {
		cmd.CustomerID = actor.ID
	}

	if raw := strings.TrimSpace(req.PreferredPickupDate); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "preferred_pickup_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.PreferredPickupDate = &ts
	}
	if raw := strings.TrimSpace(req.PreferredDeliveryDate); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "preferred_delivery_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.PreferredDeliveryDate = &ts
	}

	order, err := h.orders.CreateDraft(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, staffView(actor))})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	query := r.URL.Query()

	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown status", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	cmd := services.ListOrdersCommand{
		Actor:    actor,
		Statuses: statuses,
	}

	if raw := strings.TrimSpace(query.Get("bucket")); raw != "" {
		bucket, ok := parseStatusBucket(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "bucket must be one of pending, in_progress, ready, done", http.StatusBadRequest))
			return
		}
		cmd.Bucket = &bucket
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.DateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.DateRange.To = &ts
	}

	pager, ok := parsePageParams(ctx, w, query.Get("page_size"), query.Get("page_token"))
	if !ok {
		return
	}
	cmd.Pagination = pager

	page, err := h.orders.ListOrders(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page, staffView(actor)))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, staffView(actor))})
}

func (h *OrderHandlers) deleteDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.DeleteDraft(ctx, services.DeleteDraftCommand{OrderID: orderID, Actor: actor}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type addOrderItemRequest struct {
	ServiceID       string   `json:"service_id"`
	VariantID       *string  `json:"variant_id"`
	Quantity        int      `json:"quantity"`
	OptionIDs       []string `json:"option_ids"`
	DiscountAmount  string   `json:"discount_amount"`
	ExpectedVersion *int64   `json:"expected_version"`
}

func (h *OrderHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req addOrderItemRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, true, &req) {
		return
	}

	discount, ok := parseDecimalField(ctx, w, req.DiscountAmount, "discount_amount")
	if !ok {
		return
	}

	cmd := services.AddOrderItemCommand{
		OrderID:         orderID,
		Actor:           actor,
		ServiceID:       strings.TrimSpace(req.ServiceID),
		VariantID:       cloneStringPointer(req.VariantID),
		Quantity:        req.Quantity,
		OptionIDs:       parseFilterValues(req.OptionIDs),
		DiscountAmount:  discount,
		ExpectedVersion: req.ExpectedVersion,
	}

	order, err := h.orders.AddItem(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, staffView(actor))})
}

type updateOrderItemRequest struct {
	quantity        *int
	optionIDs       *[]string
	discountAmount  *decimal.Decimal
	expectedVersion *int64
}

func parseUpdateOrderItemRequest(data []byte) (updateOrderItemRequest, error) {
	var req updateOrderItemRequest

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return req, errors.New("invalid JSON body")
	}
	if len(raw) == 0 {
		return req, errNoEditableFields
	}

	editable := 0
	for key, value := range raw {
		switch key {
		case "quantity":
			if isJSONNull(value) {
				return req, errors.New("quantity must not be null")
			}
			var quantity int
			if err := json.Unmarshal(value, &quantity); err != nil {
				return req, errors.New("quantity must be an integer")
			}
			req.quantity = &quantity
			editable++
		case "option_ids":
			if isJSONNull(value) {
				empty := []string{}
				req.optionIDs = &empty
			} else {
				var ids []string
				if err := json.Unmarshal(value, &ids); err != nil {
					return req, errors.New("option_ids must be an array of strings")
				}
				cleaned := parseFilterValues(ids)
				if cleaned == nil {
					cleaned = []string{}
				}
				req.optionIDs = &cleaned
			}
			editable++
		case "discount_amount":
			if isJSONNull(value) {
				zero := decimal.Zero
				req.discountAmount = &zero
			} else {
				var amount string
				if err := json.Unmarshal(value, &amount); err != nil {
					return req, errors.New("discount_amount must be a decimal string")
				}
				parsed, err := decimal.NewFromString(strings.TrimSpace(amount))
				if err != nil {
					return req, errors.New("discount_amount must be a decimal string")
				}
				req.discountAmount = &parsed
			}
			editable++
		case "expected_version":
			if isJSONNull(value) {
				continue
			}
			var version int64
			if err := json.Unmarshal(value, &version); err != nil {
				return req, errors.New("expected_version must be an integer")
			}
			req.expectedVersion = &version
		}
	}
	if editable == 0 {
		return req, errNoEditableFields
	}

	return req, nil
}

func (h *OrderHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if orderID == "" || itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id and item id are required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	req, err := parseUpdateOrderItemRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpdateOrderItemCommand{
		OrderID:         orderID,
		ItemID:          itemID,
		Actor:           actor,
		Quantity:        req.quantity,
		OptionIDs:       req.optionIDs,
		DiscountAmount:  req.discountAmount,
		ExpectedVersion: req.expectedVersion,
	}

	order, err := h.orders.UpdateItem(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, staffView(actor))})
}

func (h *OrderHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if orderID == "" || itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id and item id are required", http.StatusBadRequest))
		return
	}

	cmd := services.RemoveOrderItemCommand{
		OrderID: orderID,
		ItemID:  itemID,
		Actor:   actor,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("expected_version")); raw != "" {
		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_version must be an integer", http.StatusBadRequest))
			return
		}
		cmd.ExpectedVersion = &version
	}

	order, err := h.orders.RemoveItem(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, staffView(actor))})
}

func (h *OrderHandlers) listStatusUpdates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	pager, ok := parsePageParams(ctx, w, query.Get("page_size"), query.Get("page_token"))
	if !ok {
		return
	}

	page, err := h.orders.ListStatusUpdates(ctx, services.ListStatusUpdatesCommand{
		OrderID:    orderID,
		Actor:      actor,
		Pagination: pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]statusUpdatePayload, 0, len(page.Items))
	for _, update := range page.Items {
		items = append(items, buildStatusUpdatePayload(update))
	}
	writeJSONResponse(w, http.StatusOK, statusUpdateListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type transitionOrderRequest struct {
	TargetStatus    string         `json:"target_status"`
	Notes           string         `json:"notes"`
	Reason          string         `json:"reason"`
	ExpectedStatus  string         `json:"expected_status"`
	ExpectedVersion *int64         `json:"expected_version"`
	Metadata        map[string]any `json:"metadata"`
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(actor.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many status changes, retry shortly", http.StatusTooManyRequests))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req transitionOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderTransitionBodySize, true, &req) {
		return
	}

	target, ok := parseOrderStatus(req.TargetStatus)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status must be a valid order status", http.StatusBadRequest))
		return
	}

	cmd := services.TransitionCommand{
		OrderID:         orderID,
		TargetStatus:    target,
		Actor:           actor,
		Notes:           strings.TrimSpace(req.Notes),
		Reason:          strings.TrimSpace(req.Reason),
		ExpectedVersion: req.ExpectedVersion,
		Context:         actorContext(r),
		Metadata:        cloneMap(req.Metadata),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	result, err := h.orders.Transition(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, transitionResponse{
		Order:  buildOrderPayload(result.Order, staffView(actor)),
		Update: buildStatusUpdatePayload(result.Update),
	})
}

type cancelOrderRequest struct {
	Reason          string `json:"reason"`
	Notes           string `json:"notes"`
	ExpectedStatus  string `json:"expected_status"`
	ExpectedVersion *int64 `json:"expected_version"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(actor.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many status changes, retry shortly", http.StatusTooManyRequests))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderTransitionBodySize, false, &req) {
		return
	}

	cmd := services.CancelOrderCommand{
		OrderID:         orderID,
		Actor:           actor,
		Reason:          strings.TrimSpace(req.Reason),
		Notes:           strings.TrimSpace(req.Notes),
		ExpectedVersion: req.ExpectedVersion,
		Context:         actorContext(r),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	result, err := h.orders.Cancel(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, transitionResponse{
		Order:  buildOrderPayload(result.Order, staffView(actor)),
		Update: buildStatusUpdatePayload(result.Update),
	})
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type transitionResponse struct {
	Order  orderPayload        `json:"order"`
	Update statusUpdatePayload `json:"status_update"`
}

type statusUpdateListResponse struct {
	Items         []statusUpdatePayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID                    string             `json:"id"`
	OrderNumber           string             `json:"order_number"`
	CustomerID            string             `json:"customer_id"`
	Status                string             `json:"status"`
	PaymentStatus         string             `json:"payment_status"`
	DeliveryType          string             `json:"delivery_type"`
	PickupAddress         string             `json:"pickup_address,omitempty"`
	DeliveryAddress       string             `json:"delivery_address,omitempty"`
	PreferredPickupDate   string             `json:"preferred_pickup_date,omitempty"`
	PreferredDeliveryDate string             `json:"preferred_delivery_date,omitempty"`
	Subtotal              string             `json:"subtotal"`
	TaxAmount             string             `json:"tax_amount"`
	ShippingCost          string             `json:"shipping_cost"`
	DiscountAmount        string             `json:"discount_amount"`
	TotalAmount           string             `json:"total_amount"`
	AssignedStaffID       *string            `json:"assigned_staff_id,omitempty"`
	DeliveryPersonID      *string            `json:"delivery_person_id,omitempty"`
	SpecialInstructions   string             `json:"special_instructions,omitempty"`
	InternalNotes         string             `json:"internal_notes,omitempty"`
	CancellationReason    string             `json:"cancellation_reason,omitempty"`
	PaymentMethod         string             `json:"payment_method,omitempty"`
	PaymentReference      string             `json:"payment_reference,omitempty"`
	PaymentDate           string             `json:"payment_date,omitempty"`
	Items                 []orderItemPayload `json:"items"`
	CreatedAt             string             `json:"created_at"`
	UpdatedAt             string             `json:"updated_at,omitempty"`
	ConfirmedAt           string             `json:"confirmed_at,omitempty"`
	ScheduledPickupAt     string             `json:"scheduled_pickup_at,omitempty"`
	OutForPickupAt        string             `json:"out_for_pickup_at,omitempty"`
	PickedUpAt            string             `json:"picked_up_at,omitempty"`
	ProcessingAt          string             `json:"processing_at,omitempty"`
	ReadyAt               string             `json:"ready_at,omitempty"`
	OutForDeliveryAt      string             `json:"out_for_delivery_at,omitempty"`
	CompletedAt           string             `json:"completed_at,omitempty"`
	CancelledAt           string             `json:"cancelled_at,omitempty"`
	Version               int64              `json:"version"`
}

type orderItemPayload struct {
	ID             string                   `json:"id"`
	ServiceID      string                   `json:"service_id"`
	VariantID      *string                  `json:"variant_id,omitempty"`
	Name           string                   `json:"name"`
	Description    string                   `json:"description,omitempty"`
	Quantity       int                      `json:"quantity"`
	UnitPrice      string                   `json:"unit_price"`
	DiscountAmount string                   `json:"discount_amount"`
	Options        []orderItemOptionPayload `json:"options,omitempty"`
	TotalPrice     string                   `json:"total_price"`
	CreatedAt      string                   `json:"created_at,omitempty"`
}

type orderItemOptionPayload struct {
	OptionID        string `json:"option_id"`
	Name            string `json:"name"`
	PriceAdjustment string `json:"price_adjustment"`
}

type statusUpdatePayload struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"order_id"`
	From      string  `json:"from_status"`
	To        string  `json:"to_status"`
	ChangedBy *string `json:"changed_by,omitempty"`
	Notes     string  `json:"notes,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// staffView reports whether internal fields may appear in responses to this
// actor. Customers never see internal notes.
func staffView(actor services.Actor) bool {
	return actor.IsAdmin() || actor.Role == domain.RolePress || actor.Role == domain.RoleDelivery
}

func buildOrderListResponse(page domain.CursorPage[domain.Order], includeInternal bool) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order, includeInternal))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildOrderPayload(order services.Order, includeInternal bool) orderPayload {
	payload := orderPayload{
		ID:                    strings.TrimSpace(order.ID),
		OrderNumber:           strings.TrimSpace(order.OrderNumber),
		CustomerID:            strings.TrimSpace(order.CustomerID),
		Status:                string(order.Status),
		PaymentStatus:         string(order.PaymentStatus),
		DeliveryType:          string(order.DeliveryType),
		PickupAddress:         strings.TrimSpace(order.PickupAddress),
		DeliveryAddress:       strings.TrimSpace(order.DeliveryAddress),
		PreferredPickupDate:   formatTime(pointerTime(order.PreferredPickupDate)),
		PreferredDeliveryDate: formatTime(pointerTime(order.PreferredDeliveryDate)),
		Subtotal:              order.Subtotal.StringFixed(2),
		TaxAmount:             order.TaxAmount.StringFixed(2),
		ShippingCost:          order.ShippingCost.StringFixed(2),
		DiscountAmount:        order.DiscountAmount.StringFixed(2),
		TotalAmount:           order.TotalAmount.StringFixed(2),
		AssignedStaffID:       cloneStringPointer(order.AssignedStaffID),
		DeliveryPersonID:      cloneStringPointer(order.DeliveryPersonID),
		SpecialInstructions:   strings.TrimSpace(order.SpecialInstructions),
		CancellationReason:    strings.TrimSpace(order.CancellationReason),
		PaymentMethod:         strings.TrimSpace(order.PaymentMethod),
		PaymentReference:      strings.TrimSpace(order.PaymentReference),
		PaymentDate:           formatTime(pointerTime(order.PaymentDate)),
		Items:                 make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:             formatTime(order.CreatedAt),
		UpdatedAt:             formatTime(order.UpdatedAt),
		ConfirmedAt:           formatTime(pointerTime(order.ConfirmedAt)),
		ScheduledPickupAt:     formatTime(pointerTime(order.ScheduledPickupAt)),
		OutForPickupAt:        formatTime(pointerTime(order.OutForPickupAt)),
		PickedUpAt:            formatTime(pointerTime(order.PickedUpAt)),
		ProcessingAt:          formatTime(pointerTime(order.ProcessingAt)),
		ReadyAt:               formatTime(pointerTime(order.ReadyAt)),
		OutForDeliveryAt:      formatTime(pointerTime(order.OutForDeliveryAt)),
		CompletedAt:           formatTime(pointerTime(order.CompletedAt)),
		CancelledAt:           formatTime(pointerTime(order.CancelledAt)),
		Version:               order.Version,
	}

	if includeInternal {
		payload.InternalNotes = strings.TrimSpace(order.InternalNotes)
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, buildOrderItemPayload(item))
	}

	return payload
}

func buildOrderItemPayload(item services.OrderItem) orderItemPayload {
	payload := orderItemPayload{
		ID:             strings.TrimSpace(item.ID),
		ServiceID:      strings.TrimSpace(item.ServiceID),
		VariantID:      cloneStringPointer(item.VariantID),
		Name:           strings.TrimSpace(item.Name),
		Description:    strings.TrimSpace(item.Description),
		Quantity:       item.Quantity,
		UnitPrice:      item.UnitPrice.StringFixed(2),
		DiscountAmount: item.DiscountAmount.StringFixed(2),
		TotalPrice:     item.TotalPrice.StringFixed(2),
		CreatedAt:      formatTime(item.CreatedAt),
	}
	if len(item.Options) > 0 {
		payload.Options = make([]orderItemOptionPayload, 0, len(item.Options))
		for _, option := range item.Options {
			payload.Options = append(payload.Options, orderItemOptionPayload{
				OptionID:        strings.TrimSpace(option.OptionID),
				Name:            strings.TrimSpace(option.Name),
				PriceAdjustment: option.PriceAdjustment.StringFixed(2),
			})
		}
	}
	return payload
}

func buildStatusUpdatePayload(update services.OrderStatusUpdate) statusUpdatePayload {
	return statusUpdatePayload{
		ID:        strings.TrimSpace(update.ID),
		OrderID:   strings.TrimSpace(update.OrderID),
		From:      string(update.FromStatus),
		To:        string(update.ToStatus),
		ChangedBy: cloneStringPointer(update.ChangedByID),
		Notes:     strings.TrimSpace(update.Notes),
		CreatedAt: formatTime(update.CreatedAt),
	}
}

// decodeJSONBody reads and unmarshals the request body. When required is
// false an empty body leaves dst untouched and succeeds.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, required bool, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		if errors.Is(err, errEmptyBody) && !required {
			return true
		}
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func parsePageParams(ctx context.Context, w http.ResponseWriter, sizeRaw, token string) (services.Pagination, bool) {
	pageSize := defaultOrderPageSize
	if sizeRaw = strings.TrimSpace(sizeRaw); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return services.Pagination{}, false
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	return services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(token),
	}, true
}

func parseDecimalField(ctx context.Context, w http.ResponseWriter, raw, field string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, true
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", field+" must be a decimal string", http.StatusBadRequest))
		return decimal.Decimal{}, false
	}
	return value, true
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

func parseStatusBucket(raw string) (domain.StatusBucket, bool) {
	bucket := domain.StatusBucket(strings.ToLower(strings.TrimSpace(raw)))
	if bucket.Statuses() == nil {
		return "", false
	}
	return bucket, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "actor is not permitted to perform this operation", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrServiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("service_not_found", "catalog service not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrNotEditable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_editable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrConcurrentModification):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPersistenceFailure):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
