package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/auth"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/httpx"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

// InternalHandlers exposes service-to-service endpoints for trusted backends
// (billing export, notification fan-out). The OIDC middleware on the route
// group has already authenticated the caller; these handlers act with full
// visibility on its behalf.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs handlers for the /internal group.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/orders/{orderID}/status-updates", h.listStatusUpdates)
}

func (h *InternalHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := serviceActor(ctx, w)
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

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *InternalHandlers) listStatusUpdates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := serviceActor(ctx, w)
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

// serviceActor maps the verified OIDC identity onto a superuser actor so the
// service layer's visibility checks pass for machine callers.
func serviceActor(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	identity, ok := auth.ServiceIdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "service identity required", http.StatusUnauthorized))
		return services.Actor{}, false
	}

	id := strings.TrimSpace(identity.Email)
	if id == "" {
		id = strings.TrimSpace(identity.Subject)
	}
	return services.Actor{
		ID:        id,
		Role:      domain.RoleAdmin,
		Superuser: true,
	}, true
}
