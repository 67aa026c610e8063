package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MustafaPinjari/Ironydjango/internal/platform/auth"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/httpx"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

// DashboardHandlers exposes the role-specific work queue and overview
// endpoints. Each endpoint rejects actors outside its audience.
type DashboardHandlers struct {
	authn      *auth.Authenticator
	dashboards services.DashboardService
	users      services.UserService
}

// NewDashboardHandlers constructs a new DashboardHandlers instance.
func NewDashboardHandlers(authn *auth.Authenticator, dashboards services.DashboardService, users services.UserService) *DashboardHandlers {
	return &DashboardHandlers{
		authn:      authn,
		dashboards: dashboards,
		users:      users,
	}
}

// Routes registers the /dashboard endpoints.
func (h *DashboardHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/customer", h.customerOverview)
	r.Get("/press", h.pressQueue)
	r.Get("/delivery", h.deliveryQueue)
}

func (h *DashboardHandlers) customerOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.dashboards == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dashboard_service_unavailable", "dashboard service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	query := r.URL.Query()
	cmd := services.CustomerDashboardQuery{Actor: actor}

	if raw := strings.TrimSpace(query.Get("bucket")); raw != "" {
		bucket, ok := parseStatusBucket(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "bucket must be one of pending, in_progress, ready, done", http.StatusBadRequest))
			return
		}
		cmd.Bucket = &bucket
	}

	pager, ok := parsePageParams(ctx, w, query.Get("page_size"), query.Get("page_token"))
	if !ok {
		return
	}
	cmd.Pagination = pager

	page, err := h.dashboards.CustomerOverview(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page, staffView(actor)))
}

func (h *DashboardHandlers) pressQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.dashboards == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dashboard_service_unavailable", "dashboard service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	query := r.URL.Query()
	pager, ok := parsePageParams(ctx, w, query.Get("page_size"), query.Get("page_token"))
	if !ok {
		return
	}

	page, err := h.dashboards.PressQueue(ctx, services.PressQueueQuery{
		Actor:      actor,
		Pagination: pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page, staffView(actor)))
}

func (h *DashboardHandlers) deliveryQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.dashboards == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dashboard_service_unavailable", "dashboard service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	query := r.URL.Query()
	pager, ok := parsePageParams(ctx, w, query.Get("page_size"), query.Get("page_token"))
	if !ok {
		return
	}

	page, err := h.dashboards.DeliveryQueue(ctx, services.DeliveryQueueQuery{
		Actor:      actor,
		Pagination: pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page, staffView(actor)))
}
