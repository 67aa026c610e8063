package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/auth"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/httpx"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

// AdminHandlers exposes back-office endpoints: the operations dashboard and
// order corrections that only admins may perform. The service layer re-checks
// the actor's role, the route middleware just keeps non-admin traffic out.
type AdminHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	dashboards services.DashboardService
	users      services.UserService
}

// NewAdminHandlers constructs admin endpoints over the order and dashboard services.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, dashboards services.DashboardService, users services.UserService) *AdminHandlers {
	return &AdminHandlers{
		authn:      authn,
		orders:     orders,
		dashboards: dashboards,
		users:      users,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Get("/dashboard", h.dashboard)
	r.Route("/orders", func(rt chi.Router) {
		rt.Post("/{orderID}:reprice", h.repriceOrder)
		rt.Post("/{orderID}:record-payment", h.recordPayment)
		rt.Post("/{orderID}:assign-staff", h.assignStaff)
		rt.Post("/{orderID}:assign-delivery", h.assignDelivery)
	})
}

func (h *AdminHandlers) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.dashboards == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dashboard_service_unavailable", "dashboard service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := resolveActor(ctx, w, h.users)
	if !ok {
		return
	}

	dashboard, err := h.dashboards.AdminOverview(ctx, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildAdminDashboardPayload(dashboard))
}

type repriceOrderRequest struct {
	ExpectedVersion *int64 `json:"expected_version"`
}

func (h *AdminHandlers) repriceOrder(w http.ResponseWriter, r *http.Request) {
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

	var req repriceOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderTransitionBodySize, false, &req) {
		return
	}

	order, err := h.orders.Reprice(ctx, services.RepriceOrderCommand{
		OrderID:         orderID,
		Actor:           actor,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, staffView(actor))})
}

type recordPaymentRequest struct {
	Status          string `json:"status"`
	Method          string `json:"method"`
	Reference       string `json:"reference"`
	PaidAt          string `json:"paid_at"`
	ExpectedVersion *int64 `json:"expected_version"`
}

func (h *AdminHandlers) recordPayment(w http.ResponseWriter, r *http.Request) {
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

	var req recordPaymentRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, true, &req) {
		return
	}

	status := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid payment status", http.StatusBadRequest))
		return
	}

	cmd := services.RecordPaymentCommand{
		OrderID:         orderID,
		Actor:           actor,
		Status:          status,
		Method:          strings.TrimSpace(req.Method),
		Reference:       strings.TrimSpace(req.Reference),
		ExpectedVersion: req.ExpectedVersion,
	}
	if raw := strings.TrimSpace(req.PaidAt); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paid_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.PaidAt = &ts
	}

	order, err := h.orders.RecordPayment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, staffView(actor))})
}

type assignStaffRequest struct {
	StaffID string `json:"staff_id"`
}

func (h *AdminHandlers) assignStaff(w http.ResponseWriter, r *http.Request) {
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

	var req assignStaffRequest
	if !decodeJSONBody(ctx, w, r, maxOrderTransitionBodySize, true, &req) {
		return
	}

	order, err := h.orders.AssignStaff(ctx, services.AssignStaffCommand{
		OrderID: orderID,
		Actor:   actor,
		StaffID: strings.TrimSpace(req.StaffID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, staffView(actor))})
}

type assignDeliveryRequest struct {
	DeliveryPersonID string `json:"delivery_person_id"`
}

func (h *AdminHandlers) assignDelivery(w http.ResponseWriter, r *http.Request) {
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

	var req assignDeliveryRequest
	if !decodeJSONBody(ctx, w, r, maxOrderTransitionBodySize, true, &req) {
		return
	}

	order, err := h.orders.AssignDelivery(ctx, services.AssignDeliveryCommand{
		OrderID:          orderID,
		Actor:            actor,
		DeliveryPersonID: strings.TrimSpace(req.DeliveryPersonID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, staffView(actor))})
}

type adminDashboardPayload struct {
	TotalOrders      int64                     `json:"total_orders"`
	StatusCounts     []statusCountPayload      `json:"status_counts"`
	BucketCounts     map[string]int64          `json:"bucket_counts"`
	RecentOrders     []orderPayload            `json:"recent_orders"`
	StaffPerformance []staffPerformancePayload `json:"staff_performance"`
}

type statusCountPayload struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type staffPerformancePayload struct {
	StaffID              string  `json:"staff_id"`
	StaffEmail           string  `json:"staff_email"`
	StaffName            string  `json:"staff_name"`
	CompletedOrders      int64   `json:"completed_orders"`
	AvgCompletionSeconds float64 `json:"avg_completion_seconds"`
}

func buildAdminDashboardPayload(dashboard services.AdminDashboard) adminDashboardPayload {
	payload := adminDashboardPayload{
		TotalOrders:      dashboard.TotalOrders,
		StatusCounts:     make([]statusCountPayload, 0, len(dashboard.StatusCounts)),
		RecentOrders:     make([]orderPayload, 0, len(dashboard.RecentOrders)),
		StaffPerformance: make([]staffPerformancePayload, 0, len(dashboard.StaffPerformance)),
	}

	for _, count := range dashboard.StatusCounts {
		payload.StatusCounts = append(payload.StatusCounts, statusCountPayload{
			Status: string(count.Status),
			Count:  count.Count,
		})
	}

	if len(dashboard.BucketCounts) > 0 {
		payload.BucketCounts = make(map[string]int64, len(dashboard.BucketCounts))
		for bucket, count := range dashboard.BucketCounts {
			payload.BucketCounts[string(bucket)] = count
		}
	}

	for _, order := range dashboard.RecentOrders {
		payload.RecentOrders = append(payload.RecentOrders, buildOrderPayload(order, true))
	}

	for _, perf := range dashboard.StaffPerformance {
		payload.StaffPerformance = append(payload.StaffPerformance, staffPerformancePayload{
			StaffID:              strings.TrimSpace(perf.StaffID),
			StaffEmail:           strings.TrimSpace(perf.StaffEmail),
			StaffName:            strings.TrimSpace(perf.StaffName),
			CompletedOrders:      perf.CompletedOrders,
			AvgCompletionSeconds: perf.AvgCompletionTime.Seconds(),
		})
	}

	return payload
}
