package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/auth"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

func serviceAuthed(req *http.Request, subject, email string) *http.Request {
	return req.WithContext(auth.WithServiceIdentity(req.Context(), &auth.ServiceIdentity{
		Subject: subject,
		Email:   email,
	}))
}

func TestInternalHandlersGetOrder(t *testing.T) {
	var capturedActor services.Actor
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
			capturedActor = actor
			return services.Order{
				ID:            orderID,
				Status:        domain.OrderStatusProcessing,
				InternalNotes: "hold for inspection",
			}, nil
		},
	}

	handler := NewInternalHandlers(service)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := serviceAuthed(httptest.NewRequest(http.MethodGet, "/internal/orders/ord_123", nil), "svc-billing", "billing@svc.example.com")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedActor.ID != "billing@svc.example.com" {
		t.Fatalf("expected actor from service email, got %s", capturedActor.ID)
	}
	if !capturedActor.Superuser {
		t.Fatalf("expected service caller to act as superuser")
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.InternalNotes != "hold for inspection" {
		t.Fatalf("expected internal notes visible to services, got %q", resp.Order.InternalNotes)
	}
}

func TestInternalHandlersGetOrderFallsBackToSubject(t *testing.T) {
	var capturedActor services.Actor
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
			capturedActor = actor
			return services.Order{ID: orderID}, nil
		},
	}

	handler := NewInternalHandlers(service)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := serviceAuthed(httptest.NewRequest(http.MethodGet, "/internal/orders/ord_123", nil), "svc-notify", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedActor.ID != "svc-notify" {
		t.Fatalf("expected subject fallback, got %s", capturedActor.ID)
	}
}

func TestInternalHandlersGetOrderUnauthenticated(t *testing.T) {
	handler := NewInternalHandlers(&stubOrderService{})
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/internal/orders/ord_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestInternalHandlersListStatusUpdates(t *testing.T) {
	var captured services.ListStatusUpdatesCommand
	service := &stubOrderService{
		listUpdatesFn: func(ctx context.Context, cmd services.ListStatusUpdatesCommand) (domain.CursorPage[services.OrderStatusUpdate], error) {
			captured = cmd
			return domain.CursorPage[services.OrderStatusUpdate]{
				Items: []services.OrderStatusUpdate{
					{ID: "osu_1", OrderID: cmd.OrderID, FromStatus: domain.OrderStatusReady, ToStatus: domain.OrderStatusOutForDelivery},
				},
			}, nil
		},
	}

	handler := NewInternalHandlers(service)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := serviceAuthed(httptest.NewRequest(http.MethodGet, "/internal/orders/ord_123/status-updates?page_size=50", nil), "svc-notify", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.Pagination.PageSize != 50 {
		t.Fatalf("unexpected command: %#v", captured)
	}

	var resp statusUpdateListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].To != "out_for_delivery" {
		t.Fatalf("unexpected updates: %#v", resp.Items)
	}
}

func TestInternalHandlersServiceUnavailable(t *testing.T) {
	handler := NewInternalHandlers(nil)
	req := serviceAuthed(httptest.NewRequest(http.MethodGet, "/internal/orders/ord_123", nil), "svc-billing", "")
	rr := httptest.NewRecorder()
	handler.getOrder(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
