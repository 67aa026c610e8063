package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

type stubCatalogService struct {
	listFn     func(context.Context, services.CatalogFilter) (domain.CursorPage[services.Service], error)
	getFn      func(context.Context, string) (services.Service, error)
	variantsFn func(context.Context, string) ([]services.ServiceVariant, error)
	optionsFn  func(context.Context, string) ([]services.ServiceOption, error)
}

func (s *stubCatalogService) ListServices(ctx context.Context, filter services.CatalogFilter) (domain.CursorPage[services.Service], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Service]{}, errors.New("not implemented")
}

func (s *stubCatalogService) GetService(ctx context.Context, serviceID string) (services.Service, error) {
	if s.getFn != nil {
		return s.getFn(ctx, serviceID)
	}
	return services.Service{}, errors.New("not implemented")
}

func (s *stubCatalogService) ListVariants(ctx context.Context, serviceID string) ([]services.ServiceVariant, error) {
	if s.variantsFn != nil {
		return s.variantsFn(ctx, serviceID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCatalogService) ListOptions(ctx context.Context, serviceID string) ([]services.ServiceOption, error) {
	if s.optionsFn != nil {
		return s.optionsFn(ctx, serviceID)
	}
	return nil, errors.New("not implemented")
}

func TestCatalogHandlersListServices(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	var captured services.CatalogFilter
	service := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.CatalogFilter) (domain.CursorPage[services.Service], error) {
			captured = filter
			return domain.CursorPage[services.Service]{
				Items: []services.Service{
					{
						ID:          "svc_wash",
						Name:        "Wash & Fold",
						Slug:        "wash-fold",
						ServiceType: "wash",
						Description: "<p>Everyday laundry</p>",
						BasePrice:   decimal.RequireFromString("9.50"),
						Taxable:     true,
						CreatedAt:   now,
					},
				},
				NextPageToken: "tok-svc",
			}, nil
		},
	}

	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/services", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/services?type=Wash&page_size=25", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ServiceType != "wash" {
		t.Fatalf("expected type filter lowercased, got %q", captured.ServiceType)
	}
	if !captured.ActiveOnly {
		t.Fatalf("expected public listing to request active services only")
	}
	if captured.Pagination.PageSize != 25 {
		t.Fatalf("expected page size 25, got %d", captured.Pagination.PageSize)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != serviceCacheControl {
		t.Fatalf("expected cache control %q, got %q", serviceCacheControl, cc)
	}

	var resp serviceListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(resp.Services))
	}
	svc := resp.Services[0]
	if svc.ID != "svc_wash" || svc.Slug != "wash-fold" || svc.BasePrice != "9.50" {
		t.Fatalf("unexpected service payload: %#v", svc)
	}
	if resp.NextPageToken != "tok-svc" {
		t.Fatalf("expected next page token tok-svc, got %s", resp.NextPageToken)
	}
}

func TestCatalogHandlersGetServiceSanitizesDescription(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, serviceID string) (services.Service, error) {
			if serviceID != "svc_wash" {
				t.Fatalf("unexpected service id %s", serviceID)
			}
			return services.Service{
				ID:          "svc_wash",
				Name:        "Wash & Fold",
				Description: `<p class="intro">Everyday laundry</p><script>alert("x")</script>`,
				BasePrice:   decimal.RequireFromString("9.50"),
			}, nil
		},
	}

	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/services", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/services/svc_wash", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp serviceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if strings.Contains(resp.Service.Description, "script") {
		t.Fatalf("expected script stripped, got %q", resp.Service.Description)
	}
	if !strings.Contains(resp.Service.Description, `<p class="intro">`) {
		t.Fatalf("expected allowed markup preserved, got %q", resp.Service.Description)
	}
}

func TestCatalogHandlersGetServiceNotFound(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, serviceID string) (services.Service, error) {
			return services.Service{}, services.ErrServiceNotFound
		},
	}
	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/services", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/services/svc_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "service_not_found") {
		t.Fatalf("expected service_not_found error, got %s", rr.Body.String())
	}
}

func TestCatalogHandlersListVariants(t *testing.T) {
	service := &stubCatalogService{
		variantsFn: func(ctx context.Context, serviceID string) ([]services.ServiceVariant, error) {
			return []services.ServiceVariant{
				{ID: "var_bulk", Name: "Bulk load", PriceAdjustment: decimal.RequireFromString("-1.50")},
				{ID: "var_silk", Name: "Silk", PriceAdjustment: decimal.RequireFromString("3.00")},
			}, nil
		},
	}
	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/services", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/services/svc_wash/variants", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp serviceVariantListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(resp.Variants))
	}
	if resp.Variants[0].PriceAdjustment != "-1.50" {
		t.Fatalf("unexpected adjustment: %s", resp.Variants[0].PriceAdjustment)
	}
}

func TestCatalogHandlersListOptions(t *testing.T) {
	service := &stubCatalogService{
		optionsFn: func(ctx context.Context, serviceID string) ([]services.ServiceOption, error) {
			return []services.ServiceOption{
				{
					ID:              "opt_stain",
					Name:            "Stain treatment",
					Description:     "<b>Deep</b> treatment<script>x()</script>",
					PriceAdjustment: decimal.RequireFromString("2.50"),
				},
			}, nil
		},
	}
	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/services", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/services/svc_wash/options", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp serviceOptionListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Options) != 1 {
		t.Fatalf("expected 1 option, got %d", len(resp.Options))
	}
	option := resp.Options[0]
	if strings.Contains(option.Description, "script") {
		t.Fatalf("expected script stripped, got %q", option.Description)
	}
	if option.PriceAdjustment != "2.50" {
		t.Fatalf("unexpected adjustment: %s", option.PriceAdjustment)
	}
}

func TestCatalogHandlersStorageUnavailable(t *testing.T) {
	service := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.CatalogFilter) (domain.CursorPage[services.Service], error) {
			return domain.CursorPage[services.Service]{}, services.ErrPersistenceFailure
		},
	}
	handler := NewCatalogHandlers(service)
	router := chi.NewRouter()
	router.Route("/services", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCatalogHandlersNilService(t *testing.T) {
	handler := NewCatalogHandlers(nil)
	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	rr := httptest.NewRecorder()
	handler.listServices(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestSanitizeCatalogHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "   ", ""},
		{"plain text", "gentle cycle", "gentle cycle"},
		{"strips script", `before<script>alert(1)</script>after`, "beforeafter"},
		{"keeps list markup", `<ul class="perks"><li>Fast</li></ul>`, `<ul class="perks"><li>Fast</li></ul>`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeCatalogHTML(tc.in); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
