package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/MustafaPinjari/Ironydjango/internal/platform/httpx"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

const serviceCacheControl = "public, max-age=300"

var serviceHTMLPolicy = newServiceHTMLPolicy()

// newServiceHTMLPolicy builds the sanitizer applied to catalog descriptions.
// The catalog is maintained in an external back office, so its HTML is
// treated as untrusted input.
func newServiceHTMLPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("p", "span", "ul", "ol", "li")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// CatalogHandlers exposes the unauthenticated service catalog endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs handlers for the public catalog.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the /services endpoints against the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listServices)
	r.Get("/{serviceID}", h.getService)
	r.Get("/{serviceID}/variants", h.listVariants)
	r.Get("/{serviceID}/options", h.listOptions)
}

func (h *CatalogHandlers) listServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pager, ok := parsePageParams(ctx, w, query.Get("page_size"), query.Get("page_token"))
	if !ok {
		return
	}

	filter := services.CatalogFilter{
		ServiceType: strings.ToLower(strings.TrimSpace(query.Get("type"))),
		ActiveOnly:  true,
		Pagination:  pager,
	}

	page, err := h.catalog.ListServices(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]servicePayload, 0, len(page.Items))
	for _, service := range page.Items {
		items = append(items, buildServicePayload(service))
	}

	w.Header().Set("Cache-Control", serviceCacheControl)
	writeJSONResponse(w, http.StatusOK, serviceListResponse{
		Services:      items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CatalogHandlers) getService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	serviceID := strings.TrimSpace(chi.URLParam(r, "serviceID"))
	if serviceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "service id is required", http.StatusBadRequest))
		return
	}

	service, err := h.catalog.GetService(ctx, serviceID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", serviceCacheControl)
	writeJSONResponse(w, http.StatusOK, serviceResponse{Service: buildServicePayload(service)})
}

func (h *CatalogHandlers) listVariants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	serviceID := strings.TrimSpace(chi.URLParam(r, "serviceID"))
	if serviceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "service id is required", http.StatusBadRequest))
		return
	}

	variants, err := h.catalog.ListVariants(ctx, serviceID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]serviceVariantPayload, 0, len(variants))
	for _, variant := range variants {
		items = append(items, serviceVariantPayload{
			ID:              strings.TrimSpace(variant.ID),
			Name:            strings.TrimSpace(variant.Name),
			PriceAdjustment: variant.PriceAdjustment.StringFixed(2),
		})
	}

	w.Header().Set("Cache-Control", serviceCacheControl)
	writeJSONResponse(w, http.StatusOK, serviceVariantListResponse{Variants: items})
}

func (h *CatalogHandlers) listOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	serviceID := strings.TrimSpace(chi.URLParam(r, "serviceID"))
	if serviceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "service id is required", http.StatusBadRequest))
		return
	}

	options, err := h.catalog.ListOptions(ctx, serviceID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]serviceOptionPayload, 0, len(options))
	for _, option := range options {
		items = append(items, serviceOptionPayload{
			ID:              strings.TrimSpace(option.ID),
			Name:            strings.TrimSpace(option.Name),
			Description:     sanitizeCatalogHTML(option.Description),
			PriceAdjustment: option.PriceAdjustment.StringFixed(2),
		})
	}

	w.Header().Set("Cache-Control", serviceCacheControl)
	writeJSONResponse(w, http.StatusOK, serviceOptionListResponse{Options: items})
}

type serviceListResponse struct {
	Services      []servicePayload `json:"services"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type serviceResponse struct {
	Service servicePayload `json:"service"`
}

type serviceVariantListResponse struct {
	Variants []serviceVariantPayload `json:"variants"`
}

type serviceOptionListResponse struct {
	Options []serviceOptionPayload `json:"options"`
}

type servicePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	ServiceType string `json:"service_type"`
	Description string `json:"description,omitempty"`
	BasePrice   string `json:"base_price"`
	Taxable     bool   `json:"taxable"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type serviceVariantPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PriceAdjustment string `json:"price_adjustment"`
}

type serviceOptionPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	PriceAdjustment string `json:"price_adjustment"`
}

func buildServicePayload(service services.Service) servicePayload {
	return servicePayload{
		ID:          strings.TrimSpace(service.ID),
		Name:        strings.TrimSpace(service.Name),
		Slug:        strings.TrimSpace(service.Slug),
		ServiceType: strings.TrimSpace(service.ServiceType),
		Description: sanitizeCatalogHTML(service.Description),
		BasePrice:   service.BasePrice.StringFixed(2),
		Taxable:     service.Taxable,
		CreatedAt:   formatTime(service.CreatedAt),
		UpdatedAt:   formatTime(service.UpdatedAt),
	}
}

func sanitizeCatalogHTML(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(serviceHTMLPolicy.Sanitize(trimmed))
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrServiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("service_not_found", "catalog service not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPersistenceFailure):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load catalog data", http.StatusInternalServerError))
	}
}
