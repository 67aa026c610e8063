package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

func newTestCatalogService(t *testing.T, repo *testCatalogRepo) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{Catalog: repo})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return svc
}

func TestCatalogServiceListServices(t *testing.T) {
	ctx := context.Background()
	var captured repositories.ServiceFilter
	repo := &testCatalogRepo{
		listServicesFn: func(_ context.Context, filter repositories.ServiceFilter) (domain.CursorPage[domain.Service], error) {
			captured = filter
			return domain.CursorPage[domain.Service]{
				Items: []domain.Service{{ID: "svc_wash", Name: "Wash & Fold", Active: true}},
			}, nil
		},
	}
	svc := newTestCatalogService(t, repo)

	page, err := svc.ListServices(ctx, CatalogFilter{ServiceType: "  wash_fold  ", ActiveOnly: true})
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	if captured.ServiceType != "wash_fold" {
		t.Fatalf("expected trimmed service type got %q", captured.ServiceType)
	}
	if !captured.ActiveOnly {
		t.Fatalf("expected active-only filter to pass through")
	}
	if captured.Pagination.PageSize != defaultOrderPageSize {
		t.Fatalf("expected default page size got %d", captured.Pagination.PageSize)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "svc_wash" {
		t.Fatalf("unexpected page %#v", page.Items)
	}
}

func TestCatalogServiceGetService(t *testing.T) {
	ctx := context.Background()

	t.Run("returns active service", func(t *testing.T) {
		repo := &testCatalogRepo{
			findServiceFn: func(_ context.Context, id string) (domain.Service, error) {
				return domain.Service{ID: id, Name: "Dry Cleaning", BasePrice: decimal.RequireFromString("12.00"), Active: true}, nil
			},
		}
		svc := newTestCatalogService(t, repo)
		service, err := svc.GetService(ctx, "svc_dry")
		if err != nil {
			t.Fatalf("get service: %v", err)
		}
		if service.Name != "Dry Cleaning" {
			t.Fatalf("unexpected service %#v", service)
		}
	})

	t.Run("hides inactive services", func(t *testing.T) {
		repo := &testCatalogRepo{
			findServiceFn: func(_ context.Context, id string) (domain.Service, error) {
				return domain.Service{ID: id, Active: false}, nil
			},
		}
		svc := newTestCatalogService(t, repo)
		if _, err := svc.GetService(ctx, "svc_old"); !errors.Is(err, ErrServiceNotFound) {
			t.Fatalf("expected ErrServiceNotFound got %v", err)
		}
	})

	t.Run("maps repository not-found", func(t *testing.T) {
		svc := newTestCatalogService(t, &testCatalogRepo{})
		if _, err := svc.GetService(ctx, "svc_missing"); !errors.Is(err, ErrServiceNotFound) {
			t.Fatalf("expected ErrServiceNotFound got %v", err)
		}
	})

	t.Run("requires an id", func(t *testing.T) {
		svc := newTestCatalogService(t, &testCatalogRepo{})
		if _, err := svc.GetService(ctx, "   "); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation got %v", err)
		}
	})
}

func TestCatalogServiceListVariants(t *testing.T) {
	ctx := context.Background()
	repo := &testCatalogRepo{
		findServiceFn: func(_ context.Context, id string) (domain.Service, error) {
			return domain.Service{ID: id, Active: true}, nil
		},
		listVariantsFn: func(_ context.Context, serviceID string) ([]domain.ServiceVariant, error) {
			return []domain.ServiceVariant{
				{ID: "var_1", ServiceID: serviceID, Name: "Standard", Active: true},
				{ID: "var_2", ServiceID: serviceID, Name: "Retired", Active: false},
				{ID: "var_3", ServiceID: serviceID, Name: "Bulk", Active: true},
			}, nil
		},
	}
	svc := newTestCatalogService(t, repo)

	variants, err := svc.ListVariants(ctx, "svc_wash")
	if err != nil {
		t.Fatalf("list variants: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("expected inactive variants hidden, got %d", len(variants))
	}
	for _, variant := range variants {
		if !variant.Active {
			t.Fatalf("inactive variant leaked: %#v", variant)
		}
	}

	t.Run("inactive service hides its variants", func(t *testing.T) {
		repo := &testCatalogRepo{
			findServiceFn: func(_ context.Context, id string) (domain.Service, error) {
				return domain.Service{ID: id, Active: false}, nil
			},
		}
		svc := newTestCatalogService(t, repo)
		if _, err := svc.ListVariants(ctx, "svc_old"); !errors.Is(err, ErrServiceNotFound) {
			t.Fatalf("expected ErrServiceNotFound got %v", err)
		}
	})
}

func TestCatalogServiceListOptions(t *testing.T) {
	ctx := context.Background()
	repo := &testCatalogRepo{
		findServiceFn: func(_ context.Context, id string) (domain.Service, error) {
			return domain.Service{ID: id, Active: true}, nil
		},
		listOptionsFn: func(_ context.Context, serviceID string) ([]domain.ServiceOption, error) {
			return []domain.ServiceOption{
				{ID: "opt_1", ServiceID: serviceID, Name: "Express", Active: true},
				{ID: "opt_2", ServiceID: serviceID, Name: "Discontinued", Active: false},
			}, nil
		},
	}
	svc := newTestCatalogService(t, repo)

	options, err := svc.ListOptions(ctx, "svc_wash")
	if err != nil {
		t.Fatalf("list options: %v", err)
	}
	if len(options) != 1 || options[0].ID != "opt_1" {
		t.Fatalf("expected only active options, got %#v", options)
	}
}
