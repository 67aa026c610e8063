package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/MustafaPinjari/Ironydjango/internal/domain"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
}

type catalogService struct {
	repo repositories.CatalogRepository
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the read-only catalog service backing the
// public endpoints. Inactive entries never leave this layer.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog service requires a catalog repository")
	}
	return &catalogService{repo: deps.Catalog}, nil
}

func (s *catalogService) ListServices(ctx context.Context, filter CatalogFilter) (domain.CursorPage[Service], error) {
	repoFilter := repositories.ServiceFilter{
		ServiceType: strings.TrimSpace(filter.ServiceType),
		ActiveOnly:  filter.ActiveOnly,
		Pagination:  normalizePager(filter.Pagination),
	}
	page, err := s.repo.ListServices(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Service]{}, mapRepositoryError(err, ErrServiceNotFound)
	}
	return page, nil
}

func (s *catalogService) GetService(ctx context.Context, serviceID string) (Service, error) {
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return Service{}, fmt.Errorf("%w: service id is required", ErrValidation)
	}
	service, err := s.repo.FindService(ctx, serviceID)
	if err != nil {
		return Service{}, mapRepositoryError(err, ErrServiceNotFound)
	}
	if !service.Active {
		return Service{}, fmt.Errorf("%w: service %s is inactive", ErrServiceNotFound, serviceID)
	}
	return service, nil
}

func (s *catalogService) ListVariants(ctx context.Context, serviceID string) ([]ServiceVariant, error) {
	service, err := s.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	variants, err := s.repo.ListVariants(ctx, service.ID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrServiceNotFound)
	}
	active := make([]ServiceVariant, 0, len(variants))
	for _, variant := range variants {
		if variant.Active {
			active = append(active, variant)
		}
	}
	return active, nil
}

func (s *catalogService) ListOptions(ctx context.Context, serviceID string) ([]ServiceOption, error) {
	service, err := s.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	options, err := s.repo.ListOptions(ctx, service.ID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrServiceNotFound)
	}
	active := make([]ServiceOption, 0, len(options))
	for _, option := range options {
		if option.Active {
			active = append(active, option)
		}
	}
	return active, nil
}
