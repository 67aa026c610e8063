package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MustafaPinjari/Ironydjango/internal/platform/config"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders     services.OrderService
	Dashboards services.DashboardService
	Catalog    services.CatalogService
	Users      services.UserService
	StatusLogs services.StatusLogService
	Sequence   services.OrderNumberSequence
	System     services.SystemService
}

// Option customises optional container dependencies that have no repository
// counterpart, such as event publishers and build metadata.
type Option func(*containerOptions)

type containerOptions struct {
	events services.OrderEventPublisher
	build  services.BuildInfo
	logger func(ctx context.Context, event string, fields map[string]any)
}

// WithOrderEvents attaches a publisher that receives order lifecycle events.
func WithOrderEvents(publisher services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = publisher
	}
}

// WithBuildInfo sets the build metadata reported by the system service.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithServiceLogger routes structured service events to the provided sink.
func WithServiceLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// Container holds a fully wired service layer together with the registry and
// configuration it was built from.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// PostgreSQL-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	var options containerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	svc, err := buildServices(reg, cfg, options)
	if err != nil {
		return nil, err
	}
	return &Container{Config: cfg, Repositories: reg, Services: svc}, nil
}

// Close shuts down the registry and anything it owns. Safe on a nil container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, options containerOptions) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, nil
	}

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		TaxRate:     cfg.Pricing.TaxRate,
		DeliveryFee: cfg.Pricing.DeliveryFee,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	if countersRepo := reg.Counters(); countersRepo != nil {
		sequence, err := services.NewOrderNumberSequence(services.OrderNumberSequenceDeps{
			Counters: countersRepo,
			Clock:    time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order number sequence: %w", err)
		}
		svc.Sequence = sequence
	}

	if statusRepo := reg.StatusUpdates(); statusRepo != nil {
		statusLogs, err := services.NewStatusLogService(services.StatusLogServiceDeps{
			Repository: statusRepo,
			Clock:      time.Now,
			HashSalt:   cfg.Security.IPHashSalt,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build status log service: %w", err)
		}
		svc.StatusLogs = statusLogs
	}

	if usersRepo := reg.Users(); usersRepo != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users: usersRepo,
			Clock: time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil && reg.Users() != nil && reg.Catalog() != nil && svc.StatusLogs != nil && svc.Sequence != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:     ordersRepo,
			Users:      reg.Users(),
			Catalog:    reg.Catalog(),
			StatusLogs: svc.StatusLogs,
			Sequence:   svc.Sequence,
			Pricing:    pricing,
			UnitOfWork: reg,
			Clock:      time.Now,
			Events:     options.events,
			Logger:     options.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if ordersRepo != nil {
		dashboardSvc, err := services.NewDashboardService(services.DashboardServiceDeps{
			Orders: ordersRepo,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build dashboard service: %w", err)
		}
		svc.Dashboards = dashboardSvc
	}

	if catalogRepo := reg.Catalog(); catalogRepo != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Catalog: catalogRepo,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := options.build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = time.Now().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
