package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MustafaPinjari/Ironydjango/internal/platform/httpx"
)

// RouteRegistrar attaches one route group's endpoints to the router it is given.
type RouteRegistrar func(r chi.Router)

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

type routerConfig struct {
	basePath string
	global   []func(http.Handler) http.Handler
	health   *HealthHandlers

	catalog    RouteRegistrar
	orders     RouteRegistrar
	dashboard  RouteRegistrar
	admin      RouteRegistrar
	internal   RouteRegistrar
	internalMW []func(http.Handler) http.Handler
}

// NewRouter builds the service router: health probes at the root, every API
// group under the versioned prefix, and JSON error envelopes for unmatched
// requests.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: apiPrefix,
		global: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	r.Route(cfg.basePath, cfg.mountGroups)

	return r
}

// mountGroups wires each route group under the API prefix. A group without a
// registrar answers 501 for every path and method.
func (cfg routerConfig) mountGroups(api chi.Router) {
	groups := []struct {
		path      string
		name      string
		registrar RouteRegistrar
		mw        []func(http.Handler) http.Handler
	}{
		{path: "/services", name: "catalog", registrar: cfg.catalog},
		{path: "/orders", name: "orders", registrar: cfg.orders},
		{path: "/dashboard", name: "dashboard", registrar: cfg.dashboard},
		{path: "/admin", name: "admin", registrar: cfg.admin},
		{path: "/internal", name: "internal", registrar: cfg.internal, mw: cfg.internalMW},
	}

	for _, g := range groups {
		api.Route(g.path, func(group chi.Router) {
			for _, mw := range g.mw {
				if mw != nil {
					group.Use(mw)
				}
			}
			if g.registrar != nil {
				g.registrar(group)
				return
			}
			group.Mount("/", notImplemented(g.name))
		})
	}
}

func notImplemented(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes not implemented", http.StatusNotImplemented))
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.global = append(cfg.global, mw...)
	}
}

// WithHealthHandlers overrides the handlers behind /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCatalogRoutes mounts the public catalog endpoints under /services.
func WithCatalogRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.catalog = reg
	}
}

// WithOrderRoutes mounts the order endpoints under /orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orders = reg
	}
}

// WithDashboardRoutes mounts the role dashboards under /dashboard.
func WithDashboardRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.dashboard = reg
	}
}

// WithAdminRoutes mounts the admin endpoints under /admin.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.admin = reg
	}
}

// WithInternalRoutes mounts the service-to-service endpoints under /internal.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.internal = reg
	}
}

// WithInternalMiddlewares applies middleware to the /internal group only,
// ahead of whatever its registrar installs.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.internalMW = append(cfg.internalMW, mw...)
	}
}
