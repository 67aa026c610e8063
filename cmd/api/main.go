package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MustafaPinjari/Ironydjango/internal/handlers"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/auth"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/config"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/database"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/idempotency"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/jobs"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/observability"
	"github.com/MustafaPinjari/Ironydjango/internal/platform/secrets"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories"
	"github.com/MustafaPinjari/Ironydjango/internal/repositories/postgres"
	"github.com/MustafaPinjari/Ironydjango/internal/services"
)

func main() {
	startedAt := time.Now().UTC()

	baseLogger := observability.NewLogger()
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	ctx := observability.WithLogger(context.Background(), logger)

	cfg, envValues, fetcher := mustLoadConfig(ctx, logger)
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	pool := mustOpenDatabase(ctx, logger, cfg.Database)
	defer pool.Close()

	eventPublisher, orderTopic, stopEvents := setupOrderEvents(ctx, logger, cfg)
	defer stopEvents()

	healthRepo, err := newHealthRepository(pool, orderTopic, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := postgres.NewRegistry(pool, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            time.Now,
		Build:            buildInfo,
	})
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	idempotencyStore := idempotency.NewPostgresStore(pool)
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	stopCleanup := startIdempotencyCleanup(logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)

	oidcGuard := internalAuthMiddleware(logger.Named("auth"), cfg.Security.OIDC)

	tokenVerifier, err := auth.NewJWTManager(cfg.Auth.TokenSecret, cfg.Auth.Issuer, cfg.Auth.Audience,
		auth.WithJWTTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(tokenVerifier)

	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		TaxRate:     cfg.Pricing.TaxRate,
		DeliveryFee: cfg.Pricing.DeliveryFee,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	sequence, err := services.NewOrderNumberSequence(services.OrderNumberSequenceDeps{
		Counters: registry.Counters(),
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise order number sequence", zap.Error(err))
	}

	statusLogService, err := services.NewStatusLogService(services.StatusLogServiceDeps{
		Repository:  registry.StatusUpdates(),
		Clock:       time.Now,
		IDGenerator: func() string { return ulid.Make().String() },
		HashSalt:    cfg.Security.IPHashSalt,
	})
	if err != nil {
		logger.Fatal("failed to initialise status log service", zap.Error(err))
	}

	ordersLogger := logger.Named("orders")
	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      registry.Orders(),
		Users:       registry.Users(),
		Catalog:     registry.Catalog(),
		StatusLogs:  statusLogService,
		Sequence:    sequence,
		Pricing:     pricingEngine,
		UnitOfWork:  registry,
		Clock:       time.Now,
		IDGenerator: func() string { return ulid.Make().String() },
		Events:      eventPublisher,
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields)+1)
			zFields = append(zFields, zap.String("event", event))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			ordersLogger.Debug("order log", zFields...)
		},
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	dashboardService, err := services.NewDashboardService(services.DashboardServiceDeps{
		Orders: registry.Orders(),
	})
	if err != nil {
		logger.Fatal("failed to initialise dashboard service", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: registry.Catalog(),
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	userService, err := services.NewUserService(services.UserServiceDeps{
		Users: registry.Users(),
		Clock: time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise user service", zap.Error(err))
	}

	catalogHandlers := handlers.NewCatalogHandlers(catalogService)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, userService)
	dashboardHandlers := handlers.NewDashboardHandlers(authenticator, dashboardService, userService)
	adminHandlers := handlers.NewAdminHandlers(authenticator, orderService, dashboardService, userService)
	internalHandlers := handlers.NewInternalHandlers(orderService)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			idempotencyMiddleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithDashboardRoutes(dashboardHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if cfg.Features.EnablePublicCatalog {
		routerOpts = append(routerOpts, handlers.WithCatalogRoutes(catalogHandlers.Routes))
	}
	if oidcGuard != nil {
		routerOpts = append(routerOpts, handlers.WithInternalMiddlewares(oidcGuard))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(routerOpts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	httpLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		httpLogger.Info("irony api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	waitCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	<-waitCtx.Done()
	logger.Info("shutdown signal received; draining requests")

	stopCleanup()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// mustLoadConfig resolves environment values, wires the secret fetcher into
// the loader, and exits the process when configuration cannot be assembled.
// The caller owns closing the returned fetcher.
func mustLoadConfig(ctx context.Context, logger *zap.Logger) (config.Config, map[string]string, *secrets.Fetcher) {
	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	return cfg, envValues, fetcher
}

func mustOpenDatabase(ctx context.Context, logger *zap.Logger, cfg config.DatabaseConfig) *pgxpool.Pool {
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if cfg.MigrateOnStart {
		if err := database.Migrate(pool); err != nil {
			logger.Fatal("failed to run database migrations", zap.Error(err))
		}
		logger.Info("database schema up to date")
	}
	return pool
}

// setupOrderEvents connects the pubsub publisher for order transition events.
// When events are disabled it returns a nil publisher and topic; the stop
// function is safe to call either way.
func setupOrderEvents(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.OrderEventPublisher, *pubsub.Topic, func()) {
	if !cfg.Features.EnableOrderEvents || strings.TrimSpace(cfg.PubSub.ProjectID) == "" {
		logger.Info("order events disabled; transitions will not be published")
		return nil, nil, func() {}
	}

	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		if err := os.Setenv("PUBSUB_EMULATOR_HOST", host); err != nil {
			logger.Warn("failed to point pubsub client at emulator", zap.Error(err))
		}
	}

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	topic := client.Topic(cfg.PubSub.OrderEventsTopic)

	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	stop := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, topic, stop
}

// startIdempotencyCleanup prunes expired idempotency records on a fixed
// interval. The returned stop function blocks until the loop has exited.
func startIdempotencyCleanup(logger *zap.Logger, store *idempotency.PostgresStore, cfg config.IdempotencyConfig) func() {
	if cfg.CleanupInterval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(cfg.CleanupInterval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			runCtx, cancelRun := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancelRun()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		}
	}()

	return func() {
		ticker.Stop()
		cancel()
		<-done
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	return services.BuildInfo{
		Version:     cmp.Or(strings.TrimSpace(env["API_BUILD_VERSION"]), "dev"),
		CommitSHA:   cmp.Or(strings.TrimSpace(env["API_BUILD_COMMIT_SHA"]), "unknown"),
		Environment: cmp.Or(strings.TrimSpace(cfg.Security.Environment), "local"),
		StartedAt:   started,
	}
}

func newHealthRepository(pool *pgxpool.Pool, topic *pubsub.Topic, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	var checks []repositories.DependencyCheck
	if pool != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: 1500 * time.Millisecond,
			Check:   pool.Ping,
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err == nil && !ok {
					err = fmt.Errorf("topic %s not found", topic.ID())
				}
				return err
			},
		})
	}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				// A missing probe secret still proves the Secret Manager
				// API is reachable.
				_, err := fetcher.Resolve(ctx, "secret://system/healthz?version=latest")
				if status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// internalAuthMiddleware builds the OIDC guard for service-to-service routes.
// It returns nil when no JWKS URL is configured, leaving the internal group
// reachable without tokens for local setups.
func internalAuthMiddleware(logger *zap.Logger, cfg config.OIDCConfig) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	validator := auth.NewOIDCValidator(
		auth.NewJWKSCache(cfg.JWKSURL, auth.WithJWKSLogger(adapter)),
		auth.WithOIDCLogger(adapter),
	)

	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		logger.Warn("auth: no OIDC audience configured; internal requests will be rejected")
	}
	if len(cfg.Issuers) == 0 {
		logger.Warn("auth: no OIDC issuers configured; internal requests will be rejected")
	}
	return validator.RequireOIDC(audience, cfg.Issuers)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	environment := cmp.Or(strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"])), "local")
	fallback := cmp.Or(strings.TrimSpace(env["API_SECRET_FALLBACK_FILE"]), ".secrets.local")

	opts := []secrets.Option{
		secrets.WithEnvironment(environment),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallback),
	}
	if projects := environmentProjects(env["API_SECRET_PROJECT_IDS"]); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if project := cmp.Or(strings.TrimSpace(env["API_SECRET_DEFAULT_PROJECT_ID"]), strings.TrimSpace(env["API_PUBSUB_PROJECT_ID"])); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if pins := secretVersionPins(env["API_SECRET_VERSION_PINS"]); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if file := strings.TrimSpace(env["API_SECRET_CREDENTIALS_FILE"]); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{"Database.URL", "Auth.TokenSecret"}
	if strings.TrimSpace(env["API_SECURITY_IP_HASH_SALT"]) != "" {
		required = append(required, "Security.IPHashSalt")
	}
	slices.Sort(required)
	return slices.Compact(required)
}

// environmentProjects parses the comma separated "environment=project" pairs
// carried by API_SECRET_PROJECT_IDS.
func environmentProjects(raw string) map[string]string {
	projects := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		label, project, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		label = strings.ToLower(strings.TrimSpace(label))
		project = strings.TrimSpace(project)
		if label != "" && project != "" {
			projects[label] = project
		}
	}
	return projects
}

// secretVersionPins parses API_SECRET_VERSION_PINS, a comma separated list of
// "ref=version" pairs where ref may carry an environment prefix such as
// "prod:secret://name".
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		ref, version, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		ref = strings.TrimSpace(ref)
		version = strings.TrimSpace(version)
		if ref == "" || version == "" {
			continue
		}
		pins[canonicalPinRef(ref)] = version
	}
	return pins
}

// canonicalPinRef normalises a pin key to secret:// form while preserving an
// optional leading environment label.
func canonicalPinRef(ref string) string {
	prefix := ""
	if label, rest, ok := strings.Cut(ref, ":"); ok && label != "" && !strings.HasPrefix(rest, "//") {
		prefix = strings.ToLower(strings.TrimSpace(label)) + ":"
		ref = strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	} else if !strings.HasPrefix(ref, "secret://") {
		ref = "secret://" + ref
	}
	return prefix + ref
}
