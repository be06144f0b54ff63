package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"onboarding/backend/internal/api"
	"onboarding/backend/internal/auth"
	"onboarding/backend/internal/config"
	"onboarding/backend/internal/eventbus"
	"onboarding/backend/internal/logging"
	"onboarding/backend/internal/mcp"
	"onboarding/backend/internal/repository"
	"onboarding/backend/internal/seed"
	"onboarding/backend/internal/services"
	"onboarding/backend/internal/telemetry"
	"onboarding/backend/internal/tls"
)

func newServeCmd(configPath *string) *cobra.Command {
	var inMemory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, inMemory)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "use a seeded in-memory store instead of PostgreSQL")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, inMemory bool) error {
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"okta_domain", cfg.Auth.OktaDomain,
		"okta_client_id", cfg.Auth.ClientID,
		"swagger_client_id", cfg.Auth.SwaggerClientID,
		"config_file", cfg.Source,
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client id matches the backend client id; PKCE login from /docs will fail for a web app client")
	}

	repo, closeRepo, err := openRepository(ctx, cfg, logger, inMemory)
	if err != nil {
		return err
	}
	defer closeRepo()

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	opts := []services.Option{
		services.WithLogger(logger.With("component", "engine")),
		services.WithPublisher(publisher),
	}
	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics, err = telemetry.NewMetrics(cfg.Metrics.ServiceName)
		if err != nil {
			return fmt.Errorf("metrics initialization failed: %w", err)
		}
		defer metrics.Shutdown(context.Background())
		opts = append(opts, services.WithMetrics(metrics))
	}
	engine := services.NewEngine(repo, opts...)
	logger.Info("Service layer initialized")

	authz, err := auth.New(ctx, cfg, repo, logger.With("component", "auth"))
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	e := newEcho(cfg, logger, engine, authz, metrics)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	if cfg.TLS.Enable {
		addr = ":" + strconv.Itoa(cfg.Server.TLSPort)
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("tls enabled but cert_file or key_file is not set")
		}
		if len(cfg.TLS.Hostnames) > 0 {
			generated, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				return fmt.Errorf("failed to generate self-signed cert: %w", err)
			}
			if generated {
				logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hostnames", cfg.TLS.Hostnames)
			}
		}
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable, "version", version)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger, inMemory bool) (repository.Repository, func(), error) {
	if inMemory {
		store := repository.NewMemoryStore()
		res, err := seed.Run(ctx, store, cfg.DevEmail, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("seeding in-memory store: %w", err)
		}
		logger.Warn("Using in-memory store; data is lost on exit",
			"org_id", res.OrgID,
			"workflow_id", res.WorkflowID,
			"employee_id", res.EmployeeID)
		return store, func() {}, nil
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database initialization failed: %w", err)
	}
	if cfg.DB.AutoMigrate {
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("Database schema migrated")
	}
	logger.Info("Database connected", "host", cfg.DB.Host, "database", cfg.DB.Name)
	return repository.NewPostgresStore(pool), pool.Close, nil
}

func openPublisher(cfg *config.Config, logger *logging.Logger) (eventbus.Publisher, error) {
	if !cfg.NATS.Enabled {
		logger.Info("Event publishing disabled")
		return eventbus.NopPublisher{}, nil
	}

	natsCfg := eventbus.DefaultNATSConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.StreamName = cfg.NATS.StreamName
	natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
	if cfg.NATS.Timeout > 0 {
		natsCfg.ConnectTimeout = cfg.NATS.Timeout
		natsCfg.PublishTimeout = cfg.NATS.Timeout
	}

	zl := logger.Zap().Named("eventbus")
	natsPub, err := eventbus.NewNATSPublisher(natsCfg, zl)
	if err != nil {
		return nil, fmt.Errorf("nats initialization failed: %w", err)
	}
	logger.Info("Publishing events to NATS", "url", natsCfg.URL, "stream", natsCfg.StreamName)
	return eventbus.NewBreakerPublisher(natsPub, eventbus.BreakerConfig{}, zl), nil
}

func newEcho(cfg *config.Config, logger *logging.Logger, engine *services.Engine, authz *auth.Auth, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	httpLog := logger.With("component", "http")
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(cfg.Metrics.ServiceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			httpLog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency)
			return nil
		},
	}))

	e.GET("/healthz", api.HealthHandler(serviceName, version, engine))
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// Create a group for /api/v1 to match the OpenAPI document and apply auth middleware
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(engine))
	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(engine, version)
	mcpHandler := echo.WrapHandler(authz.RequireAuth(mcp.Handler(mcpServer.GetMCPServer())))
	e.Any("/mcp", mcpHandler)
	e.Any("/mcp/*", mcpHandler)
	logger.Info("MCP protocol handlers mounted")

	// expose OpenAPI document (with runtime substitution) and Swagger UI
	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	return e
}
