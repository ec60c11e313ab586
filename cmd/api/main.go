package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BradenHooton/tessera/internal/auth"
	"github.com/BradenHooton/tessera/internal/background"
	"github.com/BradenHooton/tessera/internal/config"
	"github.com/BradenHooton/tessera/internal/database"
	"github.com/BradenHooton/tessera/internal/handlers"
	"github.com/BradenHooton/tessera/internal/identity"
	"github.com/BradenHooton/tessera/internal/metrics"
	middlewareCustom "github.com/BradenHooton/tessera/internal/middleware"
	"github.com/BradenHooton/tessera/internal/models"
	"github.com/BradenHooton/tessera/internal/repositories"
	"github.com/BradenHooton/tessera/internal/repositories/dynamo"
	"github.com/BradenHooton/tessera/internal/routes"
	"github.com/BradenHooton/tessera/internal/services"
	"github.com/BradenHooton/tessera/internal/tokens"
	pkghttp "github.com/BradenHooton/tessera/pkg/http"
	pkglogger "github.com/BradenHooton/tessera/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("email_provider", cfg.Email.Provider))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Storage
	userRepo, closeStorage, err := newUserRepository(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStorage()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	// Token codecs share one key; each purpose derives its own subkey
	key, err := tokens.NewKey([]byte(cfg.Auth.TokenSecret))
	if err != nil {
		logger.Error("invalid token secret", slog.Any("error", err))
		os.Exit(1)
	}
	stateCodec, err := tokens.NewCodec[models.LoginState](key, tokens.PurposeLoginState, tokens.WithMaxAge(cfg.Auth.TokenMaxAge))
	if err != nil {
		logger.Error("failed to create state codec", slog.Any("error", err))
		os.Exit(1)
	}
	codeCodec, err := tokens.NewCodec[models.EmailLoginCode](key, tokens.PurposeEmailCode, tokens.WithMaxAge(cfg.Auth.EmailCodeMaxAge))
	if err != nil {
		logger.Error("failed to create email code codec", slog.Any("error", err))
		os.Exit(1)
	}

	// Identity resolvers
	emailResolver := identity.NewEmailResolver(codeCodec, identity.EmailConfig{
		EntryURL:   cfg.Server.BaseURL + "/auth/email",
		LinkMaxAge: cfg.Auth.EmailLinkMaxAge,
	})
	resolvers := []identity.Resolver{emailResolver}
	if cfg.OAuth.Google.Enabled() {
		resolvers = append(resolvers, identity.NewGoogleResolver(identity.OAuthConfig{
			ClientID:     cfg.OAuth.Google.ClientID,
			ClientSecret: cfg.OAuth.Google.ClientSecret,
			RedirectURL:  cfg.Server.RedirectURL(),
		}))
	}
	if cfg.OAuth.GitHub.Enabled() {
		resolvers = append(resolvers, identity.NewGitHubResolver(identity.OAuthConfig{
			ClientID:     cfg.OAuth.GitHub.ClientID,
			ClientSecret: cfg.OAuth.GitHub.ClientSecret,
			RedirectURL:  cfg.Server.RedirectURL(),
		}))
	}
	loginMethods := identity.NewRegistry(resolvers...)
	logger.Info("login methods enabled", slog.Any("methods", loginMethods.Methods()))

	// Mail
	mailer, err := newMailer(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize mailer", slog.Any("error", err))
		os.Exit(1)
	}

	// Services
	auditLogger := pkglogger.NewAuditLogger(logger)
	sessionService := services.NewSessionService(userRepo, recorder, logger)
	loginService := services.NewLoginService(services.LoginServiceConfig{
		Users:      userRepo,
		Sessions:   sessionService,
		Resolvers:  loginMethods,
		StateCodec: stateCodec,
		Email:      emailResolver,
		Mailer:     mailer,
		Audit:      auditLogger,
		Metrics:    recorder,
		BaseURL:    cfg.Server.BaseURL,
		Logger:     logger,
	})
	accountService := services.NewAccountService(userRepo, sessionService, loginService, auditLogger, logger)
	apiKeyService := services.NewAPIKeyService(userRepo, auditLogger, logger)

	// Handlers
	cookieConfig := auth.CookieConfig{
		Domain:        cfg.Auth.CookieDomain,
		Secure:        cfg.Auth.CookieSecure,
		SessionMaxAge: cfg.Auth.SessionMaxAge,
		StateMaxAge:   cfg.Auth.StateCookieMaxAge,
	}
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, cookieConfig, ipConfig, logger)
	accountHandler := handlers.NewAccountHandler(accountService, cookieConfig, ipConfig, logger)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyService, ipConfig, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, recorder))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	routes.RegisterRoutes(router,
		authHandler,
		accountHandler,
		apiKeyHandler,
		handlers.Health(accountService),
		metrics.Handler(registry),
		routes.Config{
			BaseURL:          cfg.Server.BaseURL,
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			LoginRateLimit:   middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.LoginRatePerMinute, IPConfig: ipConfig},
			AccountRateLimit: middlewareCustom.RateLimitConfig{RequestsPerMinute: 6 * cfg.Server.LoginRatePerMinute, IPConfig: ipConfig},
			Sessions:         accountService,
			APIKeys:          apiKeyService,
			Timing:           auth.NewTimingDelay(auth.TimingConfig{MinDuration: cfg.Auth.FailureDelay, Jitter: cfg.Auth.FailureJitter}),
			Logger:           logger,
		},
	)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start storage monitor
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()

	monitor := background.NewStorageMonitor(accountService, recorder, logger, cfg.Storage.CheckInterval)
	go monitor.Start(monitorCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	monitorCancel()
	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// newUserRepository opens the configured storage backend. The returned
// func releases it.
func newUserRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.UserRepository, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, nil, err
		}
		return dynamo.NewUserRepository(client, cfg.DynamoDB, logger), func() {}, nil

	default:
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		return repositories.NewUserRepository(db), db.Close, nil
	}
}

func newMailer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.Mailer, error) {
	if cfg.Email.Provider == config.EmailProviderConsole {
		logger.Warn("login links are written to the log, not emailed")
		return services.NewConsoleMailer(logger), nil
	}
	return services.NewSESMailer(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
}
