package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/tessera/internal/auth"
	"github.com/BradenHooton/tessera/internal/handlers"
	"github.com/BradenHooton/tessera/internal/middleware"
	"github.com/BradenHooton/tessera/internal/models"
)

// Config carries what the route table needs besides handlers
type Config struct {
	BaseURL          string
	AllowedOrigins   []string
	LoginRateLimit   middleware.RateLimitConfig
	AccountRateLimit middleware.RateLimitConfig
	Sessions         auth.SessionAuthenticator
	APIKeys          auth.APIKeyAuthenticator
	Timing           *auth.TimingDelay
	Logger           *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	accountHandler *handlers.AccountHandler,
	apiKeyHandler *handlers.APIKeyHandler,
	health http.HandlerFunc,
	metricsHandler http.Handler,
	cfg Config,
) {
	router.Get("/health", health)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler)
	}

	sameOrigin := middleware.SameOriginWrites(cfg.BaseURL, cfg.AllowedOrigins, cfg.Logger)

	// Public login routes
	router.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(cfg.LoginRateLimit))

		r.Get("/login/{method}", authHandler.BeginLogin)
		r.Get("/email", authHandler.EmailForm)
		r.With(sameOrigin).Post("/email", authHandler.SendEmailLink)
		r.Get("/callback", authHandler.Callback)
	})

	// Account routes accept a session cookie or, where scoped, an API key
	router.Route("/account", func(r chi.Router) {
		r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowedOrigins)))
		r.Use(middleware.RateLimitBySession(cfg.AccountRateLimit))
		r.Use(sameOrigin)
		r.Use(auth.RequireAuth(cfg.Sessions, cfg.APIKeys, cfg.Timing))

		r.With(auth.RequireScope(models.ScopeAccountRead)).Get("/me", accountHandler.Me)
		r.With(auth.RequireScope(models.ScopeSessionsRevoke)).Post("/revoke", accountHandler.RevokeOthers)

		r.Group(func(r chi.Router) {
			r.Use(auth.SessionOnly)
			r.Post("/logout", accountHandler.Logout)
			r.Delete("/", accountHandler.Delete)
			r.Post("/email", accountHandler.LinkEmail)
		})

		if apiKeyHandler != nil {
			r.Route("/keys", func(r chi.Router) {
				r.With(auth.RequireScope(models.ScopeKeysRead)).Get("/", apiKeyHandler.List)
				r.With(auth.SessionOnly).Post("/", apiKeyHandler.Create)
				r.With(auth.SessionOnly).Delete("/{id}", apiKeyHandler.Revoke)
			})
		}
	})
}
