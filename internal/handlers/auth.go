package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/tessera/internal/auth"
	"github.com/BradenHooton/tessera/internal/models"
	"github.com/BradenHooton/tessera/internal/services"
	pkghttp "github.com/BradenHooton/tessera/pkg/http"
)

// LoginServiceInterface defines the interface for the login flow
type LoginServiceInterface interface {
	Begin(ctx context.Context, method string, rememberMe bool, referer string) (*services.BeginResult, error)
	Inspect(stateToken string) (*models.LoginState, error)
	Complete(ctx context.Context, req services.CompleteRequest) (*services.LoginResult, error)
	SendEmailLink(ctx context.Context, email, stateToken string) error
}

// AuthHandler handles the login routes
type AuthHandler struct {
	service  LoginServiceInterface
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// SendEmailLinkRequest represents the body of the email login form
type SendEmailLinkRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	State string `json:"state" validate:"required"`
}

// PendingLoginResponse describes a login waiting for the user's email address
type PendingLoginResponse struct {
	State      string `json:"state"`
	Method     string `json:"method"`
	RememberMe bool   `json:"remember_me"`
	Referer    string `json:"referer"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// BeginLogin starts a login and redirects to the provider
// @Router /auth/login/{method} [get]
func (h *AuthHandler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	rememberMe, _ := strconv.ParseBool(r.URL.Query().Get("rememberMe"))
	referer := r.URL.Query().Get("referer")

	result, err := h.service.Begin(r.Context(), method, rememberMe, referer)
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}

	auth.SetStateCookie(w, result.StateCookie, h.cookies)
	http.Redirect(w, r, result.RedirectURL, http.StatusSeeOther)
}

// EmailForm reports the pending email login so a client can render the form
// @Router /auth/email [get]
func (h *AuthHandler) EmailForm(w http.ResponseWriter, r *http.Request) {
	stateToken := r.URL.Query().Get("state")
	if stateToken == "" {
		pkghttp.WriteBadRequest(w, "state is required")
		return
	}

	state, err := h.service.Inspect(stateToken)
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}
	if state.Method != models.MethodEmail {
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_state", "Login state is not an email login")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, PendingLoginResponse{
		State:      stateToken,
		Method:     state.Method,
		RememberMe: state.RememberMe,
		Referer:    state.Referer,
	})
}

// SendEmailLink mails a magic link for a pending email login
// @Router /auth/email [post]
func (h *AuthHandler) SendEmailLink(w http.ResponseWriter, r *http.Request) {
	var req SendEmailLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.SendEmailLink(r.Context(), req.Email, req.State); err != nil {
		h.writeLoginError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "Check your inbox for a login link"})
}

// Callback completes a login. The state cookie is single use and is cleared
// whatever the outcome.
// @Router /auth/callback [get]
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	storedState := auth.GetStateCookie(r)
	auth.ClearStateCookie(w, h.cookies)

	result, err := h.service.Complete(r.Context(), services.CompleteRequest{
		StateToken:  query.Get("state"),
		StoredState: storedState,
		Callback:    query,
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:   r.Header.Get("User-Agent"),
	})
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}

	auth.SetSessionCookies(w, result.UserID, result.SessionSecret, result.RememberMe, h.cookies)
	http.Redirect(w, r, result.Referer, http.StatusSeeOther)
}

// writeLoginError maps login failures to responses. Client-side problems
// are 400s with a distinct error code; infrastructure failures are 503s.
func (h *AuthHandler) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidState):
		if errors.Is(err, models.ErrTokenExpired) {
			pkghttp.WriteError(w, http.StatusBadRequest, "state_expired", "Login took too long, please start again")
			return
		}
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_state", "Invalid login state")
	case errors.Is(err, models.ErrStateMismatch):
		pkghttp.WriteError(w, http.StatusBadRequest, "state_mismatch", "Login state does not match this browser")
	case errors.Is(err, models.ErrLinkExpired):
		pkghttp.WriteError(w, http.StatusBadRequest, "link_expired", "Login link has expired")
	case errors.Is(err, models.ErrInvalidCallback):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_callback", "Login provider rejected the request")
	case errors.Is(err, models.ErrUnknownMethod):
		pkghttp.WriteError(w, http.StatusBadRequest, "unknown_method", "Unknown login method")
	case errors.Is(err, models.ErrIdentityInUse):
		pkghttp.WriteError(w, http.StatusConflict, "identity_in_use", "That login already belongs to another account")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrStorageUnavailable),
		errors.Is(err, models.ErrMailUnavailable):
		h.logger.ErrorContext(r.Context(), "login dependency unavailable", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "login failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
