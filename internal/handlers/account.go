package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/tessera/internal/auth"
	"github.com/BradenHooton/tessera/internal/models"
	pkghttp "github.com/BradenHooton/tessera/pkg/http"
)

// AccountServiceInterface defines the interface for signed-in account actions
type AccountServiceInterface interface {
	Logout(ctx context.Context, userID, secret, ipAddress string) error
	LogoutOthers(ctx context.Context, userID, secret, ipAddress string) error
	Delete(ctx context.Context, userID, ipAddress string) error
	LinkEmail(ctx context.Context, userID, email, ipAddress string) (string, error)
}

// AccountHandler serves routes behind auth.RequireSession
type AccountHandler struct {
	service  AccountServiceInterface
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(service AccountServiceInterface, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		service:  service,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// LinkEmailRequest names the address to add as a login
type LinkEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Picture   string `json:"picture,omitempty"`
	Username  string `json:"username,omitempty"`
	Bio       string `json:"bio,omitempty"`
	CreatedAt string `json:"created_at"`
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Method:    user.MethodName,
		Name:      user.Name,
		Email:     user.Email,
		Picture:   user.Picture,
		Username:  user.Username,
		Bio:       user.Bio,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}

// Me returns the signed-in user
// @Router /account/me [get]
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Not signed in")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, userModelToResponse(user))
}

// Logout revokes the current session and clears its cookies
// @Router /account/logout [post]
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Not signed in")
		return
	}

	if err := h.service.Logout(r.Context(), user.ID, auth.GetSessionFromContext(r), pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		h.writeAccountError(w, r, err)
		return
	}

	auth.ClearSessionCookies(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// RevokeOthers signs out every other session of the current user
// @Router /account/revoke [post]
func (h *AccountHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Not signed in")
		return
	}

	if err := h.service.LogoutOthers(r.Context(), user.ID, auth.GetSessionFromContext(r), pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		h.writeAccountError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Other sessions signed out"})
}

// Delete removes the current user's account
// @Router /account [delete]
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Not signed in")
		return
	}

	if err := h.service.Delete(r.Context(), user.ID, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		h.writeAccountError(w, r, err)
		return
	}

	auth.ClearSessionCookies(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Account deleted"})
}

// LinkEmail mails a link that adds an email login to the current account.
// The link only completes in this browser.
// @Router /account/email [post]
func (h *AccountHandler) LinkEmail(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Not signed in")
		return
	}

	var req LinkEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	nonce, err := h.service.LinkEmail(r.Context(), user.ID, req.Email, pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		h.writeAccountError(w, r, err)
		return
	}

	auth.SetStateCookie(w, nonce, h.cookies)
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "Check your inbox to confirm the address"})
}

func (h *AccountHandler) writeAccountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnauthorized):
		auth.ClearSessionCookies(w, h.cookies)
		pkghttp.WriteUnauthorized(w, "Not signed in")
	case errors.Is(err, models.ErrUnknownMethod):
		pkghttp.WriteError(w, http.StatusBadRequest, "unknown_method", "Email login is not enabled")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrStorageUnavailable),
		errors.Is(err, models.ErrMailUnavailable):
		h.logger.ErrorContext(r.Context(), "account storage unavailable", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "account action failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
