package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/tessera/internal/auth"
	"github.com/BradenHooton/tessera/internal/models"
	pkghttp "github.com/BradenHooton/tessera/pkg/http"
)

// APIKeyServiceInterface defines the interface for API key operations
type APIKeyServiceInterface interface {
	Create(ctx context.Context, userID, name, ipAddress string, scopes []string) (*models.GeneratedAPIKey, error)
	List(ctx context.Context, userID string) ([]models.APIKey, error)
	Revoke(ctx context.Context, userID, keyID, ipAddress string) error
}

// APIKeyHandler handles API key HTTP requests
type APIKeyHandler struct {
	service  APIKeyServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAPIKeyHandler creates a new APIKeyHandler
func NewAPIKeyHandler(service APIKeyServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// CreateAPIKeyRequest represents the request to create an API key
type CreateAPIKeyRequest struct {
	Name   string   `json:"name" validate:"required,max=64"`
	Scopes []string `json:"scopes" validate:"max=8,dive,required"`
}

// APIKeyDTO is the response DTO for API keys (never includes the key or its hash)
type APIKeyDTO struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Hint      string   `json:"hint"`
	Scopes    []string `json:"scopes"`
	CreatedAt string   `json:"created_at"`
}

// CreateAPIKeyResponse carries the plaintext key, shown once
type CreateAPIKeyResponse struct {
	Key     string     `json:"key"`
	Message string     `json:"message"`
	APIKey  *APIKeyDTO `json:"api_key"`
}

// ListAPIKeysResponse represents the response for listing API keys
type ListAPIKeysResponse struct {
	Keys []*APIKeyDTO `json:"keys"`
}

func toAPIKeyDTO(key *models.APIKey) *APIKeyDTO {
	scopes := key.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return &APIKeyDTO{
		ID:        key.ID,
		Name:      key.Name,
		Hint:      key.Hint,
		Scopes:    scopes,
		CreatedAt: key.CreatedAt.Format(time.RFC3339),
	}
}

// Create mints a new API key
// @Router /account/keys [post]
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Not signed in")
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	generated, err := h.service.Create(r.Context(), user.ID, req.Name, pkghttp.ExtractClientIP(r, h.ipConfig), req.Scopes)
	if err != nil {
		h.writeKeyError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, CreateAPIKeyResponse{
		Key:     generated.PlainKey,
		Message: "Save this API key - it will not be shown again",
		APIKey:  toAPIKeyDTO(generated.APIKey),
	})
}

// List returns the current user's API keys
// @Router /account/keys [get]
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Not signed in")
		return
	}

	keys, err := h.service.List(r.Context(), user.ID)
	if err != nil {
		h.writeKeyError(w, r, err)
		return
	}

	out := make([]*APIKeyDTO, len(keys))
	for i := range keys {
		out[i] = toAPIKeyDTO(&keys[i])
	}
	pkghttp.WriteJSON(w, http.StatusOK, ListAPIKeysResponse{Keys: out})
}

// Revoke deletes one of the current user's API keys
// @Router /account/keys/{id} [delete]
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Not signed in")
		return
	}

	keyID := chi.URLParam(r, "id")
	if err := h.service.Revoke(r.Context(), user.ID, keyID, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		h.writeKeyError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "API key revoked"})
}

func (h *APIKeyHandler) writeKeyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "API key not found")
	case errors.Is(err, models.ErrStorageUnavailable):
		h.logger.ErrorContext(r.Context(), "api key storage unavailable", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "api key action failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
