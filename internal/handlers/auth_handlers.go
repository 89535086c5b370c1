package handlers

import (
	"context"
	"net/http"
	"strings"

	"samvad-chat/internal/auth"
	"samvad-chat/internal/models"
	"samvad-chat/pkg/logger"
)

type userContextKey struct{}

type AuthHandlers struct {
	authService *auth.Service
}

func NewAuthHandlers(authService *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	response, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, "Registration", err)
		return
	}

	logger.Info("User %s registered", response.User.Username)
	writeJSON(w, http.StatusCreated, response)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	response, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		writeServiceError(w, "Login", err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// RequireUser rejects requests without a valid token and makes the caller
// available to next through UserFromContext.
func (h *AuthHandlers) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		user, err := h.authService.GetUserFromToken(r.Context(), token)
		if err != nil {
			writeServiceError(w, "Authentication", err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey{}, user)))
	}
}

func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*models.User)
	return user, ok
}

// tokenFromRequest reads a bearer token from the Authorization header, falling
// back to the token query parameter browsers use for WebSocket upgrades.
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
