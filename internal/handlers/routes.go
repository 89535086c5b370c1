package handlers

import (
	"net/http"
	"slices"
	"strings"

	"samvad-chat/pkg/logger"
)

// NewRouter registers every endpoint and wraps the mux in the CORS middleware.
func NewRouter(authH *AuthHandlers, groupH *GroupHandlers, wsH *WebSocketHandlers, systemH *SystemHandlers, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Auth routes
	mux.HandleFunc("POST /api/register", authH.Register)
	mux.HandleFunc("POST /api/login", authH.Login)

	// Group routes
	mux.HandleFunc("POST /api/groups", authH.RequireUser(groupH.CreateGroup))
	mux.HandleFunc("GET /api/groups", authH.RequireUser(groupH.ListGroups))
	mux.HandleFunc("DELETE /api/groups/{id}", authH.RequireUser(groupH.DeleteGroup))
	mux.HandleFunc("POST /api/groups/{id}/members", authH.RequireUser(groupH.AddMember))
	mux.HandleFunc("GET /api/groups/{id}/members", authH.RequireUser(groupH.GetMembers))
	mux.HandleFunc("GET /api/messages/{groupId}", authH.RequireUser(groupH.GetHistory))

	mux.HandleFunc("GET /api/stats", systemH.Stats)
	mux.HandleFunc("GET /health", systemH.Health)

	// WebSocket route
	mux.HandleFunc("GET /ws", wsH.HandleWebSocket)

	return corsMiddleware(allowedOrigins, mux)
}

func corsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allowedOrigins, origin) {
			if slices.Contains(allowedOrigins, "*") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether origin may call the API. Requests without an
// Origin header come from non-browser clients and are always allowed.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// LogRoutes prints the API surface at startup.
func LogRoutes() {
	logger.Info("API endpoints:")
	logger.Info("   POST   /api/register")
	logger.Info("   POST   /api/login")
	logger.Info("   GET    /api/groups")
	logger.Info("   POST   /api/groups")
	logger.Info("   DELETE /api/groups/{id}")
	logger.Info("   GET    /api/groups/{id}/members")
	logger.Info("   POST   /api/groups/{id}/members")
	logger.Info("   GET    /api/messages/{groupId}?limit=50")
	logger.Info("   GET    /api/stats")
	logger.Info("   GET    /health")
	logger.Info("   GET    /ws")
}
