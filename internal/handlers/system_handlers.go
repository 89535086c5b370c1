package handlers

import (
	"context"
	"net/http"
	"time"

	"samvad-chat/internal/cache"
	ws "samvad-chat/internal/websocket"
	"samvad-chat/pkg/logger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type StatsResponse struct {
	Realtime      ws.Stats    `json:"realtime"`
	IdentityCache cache.Stats `json:"identity_cache"`
}

type SystemHandlers struct {
	hub        *ws.Hub
	identities *cache.IdentityCache
	db         Pinger
}

func NewSystemHandlers(hub *ws.Hub, identities *cache.IdentityCache, db Pinger) *SystemHandlers {
	return &SystemHandlers{hub: hub, identities: identities, db: db}
}

func (h *SystemHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		logger.Warn("Health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SystemHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Realtime:      h.hub.Stats(),
		IdentityCache: h.identities.Stats(),
	})
}
