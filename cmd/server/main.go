package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"samvad-chat/internal/auth"
	"samvad-chat/internal/cache"
	"samvad-chat/internal/chat"
	"samvad-chat/internal/config"
	"samvad-chat/internal/database"
	"samvad-chat/internal/handlers"
	"samvad-chat/internal/services"
	"samvad-chat/internal/websocket"
	"samvad-chat/pkg/logger"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx := context.Background()

	// Initialize database
	db, err := database.NewPostgresDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to prepare schema: %v", err)
	}

	// Identity cache in front of the users table
	store, stopSweeper := newIdentityStore(ctx, cfg)
	identities := cache.NewIdentityCache(store, db, cfg.Redis.IdentityTTL)

	// Real-time core
	registry := chat.NewRegistry()
	pipeline := chat.NewPipeline(db, identities, db, registry, chat.PipelineConfig{
		MaxBodyLength:  cfg.Chat.MaxBodyLength,
		PersistTimeout: cfg.Chat.PersistTimeout,
	})
	dispatcher := chat.NewDispatcher(cfg.Chat.MaxInFlightSends, cfg.Chat.SendQueueTimeout)
	history := chat.NewHistory(db, cfg.Chat.HistoryDefaultLimit, cfg.Chat.HistoryMaxLimit)
	hub := websocket.NewHub(registry, pipeline, dispatcher, db, websocket.Config{
		SendBuffer:     cfg.Chat.SendBuffer,
		MaxMessageSize: cfg.Chat.MaxMessageSize,
		RequireAuth:    cfg.Chat.RequireAuthToSend,
	})

	// Initialize services
	authService := auth.NewService(db, cfg.JWT)
	groupService := services.NewGroupService(db)

	// Setup routes
	router := handlers.NewRouter(
		handlers.NewAuthHandlers(authService),
		handlers.NewGroupHandlers(groupService, history),
		handlers.NewWebSocketHandlers(authService, hub, cfg.Server.AllowedOrigins),
		handlers.NewSystemHandlers(hub, identities, db),
		cfg.Server.AllowedOrigins,
	)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	handlers.LogRoutes()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// A single operation keeps the teardown order: stop accepting requests,
	// drain live connections and in-flight sends, then release the stores.
	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"samvad-chat": func(ctx context.Context) error {
				logger.Info("Server shutting down...")

				var errs []error
				if err := server.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}
				if err := hub.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}
				stopSweeper()
				if err := identities.Close(); err != nil {
					errs = append(errs, err)
				}
				if err := db.Close(); err != nil {
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	logger.Info("Server exited with code %d", exitCode)
	os.Exit(exitCode)
}

// newIdentityStore picks Redis when REDIS_URL is set and falls back to the
// in-process store otherwise. The returned func stops background work.
func newIdentityStore(ctx context.Context, cfg *config.Config) (cache.Store, func()) {
	if cfg.Redis.URL != "" {
		store, err := cache.NewRedisStoreFromURL(ctx, cfg.Redis.URL, "samvad:")
		if err == nil {
			logger.Info("Identity cache backed by Redis")
			return store, func() {}
		}
		logger.Warn("Redis unavailable, using in-memory identity cache: %v", err)
	}

	store := cache.NewMemoryStore()
	ticker := time.NewTicker(time.Minute)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := store.Sweep(); n > 0 {
					logger.Debug("Swept %d expired identities", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return store, func() { close(done) }
}
