package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"beacon/internal/api"
	"beacon/internal/auth"
	"beacon/internal/config"
	"beacon/internal/database"
	"beacon/internal/notify"
	"beacon/internal/router"
	"beacon/internal/websocket"
)

// Application coordinates all system components. Initialization follows
// strict dependency order: Database → Auth → Registry → Router → Notifier →
// API → WebSocket handler → HTTP server.
type Application struct {
	config        *config.Config
	dbManager     *database.Manager
	verifier      *auth.Verifier
	registry      *websocket.Registry
	messageRouter *router.Router
	notifier      *notify.Notifier
	apiServer     *api.Server
	httpServer    *http.Server
	cleanupStop   chan struct{}
}

// NewApplication creates an application instance with all components wired.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := database.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	verifier := auth.NewVerifier(dbManager)
	registry := websocket.NewRegistry()
	messageRouter := router.NewRouter()
	notifier := notify.NewNotifier(registry)
	apiServer := api.NewServer(notifier, dbManager)
	wsHandler := websocket.NewHandler(registry, verifier, messageRouter, cfg.WebSocket)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:        cfg,
		dbManager:     dbManager,
		verifier:      verifier,
		registry:      registry,
		messageRouter: messageRouter,
		notifier:      notifier,
		apiServer:     apiServer,
		httpServer:    httpServer,
		cleanupStop:   make(chan struct{}),
	}, nil
}

// Notifier exposes the notification façade so other subsystems (order
// pipeline, account service) can fan out events in-process.
func (app *Application) Notifier() *notify.Notifier {
	return app.notifier
}

// Start begins serving. It returns once the HTTP server is confirmed
// listening or fails to start.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting beacon on %s", app.httpServer.Addr)

	// Periodic rate-limiter cleanup so closed connections do not
	// accumulate limiter state.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				app.messageRouter.Cleanup()
			case <-app.cleanupStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("beacon started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP (which ends every
// connection goroutine) → database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down beacon")

	close(app.cleanupStop)

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("beacon shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
