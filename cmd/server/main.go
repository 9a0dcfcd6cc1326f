// flowchat - chat front-end for a Langflow flow
package main

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/flowchat/internal/api"
	"github.com/ashureev/flowchat/internal/chat"
	"github.com/ashureev/flowchat/internal/config"
	"github.com/ashureev/flowchat/internal/identity"
	"github.com/ashureev/flowchat/internal/langflow"
	"github.com/ashureev/flowchat/internal/middleware"
	"github.com/ashureev/flowchat/internal/render"
	"github.com/ashureev/flowchat/internal/store"
	"github.com/ashureev/flowchat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "remote_api_url", cfg.Remote.URL)
	if !cfg.HasAPIKey() {
		slog.Warn("REMOTE_API_KEY is not set; chat turns will report a configuration error")
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(logger)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store ready")

	client := langflow.NewClient(cfg.Remote.URL, cfg.Remote.APIKey, langflow.WithLogger(logger))
	svc := chat.NewService(repo, client, cfg.Remote.ServiceName, logger)

	renderer := render.New()
	tmpl, err := web.ParseTemplates(template.FuncMap{"markdown": renderer.Markdown})
	if err != nil {
		slog.Error("Failed to parse templates", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	chatHandler := api.NewHandler(svc, tmpl, api.Options{
		ServiceName:    cfg.Remote.ServiceName,
		Configured:     cfg.HasAPIKey(),
		MaxBodyBytes:   cfg.MaxRequestBodySize,
		AllowedOrigins: cfg.AllowedOrigins,
		IsDev:          cfg.IsDevelopment(),
		Markdown:       renderer.Markdown,
		Logger:         logger,
	})
	healthHandler := api.NewHealthHandler(repo, cfg.HasAPIKey(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/static/*", web.StaticHandler())

	// Chat routes need the browser session key.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment(), logger))
		chatHandler.RegisterRoutes(r)
	})

	// Chat sockets are long-lived, so there is no WriteTimeout; remote calls
	// are bounded by langflow.RequestTimeout instead.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
