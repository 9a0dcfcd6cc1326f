// Package api provides HTTP handlers for the chat server.
package api

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/ashureev/flowchat/internal/chat"
	"github.com/go-chi/chi/v5"
)

// Options configures a Handler.
type Options struct {
	// ServiceName names the remote service on the page and in warnings.
	ServiceName string
	// Configured is false when the remote API key is missing; the page then
	// shows a warning.
	Configured bool
	// MaxBodyBytes caps JSON bodies, form posts and websocket messages.
	MaxBodyBytes int64
	// AllowedOrigins lists websocket origins; "*" or dev mode allows any.
	AllowedOrigins []string
	IsDev          bool
	// Markdown renders turn text for live websocket frames, matching the
	// page template's "markdown" function. Nil sends escaped text.
	Markdown func(string) template.HTML
	Logger   *slog.Logger
}

// Handler serves the chat page, the JSON API and the chat websocket.
type Handler struct {
	svc    *chat.Service
	tmpl   *template.Template
	opts   Options
	logger *slog.Logger
}

// NewHandler creates a new Handler. tmpl must define web.PageTemplate.
func NewHandler(svc *chat.Service, tmpl *template.Template, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Markdown == nil {
		opts.Markdown = func(s string) template.HTML {
			return template.HTML(template.HTMLEscapeString(s)) //nolint:gosec // escaped
		}
	}
	return &Handler{svc: svc, tmpl: tmpl, opts: opts, logger: logger}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Page)
	r.Post("/chat", h.SubmitForm)
	r.Get("/ws/chat", h.ServeWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/history", h.GetHistory)
		r.Post("/chat", h.PostChat)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
