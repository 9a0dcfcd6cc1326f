package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/flowchat/internal/chat"
	"github.com/ashureev/flowchat/internal/domain"
	"github.com/ashureev/flowchat/internal/identity"
	"github.com/ashureev/flowchat/web"
)

const (
	pageCaption     = "Ask anything about your documents."
	pagePlaceholder = "Ask your question..."
)

type turnView struct {
	Role  domain.Role
	Label string
	Text  string
}

type pageData struct {
	Title       string
	Caption     string
	Placeholder string
	Warning     string
	Turns       []turnView
}

// TurnResponse is one history entry on the JSON API.
type TurnResponse struct {
	Role domain.Role `json:"role"`
	Text string      `json:"text"`
}

// HistoryResponse is returned by GET /api/history.
type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []TurnResponse `json:"turns"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is returned by POST /api/chat.
type ChatResponse struct {
	SessionID string       `json:"session_id"`
	Reply     TurnResponse `json:"reply"`
}

func roleLabel(role domain.Role) string {
	if role == domain.RoleUser {
		return "You"
	}
	return "Bot"
}

func toTurnResponses(turns []domain.Turn) []TurnResponse {
	out := make([]TurnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, TurnResponse{Role: t.Role, Text: t.Text})
	}
	return out
}

// Page renders the chat history for the browser session.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	_, turns, err := h.svc.History(r.Context(), key)
	if err != nil {
		h.logger.Error("Failed to load history", "session_key", key, "error", err)
		http.Error(w, "failed to load chat history", http.StatusInternalServerError)
		return
	}

	data := pageData{
		Title:       h.opts.ServiceName + " Chatbot",
		Caption:     pageCaption,
		Placeholder: pagePlaceholder,
	}
	if !h.opts.Configured {
		data.Warning = fmt.Sprintf("The %s API key is not configured. Set REMOTE_API_KEY and restart the server.", h.opts.ServiceName)
	}
	for _, t := range turns {
		data.Turns = append(data.Turns, turnView{Role: t.Role, Label: roleLabel(t.Role), Text: t.Text})
	}

	// Render into a buffer so a template failure doesn't send a partial page.
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, web.PageTemplate, data); err != nil {
		h.logger.Error("Failed to render page", "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// SubmitForm runs a turn from the page form and redirects back to the page.
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	key := identity.SessionKeyFromContext(r.Context())
	if _, err := h.svc.Submit(r.Context(), key, r.PostForm.Get("message")); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
		h.logger.Error("Failed to run chat turn", "session_key", key, "error", err)
		http.Error(w, "failed to record message", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GetHistory returns the session's remote id and turns.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	session, turns, err := h.svc.History(r.Context(), key)
	if err != nil {
		h.logger.Error("Failed to load history", "session_key", key, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	JSON(w, http.StatusOK, HistoryResponse{SessionID: session.RemoteID, Turns: toTurnResponses(turns)})
}

// PostChat runs a turn and returns the bot reply.
func (h *Handler) PostChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := identity.SessionKeyFromContext(r.Context())
	bot, err := h.svc.Submit(r.Context(), key, req.Message)
	if errors.Is(err, chat.ErrEmptyMessage) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Failed to run chat turn", "session_key", key, "error", err)
		Error(w, http.StatusInternalServerError, "failed to record message")
		return
	}

	session, err := h.svc.Session(r.Context(), key)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, ChatResponse{
		SessionID: session.RemoteID,
		Reply:     TurnResponse{Role: bot.Role, Text: bot.Text},
	})
}
