package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/ashureev/flowchat/internal/chat"
	"github.com/ashureev/flowchat/internal/domain"
	"github.com/ashureev/flowchat/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsOutbound is a server frame. Turn frames carry both the raw text and
// the same sanitized HTML the page renders for it.
type wsOutbound struct {
	Type  string      `json:"type"`
	Role  domain.Role `json:"role,omitempty"`
	Text  string      `json:"text,omitempty"`
	HTML  string      `json:"html,omitempty"`
	Error string      `json:"error,omitempty"`
}

func (h *Handler) turnFrame(role domain.Role, text string) wsOutbound {
	return wsOutbound{Type: "turn", Role: role, Text: text, HTML: string(h.opts.Markdown(text))}
}

// ServeWebSocket runs chat turns for messages received on the socket. Each
// accepted message is answered with the user turn and then the bot turn.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())

	opts := &websocket.AcceptOptions{}
	if h.opts.IsDev || slices.Contains(h.opts.AllowedOrigins, "*") {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = hostPatterns(h.opts.AllowedOrigins)
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "session_key", key, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "session_key", key, "error", closeErr)
		}
	}()
	ws.SetReadLimit(h.opts.MaxBodyBytes)

	h.logger.Info("Chat socket connected", "session_key", key)
	ctx := r.Context()
	for {
		var msg wsInbound
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("Chat socket closed by client", "session_key", key)
			} else {
				h.logger.Warn("Chat socket read error", "session_key", key, "error", err)
			}
			return
		}

		if err := h.handleSocketMessage(ctx, ws, key, msg); err != nil {
			h.logger.Debug("Chat socket write failed", "session_key", key, "error", err)
			return
		}
	}
}

func (h *Handler) handleSocketMessage(ctx context.Context, ws *websocket.Conn, key string, msg wsInbound) error {
	if msg.Type != "message" {
		return wsjson.Write(ctx, ws, wsOutbound{Type: "error", Error: "unsupported message type"})
	}
	if strings.TrimSpace(msg.Content) == "" {
		return wsjson.Write(ctx, ws, wsOutbound{Type: "error", Error: chat.ErrEmptyMessage.Error()})
	}

	if err := wsjson.Write(ctx, ws, h.turnFrame(domain.RoleUser, msg.Content)); err != nil {
		return err
	}

	bot, err := h.svc.Submit(ctx, key, msg.Content)
	if err != nil {
		h.logger.Error("Failed to run chat turn", "session_key", key, "error", err)
		return wsjson.Write(ctx, ws, wsOutbound{Type: "error", Error: "failed to record message"})
	}
	return wsjson.Write(ctx, ws, h.turnFrame(bot.Role, bot.Text))
}

// hostPatterns turns configured origins into the host patterns
// websocket.AcceptOptions expects.
func hostPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o = strings.TrimSuffix(o, "/"); o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}
