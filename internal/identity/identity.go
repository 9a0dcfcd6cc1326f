// Package identity provides anonymous per-browser chat session keys.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"
)

const (
	// SessionCookieName holds the browser's chat session key.
	SessionCookieName   = "flowchat_sid"
	sessionCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const sessionKeyKey contextKey = iota

var sessionKeyPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// SessionKeyFromContext extracts the chat session key from the request context.
func SessionKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKeyKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionKey returns a copy of ctx carrying key.
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyKey, key)
}

func generateSessionKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidSessionKey reports whether key has the shape issued by the middleware.
func IsValidSessionKey(key string) bool {
	return sessionKeyPattern.MatchString(key)
}

func setSessionCookie(w http.ResponseWriter, key string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    key,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// getOrCreateSessionKey reuses a well-formed cookie or issues a new key. The
// cookie is refreshed either way.
func getOrCreateSessionKey(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(SessionCookieName); err == nil && IsValidSessionKey(c.Value) {
		setSessionCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	key, err := generateSessionKey()
	if err != nil {
		return "", err
	}
	setSessionCookie(w, key, isDev)
	return key, nil
}

// Middleware attaches the browser's chat session key to every request.
func Middleware(isDev bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := getOrCreateSessionKey(w, r, isDev)
			if err != nil {
				logger.Error("Failed to establish chat session", "error", err)
				http.Error(w, `{"error":"failed to establish session"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionKey(r.Context(), key)))
		})
	}
}
