// Package chat runs chat turns against the remote flow and records them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/flowchat/internal/domain"
	"github.com/ashureev/flowchat/internal/langflow"
	"github.com/ashureev/flowchat/internal/store"
	"github.com/google/uuid"
)

// NoAnswerText is shown when a reply carries nothing readable.
const NoAnswerText = "No human-readable answer found."

// ErrEmptyMessage is returned for blank input; nothing is recorded.
var ErrEmptyMessage = errors.New("message is required")

// Sender delivers a message to the remote flow.
// It is implemented by *langflow.Client.
type Sender interface {
	Send(ctx context.Context, userMessage, sessionID string) (langflow.Response, error)
}

// Ensure the Langflow client satisfies Sender.
var _ Sender = (*langflow.Client)(nil)

// Service owns every session's history and remote session id.
type Service struct {
	repo        store.Repository
	sender      Sender
	serviceName string
	logger      *slog.Logger
	// turnLocks holds one *sync.Mutex per session key. Entries are never
	// removed, the same as the sessions they guard.
	turnLocks sync.Map
}

// NewService creates a chat service. serviceName is used in error replies,
// e.g. "Error calling Langflow API: ...".
func NewService(repo store.Repository, sender Sender, serviceName string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		sender:      sender,
		serviceName: serviceName,
		logger:      logger,
	}
}

// Session returns the session for key, creating it with a fresh remote
// session id on first use.
func (s *Service) Session(ctx context.Context, key string) (*domain.Session, error) {
	session, err := s.repo.GetSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session != nil {
		return session, nil
	}

	session, err = s.repo.CreateSession(ctx, &domain.Session{
		Key:       key,
		RemoteID:  uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("Chat session created", "session_key", key, "remote_session_id", session.RemoteID)
	return session, nil
}

// History returns the session for key and its turns in order.
func (s *Service) History(ctx context.Context, key string) (*domain.Session, []domain.Turn, error) {
	session, err := s.Session(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	turns, err := s.repo.ListTurns(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	return session, turns, nil
}

// Submit asks the remote flow about text and records text as a user turn
// followed by the reply as a bot turn, which it returns. Both turns are
// stored together. Remote failures become the bot text; only storage
// failures are returned as errors, and then neither turn is recorded.
//
// Turns for one session are serialized. Once accepted, a turn runs to
// completion even if ctx is canceled.
func (s *Service) Submit(ctx context.Context, key, text string) (domain.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Turn{}, ErrEmptyMessage
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	session, err := s.Session(ctx, key)
	if err != nil {
		return domain.Turn{}, err
	}

	user := domain.NewTurn(domain.RoleUser, text)
	bot := domain.NewTurn(domain.RoleBot, s.reply(ctx, session, text))
	if err := s.repo.AppendExchange(ctx, key, user, bot); err != nil {
		return domain.Turn{}, fmt.Errorf("record turns: %w", err)
	}
	return bot, nil
}

func (s *Service) reply(ctx context.Context, session *domain.Session, text string) string {
	start := time.Now()
	resp, err := s.sender.Send(ctx, text, session.RemoteID)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, langflow.ErrMissingAPIKey) {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "Remote call failed",
			"session_key", session.Key,
			"remote_session_id", session.RemoteID,
			"error", err,
		)
		return fmt.Sprintf("Error calling %s API: %v", s.serviceName, err)
	}

	answer := langflow.ExtractText(resp)
	if answer == "" {
		if raw, ok := resp.RawText(); ok {
			answer = raw
		} else {
			answer = NoAnswerText
		}
	}

	s.logger.Info("Chat turn completed",
		"session_key", session.Key,
		"remote_session_id", session.RemoteID,
		"message_length", len(text),
		"reply_length", len(answer),
		"duration", time.Since(start),
	)
	return answer
}

func (s *Service) lockFor(key string) *sync.Mutex {
	mu, _ := s.turnLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
