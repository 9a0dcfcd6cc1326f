// Package store keeps chat sessions and their histories.
package store

import (
	"context"

	"github.com/ashureev/flowchat/internal/domain"
)

// Repository defines persistence for chat sessions and turns.
type Repository interface {
	// GetSession retrieves a session by its browser session key.
	// It returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, key string) (*domain.Session, error)

	// CreateSession stores a new session. If one already exists for the
	// key, the existing session is kept and returned.
	CreateSession(ctx context.Context, session *domain.Session) (*domain.Session, error)

	// AppendExchange adds a user turn and the bot turn answering it to the
	// end of a session's history. Either both are stored or neither is.
	AppendExchange(ctx context.Context, key string, user, bot domain.Turn) error

	// ListTurns returns a session's history in insertion order.
	ListTurns(ctx context.Context, key string) ([]domain.Turn, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
