package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/flowchat/internal/domain"
	_ "modernc.org/sqlite"
)

// memoryDSN opens a private in-memory database. It lives exactly as long
// as the single pooled connection, so nothing outlives the process.
const memoryDSN = ":memory:"

// SQLiteStore implements Repository on an in-memory SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite creates an empty in-memory repository.
func NewSQLite(logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", memoryDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every new connection to :memory: is a new, empty database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_key TEXT PRIMARY KEY,
		remote_session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key TEXT NOT NULL REFERENCES chat_sessions(session_key),
		role TEXT NOT NULL CHECK (role IN ('user', 'bot')),
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_session ON chat_turns(session_key, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves a session by its browser session key.
func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*domain.Session, error) {
	query := `
		SELECT session_key, remote_session_id, created_at
		FROM chat_sessions WHERE session_key = ?`

	var session domain.Session
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&session.Key, &session.RemoteID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.CreatedAt = time.Unix(0, createdAt).UTC()
	return &session, nil
}

// CreateSession stores a new session; an existing row for the key wins.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	query := `
	INSERT INTO chat_sessions (session_key, remote_session_id, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_key) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query,
		session.Key, session.RemoteID, session.CreatedAt.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	stored, err := s.GetSession(ctx, session.Key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("session %s missing after insert", session.Key)
	}
	return stored, nil
}

// AppendExchange adds a user turn and its bot reply in one transaction.
func (s *SQLiteStore) AppendExchange(ctx context.Context, key string, user, bot domain.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("failed to roll back turn insert", "session_key", key, "error", rbErr)
		}
	}()

	for _, turn := range []domain.Turn{user, bot} {
		if err := appendTurn(ctx, tx, key, turn); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turns: %w", err)
	}
	return nil
}

func appendTurn(ctx context.Context, tx *sql.Tx, key string, turn domain.Turn) error {
	query := `
	INSERT INTO chat_turns (session_key, role, text, created_at)
	VALUES (?, ?, ?, ?)`

	if _, err := tx.ExecContext(ctx, query,
		key, string(turn.Role), turn.Text, turn.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("append %s turn: %w", turn.Role, err)
	}
	return nil
}

// ListTurns returns a session's history in insertion order.
func (s *SQLiteStore) ListTurns(ctx context.Context, key string) ([]domain.Turn, error) {
	query := `
		SELECT role, text, created_at
		FROM chat_turns WHERE session_key = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var role string
		var turn domain.Turn
		var createdAt int64
		if err := rows.Scan(&role, &turn.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.Role = domain.Role(role)
		turn.CreatedAt = time.Unix(0, createdAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return turns, nil
}

// Close closes the database connection and discards all data.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
