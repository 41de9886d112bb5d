package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists sessions, messages, and rate-limit records in
// PostgreSQL. Session continuity is a pure query against persisted
// state (most recent session per caller), so the store holds no
// in-memory session state and scales horizontally.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a chat Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Latest returns the caller's most recent session, or nil when the
// caller has none.
func (s *Store) Latest(ctx context.Context, callerAddress string) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, caller_address, created_at, updated_at
		 FROM chat_sessions
		 WHERE caller_address = $1
		 ORDER BY updated_at DESC
		 LIMIT 1`, callerAddress).
		Scan(&sess.ID, &sess.CallerAddress, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest session: %w", err)
	}
	return &sess, nil
}

// Create starts a new session for the caller.
func (s *Store) Create(ctx context.Context, callerAddress string) (*Session, error) {
	sess := &Session{ID: uuid.New(), CallerAddress: callerAddress}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_sessions (id, caller_address)
		 VALUES ($1, $2)
		 RETURNING created_at, updated_at`,
		sess.ID, callerAddress).
		Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.logger.Debug("created session", "id", sess.ID, "caller", callerAddress)
	return sess, nil
}

// Touch refreshes a session's updated_at, extending its continuity
// window.
func (s *Store) Touch(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}
	return nil
}

// AddMessage appends one transcript entry.
func (s *Store) AddMessage(ctx context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	var metadataJSON []byte
	if msg.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling message metadata: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, metadataJSON); err != nil {
		return fmt.Errorf("adding %s message: %w", msg.Role, err)
	}
	return nil
}

// SourceURLs collects every source URL already recorded on assistant
// messages in the session, for per-conversation de-duplication.
func (s *Store) SourceURLs(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT metadata FROM chat_messages
		 WHERE session_id = $1 AND role = $2 AND metadata IS NOT NULL
		 ORDER BY created_at`, sessionID, RoleAssistant)
	if err != nil {
		return nil, fmt.Errorf("loading session source URLs: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning message metadata: %w", err)
		}
		var md Metadata
		if err := json.Unmarshal(raw, &md); err != nil {
			s.logger.Warn("skipping malformed message metadata", "error", err)
			continue
		}
		urls = append(urls, md.SourceURLs...)
	}
	return urls, rows.Err()
}

// IncrementDailyCount atomically bumps the caller's request counter
// for the given day and returns the new count. The upsert-with-
// increment avoids lost updates under concurrent requests from the
// same caller; date rollover resets implicitly because the key is
// scoped to the calendar day.
func (s *Store) IncrementDailyCount(ctx context.Context, callerAddress string, day time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_rate_limits (caller_address, day, request_count)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (caller_address, day)
		 DO UPDATE SET request_count = chat_rate_limits.request_count + 1
		 RETURNING request_count`,
		callerAddress, day.Format("2006-01-02")).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing rate limit for %s: %w", callerAddress, err)
	}
	return count, nil
}
