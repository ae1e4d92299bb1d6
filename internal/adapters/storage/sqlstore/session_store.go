package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

// Timestamps are unix nanoseconds so comparisons behave the same on every
// dialect regardless of timezone handling.
var sessionSchema = map[Dialect][]string{
	SQLite:   portableSessionSchema,
	Postgres: portableSessionSchema,
	MySQL: {
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			token VARCHAR(128) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			UNIQUE KEY uq_sessions_token (token),
			INDEX idx_sessions_user_id (user_id),
			INDEX idx_sessions_expires_at (expires_at)
		)`,
	},
}

var portableSessionSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		token VARCHAR(128) NOT NULL UNIQUE,
		user_id VARCHAR(255) NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
}

type SessionStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates the sessions table if needed.
func NewSessionStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	schema, ok := sessionSchema[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err := execAll(ctx, db, schema); err != nil {
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}
	return &SessionStore{db: db, dialect: dialect}, nil
}

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	query := s.dialect.rebind(`INSERT INTO sessions (id, token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.Token, session.UserID,
		toNanos(session.CreatedAt), toNanos(session.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTokenConflict
		}
		return fmt.Errorf("%w: insert session: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SessionStore) FindByToken(ctx context.Context, token string) (*domain.Session, error) {
	query := s.dialect.rebind(`SELECT id, token, user_id, created_at, expires_at FROM sessions WHERE token = ?`)
	session, err := scanSession(s.db.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find session: %v", domain.ErrStoreUnavailable, err)
	}
	return &session, nil
}

func (s *SessionStore) FindByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	query := s.dialect.rebind(`SELECT id, token, user_id, created_at, expires_at FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", domain.ErrStoreUnavailable, err)
	}
	return sessions, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	query := s.dialect.rebind(`DELETE FROM sessions WHERE token = ?`)
	if _, err := s.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("%w: delete session: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	query := s.dialect.rebind(`DELETE FROM sessions WHERE user_id = ? AND created_at <= ?`)
	return s.deleteWhere(ctx, query, userID, toNanos(cutoff))
}

func (s *SessionStore) DeleteExpired(ctx context.Context, t time.Time) (int64, error) {
	query := s.dialect.rebind(`DELETE FROM sessions WHERE expires_at < ?`)
	return s.deleteWhere(ctx, query, toNanos(t))
}

func (s *SessionStore) deleteWhere(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete sessions: %v", domain.ErrStoreUnavailable, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var session domain.Session
	var createdAt, expiresAt int64
	if err := row.Scan(&session.ID, &session.Token, &session.UserID, &createdAt, &expiresAt); err != nil {
		return domain.Session{}, err
	}
	session.CreatedAt = fromNanos(createdAt)
	session.ExpiresAt = fromNanos(expiresAt)
	return session, nil
}
