package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/RichardoC/sam-ai/internal/models"
)

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Touch creates the session if absent, otherwise moves its last activity
// forward to now.
func (d *Database) Touch(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("touch: %w: empty session id", ErrInvalidArgument)
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if _, err := d.touch(ctx, d.db, sessionID); err != nil {
		return err
	}
	return nil
}

// touch upserts the session row and returns its resulting last_activity in
// Unix milliseconds. last_activity never moves backwards.
func (d *Database) touch(ctx context.Context, q rowQueryer, sessionID string) (int64, error) {
	now := d.now().UnixMilli()

	var lastActivity int64
	err := q.QueryRowContext(ctx, `
        INSERT INTO sessions (session_id, created_at, last_activity)
        VALUES (?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET
            last_activity = MAX(sessions.last_activity, excluded.last_activity)
        RETURNING last_activity`,
		sessionID, now, now).Scan(&lastActivity)
	if err != nil {
		return 0, fmt.Errorf("touch session: %w", err)
	}
	return lastActivity, nil
}

func (d *Database) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var (
		session                 models.Session
		createdAt, lastActivity int64
	)
	err := d.db.QueryRowContext(ctx, `
        SELECT session_id, created_at, last_activity
        FROM sessions
        WHERE session_id = ?`, sessionID).Scan(&session.ID, &createdAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.LastActivity = fromMillis(lastActivity)
	return session, nil
}
