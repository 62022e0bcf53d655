package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/sam-ai/internal/models"
	"go.uber.org/zap"
)

// Append records a turn and refreshes its session in one transaction. The
// turn timestamp is taken once the write lock is held and never precedes the
// session's previous activity, so (timestamp, id) order matches commit order.
func (d *Database) Append(ctx context.Context, sessionID, userMessage, aiResponse string) (models.Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return models.Turn{}, fmt.Errorf("append: %w: empty session id", ErrInvalidArgument)
	}
	if strings.TrimSpace(userMessage) == "" {
		return models.Turn{}, fmt.Errorf("append: %w: empty user message", ErrInvalidArgument)
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Turn{}, fmt.Errorf("append: begin: %w", err)
	}
	defer tx.Rollback()

	ts, err := d.touch(ctx, tx, sessionID)
	if err != nil {
		return models.Turn{}, fmt.Errorf("append: %w", err)
	}

	turn := models.Turn{
		SessionID:   sessionID,
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		Timestamp:   fromMillis(ts),
	}
	err = tx.QueryRowContext(ctx, `
        INSERT INTO conversations (session_id, user_message, ai_response, timestamp)
        VALUES (?, ?, ?, ?)
        RETURNING id`,
		sessionID, userMessage, aiResponse, ts).Scan(&turn.ID)
	if err != nil {
		return models.Turn{}, fmt.Errorf("append: insert turn: %w", err)
	}

	if d.maxTurns > 0 {
		res, err := tx.ExecContext(ctx, `
            DELETE FROM conversations
            WHERE session_id = ? AND id NOT IN (
                SELECT id FROM conversations
                WHERE session_id = ?
                ORDER BY timestamp DESC, id DESC
                LIMIT ?
            )`, sessionID, sessionID, d.maxTurns)
		if err != nil {
			return models.Turn{}, fmt.Errorf("append: enforce retention: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			d.logger.Debug("trimmed session turns",
				zap.String("session_id", sessionID),
				zap.Int64("deleted", n),
				zap.Int("max_turns", d.maxTurns))
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Turn{}, fmt.Errorf("append: commit: %w", err)
	}
	return turn, nil
}

// maxPrealloc bounds the result capacity reserved up front; limit is caller controlled.
const maxPrealloc = 64

// Recent returns up to limit of the newest turns of a session, oldest first.
// An unknown session yields an empty slice.
func (d *Database) Recent(ctx context.Context, sessionID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("recent: %w: limit must be positive, got %d", ErrInvalidArgument, limit)
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
        SELECT id, session_id, user_message, ai_response, timestamp
        FROM conversations
        WHERE session_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent: query: %w", err)
	}
	defer rows.Close()

	turns := make([]models.Turn, 0, min(limit, maxPrealloc))
	for rows.Next() {
		var (
			turn models.Turn
			ts   int64
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.UserMessage, &turn.AIResponse, &ts); err != nil {
			return nil, fmt.Errorf("recent: scan: %w", err)
		}
		turn.Timestamp = fromMillis(ts)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent: rows: %w", err)
	}

	// Newest first from the query; callers want chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Clear deletes every stored turn of a session. Session metadata is kept.
func (d *Database) Clear(ctx context.Context, sessionID string) (int64, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, "DELETE FROM conversations WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear: rows affected: %w", err)
	}
	return n, nil
}

// PruneOlderThan deletes turns of every session written before cutoff.
func (d *Database) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, "DELETE FROM conversations WHERE timestamp < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune: rows affected: %w", err)
	}
	return n, nil
}

func (d *Database) CountTurns(ctx context.Context, sessionID string) (int, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}
