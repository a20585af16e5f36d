package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearPending deletes pending frames for the given topics, or every pending frame when no
// topic is given. Schema and migration history are untouched. It returns the rows removed.
func ClearPending(ctx context.Context, pool *pgxpool.Pool, topics ...string) (int64, error) {
	if len(topics) == 0 {
		var n int64
		if err := pool.QueryRow(ctx, `SELECT count(*) FROM pending_messages`).Scan(&n); err != nil {
			return 0, fmt.Errorf("%s - count failed: %w", clearLogPrefix, err)
		}
		if _, err := pool.Exec(ctx, `TRUNCATE TABLE pending_messages RESTART IDENTITY`); err != nil {
			return 0, fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
		}
		slog.Info(fmt.Sprintf("%s - Removed all %d pending frames", clearLogPrefix, n))
		return n, nil
	}

	tag, err := pool.Exec(ctx, `DELETE FROM pending_messages WHERE topic = ANY($1)`, topics)
	if err != nil {
		return 0, fmt.Errorf("%s - delete failed: %w", clearLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Removed %d pending frames from %d topics", clearLogPrefix, tag.RowsAffected(), len(topics)))
	return tag.RowsAffected(), nil
}
