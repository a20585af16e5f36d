package db

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// DefaultPendingTTL is how long a held frame waits for a subscriber.
const DefaultPendingTTL = 24 * time.Hour

// PendingRepository stores pub frames for topics without a subscriber.
type PendingRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPendingRepository creates a PendingRepository. A ttl of zero uses DefaultPendingTTL.
func NewPendingRepository(pool *pgxpool.Pool, ttl time.Duration) *PendingRepository {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingRepository{pool: pool, ttl: ttl}
}

// Save holds frame for topic until it is taken or expires.
func (r *PendingRepository) Save(ctx context.Context, topic, frame string) error {
	slog.Debug(fmt.Sprintf("%s - Save topic=%s", repoLogPrefix, topic))

	_, err := r.pool.Exec(ctx,
		`INSERT INTO pending_messages (topic, frame, expires_at)
		 VALUES ($1, $2, now() + make_interval(secs => $3))`,
		topic, frame, r.ttl.Seconds())
	if err != nil {
		return fmt.Errorf("%s - failed to save pending frame: %w", repoLogPrefix, err)
	}
	return nil
}

// Take removes and returns the unexpired frames held for topic, oldest first.
func (r *PendingRepository) Take(ctx context.Context, topic string) ([]string, error) {
	msgs, err := r.TakeMessages(ctx, topic)
	if err != nil {
		return nil, err
	}
	frames := make([]string, len(msgs))
	for i, m := range msgs {
		frames[i] = m.Frame
	}
	return frames, nil
}

// TakeMessages is Take returning whole rows.
func (r *PendingRepository) TakeMessages(ctx context.Context, topic string) ([]PendingMessage, error) {
	rows, err := r.pool.Query(ctx,
		`DELETE FROM pending_messages
		 WHERE topic = $1 AND expires_at > now()
		 RETURNING id, topic, frame, created_at, expires_at`, topic)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to take pending frames: %w", repoLogPrefix, err)
	}
	msgs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[PendingMessage])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan pending frames: %w", repoLogPrefix, err)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })

	if len(msgs) > 0 {
		slog.Debug(fmt.Sprintf("%s - Took %d pending frames for topic=%s", repoLogPrefix, len(msgs), topic))
	}
	return msgs, nil
}

// PurgeExpired deletes every expired frame and returns how many were removed.
func (r *PendingRepository) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pending_messages WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("%s - failed to purge expired frames: %w", repoLogPrefix, err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		slog.Info(fmt.Sprintf("%s - Purged %d expired pending frames", repoLogPrefix, n))
	}
	return n, nil
}

// Count returns how many unexpired frames are held for topic.
func (r *PendingRepository) Count(ctx context.Context, topic string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM pending_messages WHERE topic = $1 AND expires_at > now()`, topic).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s - failed to count pending frames: %w", repoLogPrefix, err)
	}
	return n, nil
}
