package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"example.com/roster/internal/logging"
)

// Redriver returns dead-lettered events to the outbox once their retry time
// has passed, and quarantines the ones that keep failing.
type Redriver struct {
	pool       *pgxpool.Pool
	maxRetries int
	batchSize  int
	logger     *zap.Logger
}

// NewRedriver constructs a Redriver. Events that have failed maxRetries
// times are quarantined instead of requeued.
func NewRedriver(pool *pgxpool.Pool, maxRetries, batchSize int, logger *zap.Logger) *Redriver {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Redriver{
		pool:       pool,
		maxRetries: maxRetries,
		batchSize:  batchSize,
		logger:     logging.OrNop(logger).With(zap.String("component", "redriver")),
	}
}

// RedriveResult counts what a single pass did.
type RedriveResult struct {
	Requeued    int64
	Quarantined int64
}

// RunOnce quarantines exhausted entries, then requeues up to batchSize due
// entries. A requeued event becomes pending in the outbox again with its
// attempt count incremented.
func (r *Redriver) RunOnce(ctx context.Context) (RedriveResult, error) {
	var res RedriveResult

	tag, err := r.pool.Exec(ctx, `UPDATE outbox_dlq
           SET quarantined_at = NOW(), quarantine_reason = 'retry limit reached'
         WHERE quarantined_at IS NULL AND attempts >= $1`, r.maxRetries)
	if err != nil {
		return res, fmt.Errorf("quarantine dead letters: %w", err)
	}
	res.Quarantined = tag.RowsAffected()

	tag, err = r.pool.Exec(ctx, `WITH due AS (
            DELETE FROM outbox_dlq
             WHERE dlq_id IN (
                   SELECT dlq_id FROM outbox_dlq
                    WHERE quarantined_at IS NULL AND attempts < $1 AND next_retry_at <= NOW()
                    ORDER BY next_retry_at
                    LIMIT $2
                    FOR UPDATE SKIP LOCKED)
            RETURNING event_id)
        UPDATE outbox o
           SET failed_at = NULL, claimed_at = NULL, attempts = o.attempts + 1
          FROM due
         WHERE o.event_id = due.event_id`, r.maxRetries, r.batchSize)
	if err != nil {
		return res, fmt.Errorf("requeue dead letters: %w", err)
	}
	res.Requeued = tag.RowsAffected()

	dlqActions.WithLabelValues("quarantined").Add(float64(res.Quarantined))
	dlqActions.WithLabelValues("requeued").Add(float64(res.Requeued))
	if res.Quarantined > 0 || res.Requeued > 0 {
		r.logger.Info("dead letters redriven", zap.Int64("requeued", res.Requeued), zap.Int64("quarantined", res.Quarantined))
	}

	if err := r.refreshBacklog(ctx); err != nil {
		r.logger.Warn("dead letter backlog refresh failed", zap.Error(err))
	}
	return res, nil
}

func (r *Redriver) refreshBacklog(ctx context.Context) error {
	var pending, quarantined int64
	err := r.pool.QueryRow(ctx, `SELECT
            COUNT(*) FILTER (WHERE quarantined_at IS NULL),
            COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
          FROM outbox_dlq`).Scan(&pending, &quarantined)
	if err != nil {
		return err
	}
	dlqEntries.WithLabelValues("pending").Set(float64(pending))
	dlqEntries.WithLabelValues("quarantined").Set(float64(quarantined))
	return nil
}
