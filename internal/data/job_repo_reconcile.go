package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purplemerit/collab-jobs/internal/data/pgxutil"
	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

// Advisory lock namespace for reconciler operations so concurrent sweeper
// instances do not double-process the same batch.
const (
	advisoryLockReconcileMajor           = 2000
	advisoryLockReconcileStaleProcessing = 1
)

// FindStuckPending returns pending jobs that have not been touched for at
// least olderThanSeconds. These are candidates for republication: either the
// original broker publish failed after the ledger write, or a retried job
// never made it back onto the queue.
func (r *JobRepo) FindStuckPending(
	ctx context.Context,
	olderThanSeconds int,
	limit int,
) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := r.timeProvider.Now().Add(-time.Duration(olderThanSeconds) * time.Second).UTC()

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = 'pending'
			  AND updated_at < $1
			ORDER BY updated_at
			LIMIT $2
		`, cutoff, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Job])
		if err != nil {
			return err
		}
		for i := range collected {
			row := collected[i]
			jobs = append(jobs, &row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find stuck pending jobs: %w", err)
	}
	return jobs, nil
}

// FailStaleProcessing marks processing jobs older than olderThanSeconds as
// failed. A job only lingers in processing when a worker died between handler
// completion and the ledger write, or is hung; after the threshold the sweep
// records the gap rather than leaving the row stuck forever.
func (r *JobRepo) FailStaleProcessing(ctx context.Context, olderThanSeconds int) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReconcileMajor, advisoryLockReconcileStaleProcessing,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			cutoff := currentTime.Add(-time.Duration(olderThanSeconds) * time.Second)

			res, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = 'failed',
				    error_message = 'job stalled in processing',
				    completed_at = $1,
				    updated_at = $1
				WHERE status = 'processing'
				  AND updated_at < $2
			`, currentTime.UTC(), cutoff.UTC())
			if err != nil {
				return fmt.Errorf("fail stale processing jobs: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
