package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartSoftDeleteCleaner purges soft-deleted records older than retention
// every interval until ctx is done.
func StartSoftDeleteCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := PurgeDeleted(ctx, db, time.Now().Add(-retention), log); err != nil && ctx.Err() == nil {
					log.Error("failed to purge soft-deleted records", zap.Error(err))
				}
			}
		}
	}()
}

// PurgeDeleted removes records soft-deleted before cutoff and returns how many went.
func PurgeDeleted(ctx context.Context, db *sql.DB, cutoff time.Time, log *zap.Logger) (int64, error) {
	res, err := db.ExecContext(ctx, `
        DELETE FROM records
         WHERE deleted = true
           AND deleted_at < $1
    `, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	if rows > 0 {
		log.Info("purged soft-deleted records", zap.Int64("removed", rows))
	}
	return rows, nil
}
