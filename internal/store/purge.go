package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fknsrs.biz/p/feedsync/internal/retention"
	"fknsrs.biz/p/feedsync/internal/sqltypes"
	"fknsrs.biz/p/feedsync/internal/upstream"
)

// SnapshotRetention is how long view count snapshots are kept. It covers the
// weekly delta with a day to spare.
const SnapshotRetention = time.Hour * 24 * 8

type PurgeResult struct {
	Deleted          int64     `json:"deleted"`
	Cutoff           time.Time `json:"cutoff"`
	VODCutoff        time.Time `json:"vodCutoff"`
	SnapshotsDeleted int64     `json:"snapshotsDeleted"`
}

// Purge deletes videos published strictly before the retention cutoff. VOD
// rows get graceDays extra. Snapshots older than SnapshotRetention or
// belonging to deleted videos go too.
func (s *Store) Purge(ctx context.Context, now time.Time, windowDays, graceDays int) (*PurgeResult, error) {
	cutoff, vodCutoff := retention.PurgeCutoffs(now, windowDays, graceDays)

	res := PurgeResult{Cutoff: cutoff, VODCutoff: vodCutoff}

	if err := s.usingTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		r, err := tx.ExecContext(
			ctx,
			"delete from videos where (content_type != ? and published_at < ?) or (content_type = ? and published_at < ?)",
			string(upstream.ContentVOD),
			sqltypes.Time(cutoff),
			string(upstream.ContentVOD),
			sqltypes.Time(vodCutoff),
		)
		if err != nil {
			return err
		}
		if res.Deleted, err = r.RowsAffected(); err != nil {
			return err
		}

		r, err = tx.ExecContext(
			ctx,
			"delete from video_view_snapshots where captured_at < ? or video_id not in (select video_id from videos)",
			sqltypes.Time(now.Add(-SnapshotRetention)),
		)
		if err != nil {
			return err
		}
		if res.SnapshotsDeleted, err = r.RowsAffected(); err != nil {
			return err
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("store.Store.Purge: %w", err)
	}

	return &res, nil
}
