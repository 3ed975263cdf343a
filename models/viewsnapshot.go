package models

import (
	"time"

	"fknsrs.biz/p/feedsync/internal/sqlbuilderutil"
)

var (
	VideoViewSnapshotTable *sqlbuilderutil.Table
)

func init() {
	VideoViewSnapshotTable = sqlbuilderutil.MustMakeTable(VideoViewSnapshot{})
}

type VideoViewSnapshot struct {
	ID         int `sql:",table:video_view_snapshots"`
	VideoID    string
	CapturedAt time.Time
	ViewCount  int64
}
